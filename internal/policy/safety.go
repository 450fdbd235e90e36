package policy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// SafetyClassifier labels a message safe or blocked. prior holds the
// earlier patient turns of the same conversation, oldest first.
type SafetyClassifier interface {
	Classify(ctx context.Context, message string, prior []Turn) (ClassificationResult, error)
}

type Strategy string

const (
	StrategyKeyword Strategy = "keyword"
	StrategyRegex   Strategy = "regex"
	// StrategyCueContext needs a cue in the current message and a context
	// match in the current message or a recent patient turn.
	StrategyCueContext Strategy = "cue_context"
)

// contextWindow is how many prior patient turns a cue_context rule reads.
const contextWindow = 3

// Rule is one entry of the ordered safety rule set.
type Rule struct {
	Name     string   `yaml:"name" json:"name"`
	Strategy Strategy `yaml:"strategy" json:"strategy"`
	Patterns []string `yaml:"patterns" json:"patterns"`
	Context  []string `yaml:"context,omitempty" json:"context,omitempty"`
	Verdict  string   `yaml:"verdict" json:"verdict"`
	Weight   float64  `yaml:"weight" json:"weight"`
}

type compiledRule struct {
	Rule
	patterns []*regexp.Regexp
	context  []*regexp.Regexp
}

// RuleSafetyClassifier evaluates every rule in order. A blocked match can
// never be outweighed by safe matches.
type RuleSafetyClassifier struct {
	rules []compiledRule
}

func NewRuleSafetyClassifier(rules []Rule) (*RuleSafetyClassifier, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		c, err := compileRule(rule)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, c)
	}
	return &RuleSafetyClassifier{rules: compiled}, nil
}

func compileRule(rule Rule) (compiledRule, error) {
	if strings.TrimSpace(rule.Name) == "" {
		return compiledRule{}, fmt.Errorf("policy: safety rule without a name")
	}
	if rule.Verdict != LabelBlocked && rule.Verdict != LabelSafe {
		return compiledRule{}, fmt.Errorf("policy: rule %s: verdict must be %q or %q", rule.Name, LabelBlocked, LabelSafe)
	}
	if len(rule.Patterns) == 0 {
		return compiledRule{}, fmt.Errorf("policy: rule %s: no patterns", rule.Name)
	}
	if rule.Weight <= 0 || rule.Weight > 1 {
		return compiledRule{}, fmt.Errorf("policy: rule %s: weight must be in (0,1]", rule.Name)
	}

	c := compiledRule{Rule: rule}
	var err error
	switch rule.Strategy {
	case StrategyKeyword:
		c.patterns, err = compileKeywords(rule.Patterns)
	case StrategyRegex:
		c.patterns, err = compileRegexes(rule.Patterns)
	case StrategyCueContext:
		if len(rule.Context) == 0 {
			return compiledRule{}, fmt.Errorf("policy: rule %s: cue_context needs context patterns", rule.Name)
		}
		if c.patterns, err = compileRegexes(rule.Patterns); err == nil {
			c.context, err = compileRegexes(rule.Context)
		}
	default:
		return compiledRule{}, fmt.Errorf("policy: rule %s: unknown strategy %q", rule.Name, rule.Strategy)
	}
	if err != nil {
		return compiledRule{}, fmt.Errorf("policy: rule %s: %w", rule.Name, err)
	}
	return c, nil
}

// compileKeywords turns phrases into case-insensitive whole-word matchers.
func compileKeywords(words []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func compileRegexes(exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func anyMatch(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (r compiledRule) matches(message string, prior []Turn) bool {
	if !anyMatch(r.patterns, message) {
		return false
	}
	if r.Strategy != StrategyCueContext {
		return true
	}
	if anyMatch(r.context, message) {
		return true
	}
	start := len(prior) - contextWindow
	if start < 0 {
		start = 0
	}
	for _, turn := range prior[start:] {
		if anyMatch(r.context, turn.Text) {
			return true
		}
	}
	return false
}

// Classify never fails; the error return satisfies SafetyClassifier.
func (c *RuleSafetyClassifier) Classify(_ context.Context, message string, prior []Turn) (ClassificationResult, error) {
	var (
		matched      []string
		blockedCount int
		blockedMax   float64
		safeMax      float64
	)
	for _, rule := range c.rules {
		if !rule.matches(message, prior) {
			continue
		}
		matched = append(matched, rule.Name)
		if rule.Verdict == LabelBlocked {
			blockedCount++
			if rule.Weight > blockedMax {
				blockedMax = rule.Weight
			}
		} else if rule.Weight > safeMax {
			safeMax = rule.Weight
		}
	}

	if blockedCount > 0 {
		score := blockedMax + 0.05*float64(blockedCount-1)
		if score > 1 {
			score = 1
		}
		return ClassificationResult{Label: LabelBlocked, Confidence: score, Matched: matched}, nil
	}
	confidence := 0.6
	if safeMax > confidence {
		confidence = safeMax
	}
	return ClassificationResult{Label: LabelSafe, Confidence: confidence, Matched: matched}, nil
}

// HybridSafetyClassifier consults Model only when Rules call a message
// safe. A model error is returned as is so the caller can fail safe.
type HybridSafetyClassifier struct {
	Rules SafetyClassifier
	Model SafetyClassifier
}

func (h *HybridSafetyClassifier) Classify(ctx context.Context, message string, prior []Turn) (ClassificationResult, error) {
	res, err := h.Rules.Classify(ctx, message, prior)
	if err != nil || res.Blocked() || h.Model == nil {
		return res, err
	}
	modelRes, err := h.Model.Classify(ctx, message, prior)
	if err != nil {
		return ClassificationResult{}, err
	}
	modelRes.Matched = append(res.Matched, modelRes.Matched...)
	return modelRes, nil
}

// DefaultSafetyRules blocks medication, dosing, diagnosis and treatment
// questions. Urgent symptoms are annotated but not blocked on their own.
func DefaultSafetyRules() []Rule {
	return []Rule{
		{
			Name:     "medication-named",
			Strategy: StrategyKeyword,
			Patterns: []string{
				"antibiotic", "antibiotics", "amoxicillin", "penicillin", "clindamycin", "azithromycin",
				"ibuprofen", "acetaminophen", "tylenol", "advil", "aspirin", "naproxen",
				"painkiller", "painkillers", "prescription", "prescribe", "opioid", "opioids",
				"medicine", "medicines", "medication", "medications", "meds",
				"pain reliever", "pain relievers", "numbing gel", "orajel",
			},
			Verdict: LabelBlocked,
			Weight:  0.9,
		},
		{
			Name:     "dosing",
			Strategy: StrategyRegex,
			Patterns: []string{
				`(?i)\b(dose|doses|dosage|dosing|milligrams?|\d+\s?mg)\b`,
				`(?i)\bhow (much|many|often)\b.*\b(take|taking|pills?|tablets?)\b`,
			},
			Verdict: LabelBlocked,
			Weight:  0.9,
		},
		{
			Name:     "treatment-question",
			Strategy: StrategyCueContext,
			Patterns: []string{
				`(?i)\b(should i|is it safe|safe to|ok to|okay to|what (can|should) i (take|use|do)|can i (take|use|have|put)|recommend|recommended|best (for|to)|side effects?|interactions?|mix with|stop taking)\b`,
			},
			Context: []string{
				`(?i)\b(pills?|tablets?|take|taking|swelling|swollen|infection|infected|abscess|fever|pain|painful|bleeding|toothache|hurts?|sore|extraction|extracted|pulled|stitches|socket|rinse|rinsing|salt water|mouthwash|numb|numbness|sensitive|sensitivity|ache|aching|throbbing|ice|heat)\b`,
			},
			Verdict: LabelBlocked,
			Weight:  0.8,
		},
		{
			Name:     "diagnosis-request",
			Strategy: StrategyRegex,
			Patterns: []string{
				`(?i)\bis (this|it|that) (an? )?(infection|infected|abscess|serious|normal|broken|cracked)\b`,
				`(?i)\bdo i (have|need) (an? )?(infection|abscess|root canal|antibiotics?|extraction)\b`,
				`(?i)\b(diagnose|diagnosis)\b`,
			},
			Verdict: LabelBlocked,
			Weight:  0.75,
		},
		{
			Name:     "urgent-symptoms",
			Strategy: StrategyKeyword,
			Patterns: []string{"severe swelling", "fever", "trouble swallowing", "trouble breathing", "can't breathe"},
			Verdict:  LabelSafe,
			Weight:   0.5,
		},
	}
}
