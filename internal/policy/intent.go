package policy

import (
	"regexp"
	"strings"
)

// IntentClassifier maps a normalized message to one intent label.
type IntentClassifier interface {
	Classify(message string) ClassificationResult
}

type intentGroup struct {
	intent   Intent
	base     float64
	patterns []*regexp.Regexp
}

// PatternIntentClassifier checks groups in priority order and returns the
// first group with a match.
type PatternIntentClassifier struct {
	groups []intentGroup
}

func NewIntentClassifier() *PatternIntentClassifier {
	return &PatternIntentClassifier{groups: []intentGroup{
		{
			intent: IntentCallback,
			base:   0.75,
			patterns: compileAll(
				`(?i)\bcall\s*(me\s*)?(back|please)\b`,
				`(?i)\bcall\s*-?\s*back\b`,
				`(?i)\bprefer\s*(a\s*)?call\b`,
				`(?i)\brather\s*(talk|speak|call)\b`,
				`(?i)\bcan\s*(you|someone|somebody)\s*(please\s*)?(call|phone|ring)\s*(me)?\b`,
				`(?i)\b(want|need|like)\s*(a\s*)?(call|phone call)\b`,
				`(?i)\bgive\s*me\s*a\s*(call|ring)\b`,
				`(?i)\b(speak|talk)\s*(to|with)\s*(someone|somebody|a\s*person|a\s*human|staff)\b`,
				`(?i)\b(reach|contact)\s*me\b`,
			),
		},
		{
			intent: IntentAppointment,
			base:   0.75,
			patterns: compileAll(
				`(?i)\b(appointment|appt|book|booking|schedule|reschedule)\b`,
				`(?i)\b(come in|get in|be seen|see (a|the) dentist|see dr\.?)\b`,
				`(?i)\b(cleaning|check-?up|exam|consultation|whitening|filling)\b`,
			),
		},
		{
			intent: IntentGeneral,
			base:   0.7,
			patterns: compileAll(
				`(?i)\b(hours|open|closed|insurance|accept|price|prices|cost|costs|parking|located|location|address|directions)\b`,
				`(?i)^(what|when|where|how|do|does|are|is|can)\b`,
				`\?\s*$`,
			),
		},
	}}
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

func (c *PatternIntentClassifier) Classify(message string) ClassificationResult {
	message = strings.TrimSpace(message)
	for _, g := range c.groups {
		var matched []string
		for _, re := range g.patterns {
			if m := re.FindString(message); m != "" {
				matched = append(matched, strings.ToLower(strings.TrimSpace(m)))
			}
		}
		if len(matched) == 0 {
			continue
		}
		confidence := g.base + 0.05*float64(len(matched))
		if confidence > 0.95 {
			confidence = 0.95
		}
		return ClassificationResult{Label: string(g.intent), Confidence: confidence, Matched: matched}
	}
	return ClassificationResult{Label: string(IntentUnknown), Confidence: 0.3}
}
