package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultSafety(t *testing.T) *RuleSafetyClassifier {
	t.Helper()
	c, err := NewRuleSafetyClassifier(DefaultSafetyRules())
	require.NoError(t, err)
	return c
}

func patientTurns(texts ...string) []Turn {
	turns := make([]Turn, 0, len(texts))
	for _, text := range texts {
		turns = append(turns, Turn{Role: RolePatient, Text: text})
	}
	return turns
}

func TestRuleSafetyClassifier(t *testing.T) {
	c := defaultSafety(t)
	tests := []struct {
		name    string
		message string
		prior   []Turn
		label   string
		matched []string
	}{
		{"antibiotic question", "Should I take antibiotics for my tooth?", nil, LabelBlocked, []string{"medication-named", "treatment-question"}},
		{"dosing question", "How much ibuprofen can I take?", nil, LabelBlocked, []string{"medication-named", "dosing", "treatment-question"}},
		{"generic medicine recommendation", "What medicine do you recommend for a toothache?", nil, LabelBlocked, []string{"medication-named", "treatment-question"}},
		{"best medication", "Which medication is best for tooth pain?", nil, LabelBlocked, []string{"medication-named", "treatment-question"}},
		{"aftercare question", "Should I rinse with salt water after an extraction?", nil, LabelBlocked, []string{"treatment-question"}},
		{"unnamed remedy", "Can I take something for the swelling tonight?", nil, LabelBlocked, []string{"treatment-question"}},
		{"meds shorthand", "do my meds matter for the cleaning", nil, LabelBlocked, []string{"medication-named"}},
		{"dosage with units", "is 500mg too much", nil, LabelBlocked, []string{"dosing"}},
		{"diagnosis request", "Is this an infection?", nil, LabelBlocked, []string{"diagnosis-request"}},
		{"context from prior turn", "What should I do?", patientTurns("My tooth hurts a lot"), LabelBlocked, []string{"treatment-question"}},
		{"cue without context", "What should I do?", nil, LabelSafe, nil},
		{"callback request", "Can someone call me back about my cleaning?", nil, LabelSafe, nil},
		{"scheduling", "I need to book a cleaning next week", nil, LabelSafe, nil},
		{"keywords match whole words", "Do you partner with a medspa?", nil, LabelSafe, nil},
		{"urgent symptom only annotates", "I have a fever, can you call me back", nil, LabelSafe, []string{"urgent-symptoms"}},
		{"annotation never downgrades", "I have a fever, should I take ibuprofen?", nil, LabelBlocked, []string{"medication-named", "treatment-question", "urgent-symptoms"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Classify(context.Background(), tt.message, tt.prior)
			require.NoError(t, err)
			assert.Equal(t, tt.label, res.Label)
			assert.Equal(t, tt.matched, res.Matched)
			assert.GreaterOrEqual(t, res.Confidence, 0.0)
			assert.LessOrEqual(t, res.Confidence, 1.0)
		})
	}
}

func TestRuleSafetyConfidence(t *testing.T) {
	c := defaultSafety(t)

	res, _ := c.Classify(context.Background(), "Should I take antibiotics for my tooth?", nil)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)

	res, _ = c.Classify(context.Background(), "Is this an infection?", nil)
	assert.InDelta(t, 0.75, res.Confidence, 1e-9)

	res, _ = c.Classify(context.Background(), "hello", nil)
	assert.InDelta(t, 0.6, res.Confidence, 1e-9)
}

func TestCueContextWindow(t *testing.T) {
	c := defaultSafety(t)
	prior := patientTurns("my gum is swollen", "ok", "thanks", "sure")

	res, err := c.Classify(context.Background(), "What should I do?", prior)
	require.NoError(t, err)
	assert.Equal(t, LabelSafe, res.Label, "context older than the window is ignored")

	res, err = c.Classify(context.Background(), "What should I do?", prior[:2])
	require.NoError(t, err)
	assert.Equal(t, LabelBlocked, res.Label)
}

func TestNewRuleSafetyClassifierRejectsBadRules(t *testing.T) {
	valid := Rule{Name: "r", Strategy: StrategyKeyword, Patterns: []string{"x"}, Verdict: LabelBlocked, Weight: 0.5}
	tests := []struct {
		name   string
		mutate func(r *Rule)
	}{
		{"missing name", func(r *Rule) { r.Name = "" }},
		{"bad verdict", func(r *Rule) { r.Verdict = "maybe" }},
		{"no patterns", func(r *Rule) { r.Patterns = nil }},
		{"weight out of range", func(r *Rule) { r.Weight = 1.5 }},
		{"unknown strategy", func(r *Rule) { r.Strategy = "vibes" }},
		{"bad regex", func(r *Rule) { r.Strategy = StrategyRegex; r.Patterns = []string{"("} }},
		{"cue without context", func(r *Rule) { r.Strategy = StrategyCueContext }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			_, err := NewRuleSafetyClassifier([]Rule{r})
			assert.Error(t, err)
		})
	}

	_, err := NewRuleSafetyClassifier([]Rule{valid})
	assert.NoError(t, err)
}

type stubSafety struct {
	res   ClassificationResult
	err   error
	calls int
}

func (s *stubSafety) Classify(context.Context, string, []Turn) (ClassificationResult, error) {
	s.calls++
	return s.res, s.err
}

func TestHybridSafetyClassifier(t *testing.T) {
	ctx := context.Background()

	t.Run("rules block without asking the model", func(t *testing.T) {
		model := &stubSafety{res: ClassificationResult{Label: LabelSafe}}
		h := &HybridSafetyClassifier{Rules: defaultSafety(t), Model: model}
		res, err := h.Classify(ctx, "Should I take amoxicillin?", nil)
		require.NoError(t, err)
		assert.True(t, res.Blocked())
		assert.Zero(t, model.calls)
	})

	t.Run("model can block what rules allow", func(t *testing.T) {
		model := &stubSafety{res: ClassificationResult{Label: LabelBlocked, Confidence: 0.8, Matched: []string{"safety-model"}}}
		h := &HybridSafetyClassifier{Rules: defaultSafety(t), Model: model}
		res, err := h.Classify(ctx, "my crown fell out, what now", nil)
		require.NoError(t, err)
		assert.True(t, res.Blocked())
		assert.Equal(t, []string{"safety-model"}, res.Matched)
	})

	t.Run("model failure surfaces", func(t *testing.T) {
		model := &stubSafety{err: errors.New("timeout")}
		h := &HybridSafetyClassifier{Rules: defaultSafety(t), Model: model}
		_, err := h.Classify(ctx, "hello", nil)
		assert.Error(t, err)
	})
}
