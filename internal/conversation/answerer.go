package conversation

import (
	"context"
	"fmt"
	"regexp"

	"github.com/wolfman30/dental-frontdesk/internal/policy"
)

// Answerer writes the reply for questions the policy allows answering
// directly. The engine only calls it after the safety gate passed.
type Answerer interface {
	Answer(ctx context.Context, conv *policy.Conversation, question string) (string, error)
}

type faqEntry struct {
	pattern *regexp.Regexp
	answer  string
}

// StaticAnswerer answers a handful of front-desk questions and otherwise
// offers a callback.
type StaticAnswerer struct {
	practice string
	entries  []faqEntry
}

func NewStaticAnswerer(practice string) *StaticAnswerer {
	return &StaticAnswerer{
		practice: practice,
		entries: []faqEntry{
			{regexp.MustCompile(`(?i)\b(hours|open|closed|close)\b`), "Our front desk can confirm today's hours. Would you like a callback to set up a visit?"},
			{regexp.MustCompile(`(?i)\b(insurance|accept|coverage|ppo|hmo)\b`), "We work with many dental insurance plans. Our team can check your coverage when they call. Would you like a callback?"},
			{regexp.MustCompile(`(?i)\b(price|prices|cost|costs|how much)\b`), "Costs depend on your treatment and coverage, so our team will go over them with you. Would you like a callback?"},
			{regexp.MustCompile(`(?i)\b(where|address|located|location|parking|directions)\b`), "Our team can send you directions and parking details. Would you like a callback?"},
		},
	}
}

func (a *StaticAnswerer) Answer(_ context.Context, _ *policy.Conversation, question string) (string, error) {
	for _, e := range a.entries {
		if e.pattern.MatchString(question) {
			return e.answer, nil
		}
	}
	return fmt.Sprintf("Good question. A team member at %s can help with that. Would you like us to call you back?", a.practice), nil
}
