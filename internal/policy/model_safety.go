package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/dental-frontdesk/internal/llm"
)

const safetySystemPrompt = `You screen messages sent to a dental clinic front desk.
Answer BLOCKED if answering would require medical or dental advice: diagnosis,
medication, dosage, treatment choices, or whether a symptom is serious.
Answer SAFE for scheduling, callbacks, office information and small talk.
Reply with exactly one word: SAFE or BLOCKED.`

// ModelSafetyClassifier asks a language model for a verdict. Anything but
// a clear SAFE or BLOCKED answer is an error.
type ModelSafetyClassifier struct {
	client  llm.Client
	model   string
	timeout time.Duration
}

func NewModelSafetyClassifier(client llm.Client, model string, timeout time.Duration) *ModelSafetyClassifier {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &ModelSafetyClassifier{client: client, model: model, timeout: timeout}
}

func (c *ModelSafetyClassifier) Classify(ctx context.Context, message string, prior []Turn) (ClassificationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var messages []llm.Message
	start := len(prior) - contextWindow
	if start < 0 {
		start = 0
	}
	for _, turn := range prior[start:] {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: "Earlier message: " + turn.Text})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: "Message to screen: " + message})

	resp, err := c.client.Complete(ctx, llm.Request{
		Model:       c.model,
		System:      []string{safetySystemPrompt},
		Messages:    messages,
		MaxTokens:   4,
		Temperature: 0,
	})
	if err != nil {
		return ClassificationResult{}, fmt.Errorf("policy: safety model: %w", err)
	}
	return parseVerdict(resp.Text)
}

func parseVerdict(text string) (ClassificationResult, error) {
	word := strings.ToUpper(strings.Trim(strings.TrimSpace(text), ".!\"'`"))
	switch word {
	case "BLOCKED":
		return ClassificationResult{Label: LabelBlocked, Confidence: 0.8, Matched: []string{"safety-model"}}, nil
	case "SAFE":
		return ClassificationResult{Label: LabelSafe, Confidence: 0.7}, nil
	default:
		return ClassificationResult{}, fmt.Errorf("%w: %q", ErrUnparseableVerdict, text)
	}
}
