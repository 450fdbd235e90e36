package policy

import (
	"strings"
	"time"
	"unicode/utf8"
)

const summaryLimit = 140

// CallbackTask is the staff-facing record of an escalation. It is built
// once from the escalation snapshot and never changed.
type CallbackTask struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Slots          Slots            `json:"slots"`
	Reason         EscalationReason `json:"reason"`
	Summary        string           `json:"summary"`
	PracticeName   string           `json:"practice_name,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// NewCallbackTask builds the task for a conversation in ReadyToEscalate.
// ID is left for the store to assign.
func NewCallbackTask(c *Conversation, practiceName string, now time.Time) (CallbackTask, error) {
	if c.Escalation == nil || (c.State != StateReadyToEscalate && c.State != StateEscalated) {
		return CallbackTask{}, ErrNotReadyToEscalate
	}
	return CallbackTask{
		ConversationID: c.ID,
		Slots:          c.Escalation.Slots.Clone(),
		Reason:         c.Escalation.Reason,
		Summary:        "Callback requested. Latest patient message: " + truncateRunes(c.Escalation.LatestMessage, summaryLimit),
		PracticeName:   practiceName,
		CreatedAt:      now,
	}, nil
}

func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
