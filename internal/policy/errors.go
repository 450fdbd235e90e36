package policy

import (
	"errors"
	"fmt"
)

var (
	// ErrConversationClosed is returned for events on Escalated or Closed conversations.
	ErrConversationClosed = errors.New("policy: conversation is closed")
	// ErrNotReadyToEscalate is returned when a task is requested before the
	// conversation reached ReadyToEscalate.
	ErrNotReadyToEscalate = errors.New("policy: conversation is not ready to escalate")
	// ErrUnparseableVerdict is returned when a safety model answers with
	// something other than SAFE or BLOCKED.
	ErrUnparseableVerdict = errors.New("policy: unparseable safety verdict")
)

// EmptyInputError means the message had nothing left after normalization.
type EmptyInputError struct{}

func (e *EmptyInputError) Error() string {
	return "policy: message is empty"
}

type OversizeInputError struct {
	Length int
	Limit  int
}

func (e *OversizeInputError) Error() string {
	return fmt.Sprintf("policy: message is %d characters, limit is %d", e.Length, e.Limit)
}

// MalformedSlotValueError carries a slot value that was recognized but
// failed validation.
type MalformedSlotValueError struct {
	Slot   Slot
	Value  string
	Reason string
}

func (e *MalformedSlotValueError) Error() string {
	return fmt.Sprintf("policy: malformed %s %q: %s", e.Slot, e.Value, e.Reason)
}

// IsInputError reports whether err is an empty or oversize input error.
func IsInputError(err error) bool {
	var empty *EmptyInputError
	var oversize *OversizeInputError
	return errors.As(err, &empty) || errors.As(err, &oversize)
}
