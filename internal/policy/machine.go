package policy

import (
	"errors"
	"time"
)

type EventKind string

const (
	EventTurn       EventKind = "turn"
	EventSessionEnd EventKind = "session_end"
)

// Event is one input to the state machine. For turns, Safety is always
// set; Intent and Extracted are only set when Safety is not blocked.
type Event struct {
	Kind       EventKind
	Text       string
	Safety     ClassificationResult
	Intent     ClassificationResult
	Extracted  Slots
	ExtractErr error
	At         time.Time
}

type Action string

const (
	ActionAnswer   Action = "answer"
	ActionClarify  Action = "clarify"
	ActionPrompt   Action = "prompt"
	ActionEscalate Action = "escalate"
	ActionClose    Action = "close"
)

// Decision tells the caller what to say and whether to emit a task.
type Decision struct {
	Action     Action
	From       State
	To         State
	PromptSlot Slot
	Reason     EscalationReason
	Malformed  *MalformedSlotValueError
	Retry      bool
}

// StateMachine owns every transition of a Conversation. It is pure: the
// only thing it touches is the conversation passed in.
type StateMachine struct {
	policy Policy
}

func NewStateMachine(p Policy) *StateMachine {
	if p.MaxSlotRetries < 1 {
		p.MaxSlotRetries = DefaultMaxSlotRetries
	}
	return &StateMachine{policy: p}
}

func (m *StateMachine) Apply(c *Conversation, ev Event) (Decision, error) {
	c.ensure()
	if c.State.Terminal() {
		return Decision{From: c.State, To: c.State}, ErrConversationClosed
	}
	switch ev.Kind {
	case EventSessionEnd:
		return m.end(c), nil
	case EventTurn:
		return m.turn(c, ev), nil
	default:
		return Decision{From: c.State, To: c.State}, errors.New("policy: unknown event kind " + string(ev.Kind))
	}
}

func (m *StateMachine) end(c *Conversation) Decision {
	from := c.State
	if from == StateReadyToEscalate {
		// The task is still owed; ending the session does not cancel it.
		return Decision{Action: ActionEscalate, From: from, To: from, Reason: pendingReason(c)}
	}
	c.State = StateClosed
	c.Awaiting = ""
	return Decision{Action: ActionClose, From: from, To: StateClosed}
}

func (m *StateMachine) turn(c *Conversation, ev Event) Decision {
	from := c.State
	if ev.Safety.Blocked() {
		c.Blocked = true
	}
	if from == StateReadyToEscalate {
		return Decision{Action: ActionEscalate, From: from, To: from, Reason: pendingReason(c)}
	}
	if c.Blocked {
		return m.escalate(c, from, ReasonMedicalAdviceBlock, ev)
	}

	c.Slots.Merge(ev.Extracted)

	intent := c.ActiveIntent
	if from == StateOpen {
		intent = Intent(ev.Intent.Label)
		required := m.policy.RequiredSlots(intent)
		if len(required) == 0 {
			if intent == IntentGeneral {
				return Decision{Action: ActionAnswer, From: from, To: StateOpen}
			}
			return Decision{Action: ActionClarify, From: from, To: StateOpen}
		}
		c.ActiveIntent = intent
		c.State = StateCollecting
	}

	required := m.policy.RequiredSlots(intent)
	missing := c.Slots.Missing(required)
	if len(missing) == 0 {
		return m.escalate(c, from, reasonFor(intent), ev)
	}

	var malformed *MalformedSlotValueError
	errors.As(ev.ExtractErr, &malformed)

	target := missing[0]
	retry := false
	if malformed != nil && containsSlot(missing, malformed.Slot) {
		target = malformed.Slot
		retry = true
	}
	if c.Retries[target] >= m.policy.MaxSlotRetries {
		return m.escalate(c, from, ReasonUnresolvedIntent, ev)
	}
	if retry {
		c.Retries[target]++
	}
	c.Awaiting = target
	return Decision{
		Action:     ActionPrompt,
		From:       from,
		To:         StateCollecting,
		PromptSlot: target,
		Malformed:  malformed,
		Retry:      retry,
	}
}

func (m *StateMachine) escalate(c *Conversation, from State, reason EscalationReason, ev Event) Decision {
	c.State = StateReadyToEscalate
	c.Awaiting = ""
	c.Escalation = &EscalationSnapshot{
		Slots:         c.Slots.Clone(),
		Reason:        reason,
		LatestMessage: ev.Text,
		At:            ev.At,
	}
	return Decision{Action: ActionEscalate, From: from, To: StateReadyToEscalate, Reason: reason}
}

// MarkEscalated records the stored task and moves the conversation to
// Escalated. Calling it again on an escalated conversation is a no-op.
func (m *StateMachine) MarkEscalated(c *Conversation, taskID string, at time.Time) error {
	switch c.State {
	case StateEscalated:
		return nil
	case StateReadyToEscalate:
		c.State = StateEscalated
		c.TaskID = taskID
		c.UpdatedAt = at
		return nil
	default:
		return ErrNotReadyToEscalate
	}
}

func pendingReason(c *Conversation) EscalationReason {
	if c.Escalation == nil {
		return ReasonUnresolvedIntent
	}
	return c.Escalation.Reason
}

func reasonFor(intent Intent) EscalationReason {
	switch intent {
	case IntentCallback, IntentAppointment:
		return ReasonExplicitCallbackRequest
	default:
		return ReasonUnresolvedIntent
	}
}

func containsSlot(slots []Slot, slot Slot) bool {
	for _, s := range slots {
		if s == slot {
			return true
		}
	}
	return false
}
