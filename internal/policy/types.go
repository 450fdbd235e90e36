// Package policy is the conversation policy core: it normalizes patient
// messages, classifies them, extracts callback details and drives each
// conversation through its states. Nothing here performs I/O except the
// optional model-backed safety classifier.
package policy

import (
	"sort"
	"time"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleSystem  Role = "system"
)

type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

type State string

const (
	StateOpen            State = "open"
	StateCollecting      State = "collecting"
	StateReadyToEscalate State = "ready_to_escalate"
	StateEscalated       State = "escalated"
	StateClosed          State = "closed"
)

// Terminal reports whether the state accepts no further events.
func (s State) Terminal() bool {
	return s == StateEscalated || s == StateClosed
}

type Slot string

const (
	SlotName          Slot = "name"
	SlotPhone         Slot = "phone"
	SlotPreferredTime Slot = "preferred_time"
	SlotReason        Slot = "reason"
)

// Slots maps a slot to its normalized value. Empty values count as missing.
type Slots map[Slot]string

func (s Slots) Clone() Slots {
	out := make(Slots, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge copies every non-empty value from other. Later values win.
func (s Slots) Merge(other Slots) {
	for k, v := range other {
		if v != "" {
			s[k] = v
		}
	}
}

func (s Slots) Has(slot Slot) bool {
	return s[slot] != ""
}

// Missing returns the required slots without a value, in lexical order.
func (s Slots) Missing(required []Slot) []Slot {
	var missing []Slot
	for _, slot := range required {
		if !s.Has(slot) {
			missing = append(missing, slot)
		}
	}
	sortSlots(missing)
	return missing
}

func sortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
}

type Intent string

const (
	IntentAppointment Intent = "appointment_request"
	IntentCallback    Intent = "callback_request"
	IntentGeneral     Intent = "general_question"
	IntentUnknown     Intent = "unknown"
)

const (
	LabelSafe    = "safe"
	LabelBlocked = "blocked"
)

// ClassificationResult is the transient output of a classifier.
type ClassificationResult struct {
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Matched    []string `json:"matched,omitempty"`
}

func (r ClassificationResult) Blocked() bool {
	return r.Label == LabelBlocked
}

type EscalationReason string

const (
	ReasonMedicalAdviceBlock      EscalationReason = "medical-advice-block"
	ReasonExplicitCallbackRequest EscalationReason = "explicit-callback-request"
	ReasonUnresolvedIntent        EscalationReason = "unresolved-intent"
)

// EscalationSnapshot is captured when a conversation enters
// ReadyToEscalate and is what the callback task is built from.
type EscalationSnapshot struct {
	Slots         Slots            `json:"slots"`
	Reason        EscalationReason `json:"reason"`
	LatestMessage string           `json:"latest_message"`
	At            time.Time        `json:"at"`
}

// Conversation is owned by the engine and mutated only through the
// state machine. Blocked is a latch.
type Conversation struct {
	ID           string              `json:"id"`
	Turns        []Turn              `json:"turns"`
	State        State               `json:"state"`
	Slots        Slots               `json:"slots"`
	Blocked      bool                `json:"blocked"`
	ActiveIntent Intent              `json:"active_intent,omitempty"`
	Awaiting     Slot                `json:"awaiting,omitempty"`
	Retries      map[Slot]int        `json:"retries,omitempty"`
	Escalation   *EscalationSnapshot `json:"escalation,omitempty"`
	TaskID       string              `json:"task_id,omitempty"`
	Channel      string              `json:"channel,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func NewConversation(id string, now time.Time) *Conversation {
	return &Conversation{
		ID:        id,
		State:     StateOpen,
		Slots:     Slots{},
		Retries:   map[Slot]int{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendTurn records a turn. Turns are never edited or removed.
func (c *Conversation) AppendTurn(role Role, text string, at time.Time) {
	c.Turns = append(c.Turns, Turn{Role: role, Text: text, At: at})
	c.UpdatedAt = at
}

// PatientTurns returns the patient's turns, oldest first.
func (c *Conversation) PatientTurns() []Turn {
	var out []Turn
	for _, t := range c.Turns {
		if t.Role == RolePatient {
			out = append(out, t)
		}
	}
	return out
}

// ensure fills maps that may be nil after decoding.
func (c *Conversation) ensure() {
	if c.Slots == nil {
		c.Slots = Slots{}
	}
	if c.Retries == nil {
		c.Retries = map[Slot]int{}
	}
	if c.State == "" {
		c.State = StateOpen
	}
}
