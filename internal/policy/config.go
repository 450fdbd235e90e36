package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const DefaultMaxSlotRetries = 3

// Policy is the tunable part of the conversation engine. It is usually
// loaded from a YAML file and then overridden from the environment.
type Policy struct {
	MaxMessageLength      int               `yaml:"max_message_length"`
	MaxSlotRetries        int               `yaml:"max_slot_retries"`
	RequiredSlotsByIntent map[Intent][]Slot `yaml:"required_slots_by_intent"`
	SafetyRules           []Rule            `yaml:"safety_rules"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxMessageLength: DefaultMaxMessageLength,
		MaxSlotRetries:   DefaultMaxSlotRetries,
		RequiredSlotsByIntent: map[Intent][]Slot{
			IntentAppointment: {SlotName, SlotPhone},
			IntentCallback:    {SlotName, SlotPhone},
		},
		SafetyRules: DefaultSafetyRules(),
	}
}

// LoadPolicyFile reads a YAML policy. Fields the file leaves out keep their
// defaults.
func LoadPolicyFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return ParsePolicy(data)
}

func ParsePolicy(data []byte) (Policy, error) {
	var parsed Policy
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return Policy{}, fmt.Errorf("policy: parse: %w", err)
	}
	p := DefaultPolicy()
	if parsed.MaxMessageLength != 0 {
		p.MaxMessageLength = parsed.MaxMessageLength
	}
	if parsed.MaxSlotRetries != 0 {
		p.MaxSlotRetries = parsed.MaxSlotRetries
	}
	if parsed.RequiredSlotsByIntent != nil {
		p.RequiredSlotsByIntent = parsed.RequiredSlotsByIntent
	}
	if parsed.SafetyRules != nil {
		p.SafetyRules = parsed.SafetyRules
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) Validate() error {
	if p.MaxMessageLength <= 0 {
		return fmt.Errorf("policy: max_message_length must be positive, got %d", p.MaxMessageLength)
	}
	if p.MaxSlotRetries < 1 {
		return fmt.Errorf("policy: max_slot_retries must be at least 1, got %d", p.MaxSlotRetries)
	}
	for intent, slots := range p.RequiredSlotsByIntent {
		switch intent {
		case IntentAppointment, IntentCallback, IntentGeneral, IntentUnknown:
		default:
			return fmt.Errorf("policy: unknown intent %q in required_slots_by_intent", intent)
		}
		for _, slot := range slots {
			switch slot {
			case SlotName, SlotPhone, SlotPreferredTime, SlotReason:
			default:
				return fmt.Errorf("policy: unknown slot %q for intent %s", slot, intent)
			}
		}
	}
	if _, err := NewRuleSafetyClassifier(p.SafetyRules); err != nil {
		return err
	}
	return nil
}

// RequiredSlots returns a sorted copy of the slots the intent needs.
func (p Policy) RequiredSlots(intent Intent) []Slot {
	slots := append([]Slot(nil), p.RequiredSlotsByIntent[intent]...)
	sortSlots(slots)
	return slots
}
