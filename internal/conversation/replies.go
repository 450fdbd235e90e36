package conversation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/dental-frontdesk/internal/policy"
)

// ReplyKind tells clients what the reply is doing.
type ReplyKind string

const (
	KindAnswer    ReplyKind = "answer"
	KindPrompt    ReplyKind = "prompt"
	KindClarify   ReplyKind = "clarify"
	KindEscalated ReplyKind = "escalated"
	KindPending   ReplyKind = "pending"
	KindClosed    ReplyKind = "closed"
	KindRephrase  ReplyKind = "rephrase"
)

// replyWriter renders patient-facing text. Wording lives here so the
// state machine stays free of copy.
type replyWriter struct {
	practice string
}

func (w replyWriter) rephrase(err error) string {
	var oversize *policy.OversizeInputError
	if errors.As(err, &oversize) {
		return fmt.Sprintf("That message is a bit long. Could you shorten it to %d characters or fewer?", oversize.Limit)
	}
	return "I didn't catch that. Could you type your message again?"
}

func (w replyWriter) clarify() string {
	return fmt.Sprintf("I can help you book a visit, arrange a callback from our team, or answer general questions about %s. What would you like to do?", w.practice)
}

func (w replyWriter) prompt(slot policy.Slot, slots policy.Slots, malformed *policy.MalformedSlotValueError) string {
	if malformed != nil && malformed.Slot == slot {
		switch slot {
		case policy.SlotPhone:
			return "That phone number doesn't look quite right. Please send the full number including area code, like 555-123-4567."
		case policy.SlotName:
			return "Sorry, I couldn't read that as a name. Please send just your name, using letters only."
		}
	}
	switch slot {
	case policy.SlotName:
		return "Happy to set that up. What name should our team ask for?"
	case policy.SlotPhone:
		if name := firstName(slots[policy.SlotName]); name != "" {
			return fmt.Sprintf("Thanks, %s. What's the best phone number to reach you?", name)
		}
		return "What's the best phone number to reach you?"
	case policy.SlotPreferredTime:
		return "What day or time works best for a call?"
	case policy.SlotReason:
		return "Briefly, what is the call about?"
	default:
		return "Could you tell me a bit more?"
	}
}

func (w replyWriter) escalated(reason policy.EscalationReason, slots policy.Slots) string {
	switch reason {
	case policy.ReasonMedicalAdviceBlock:
		return fmt.Sprintf("I'm not able to give medical or dental advice over chat, so I've asked a team member from %s to follow up with you. "+
			"If you have severe swelling, a fever, or trouble swallowing or breathing, please go to urgent care or call 911 now.", w.practice)
	case policy.ReasonExplicitCallbackRequest:
		msg := "Thanks"
		if name := firstName(slots[policy.SlotName]); name != "" {
			msg += ", " + name
		}
		msg += fmt.Sprintf("! A team member from %s will call you", w.practice)
		if phone := slots[policy.SlotPhone]; phone != "" {
			msg += " at " + phone
		}
		if when := slots[policy.SlotPreferredTime]; when != "" {
			msg += " (" + when + ")"
		}
		return msg + "."
	default:
		return fmt.Sprintf("I'm having trouble getting that down, so I've asked a team member from %s to follow up with you directly.", w.practice)
	}
}

func (w replyWriter) pending() string {
	return "Thanks, I have your details but couldn't reach our team's inbox just now. Please send any message in a moment and I'll try again."
}

func (w replyWriter) ended() string {
	return fmt.Sprintf("Thanks for chatting with %s. Take care!", w.practice)
}

func (w replyWriter) afterClose(state policy.State) string {
	if state == policy.StateEscalated {
		return fmt.Sprintf("A team member from %s already has your request and will be in touch.", w.practice)
	}
	return "This chat has ended. Please start a new conversation if you need anything else."
}

func firstName(name string) string {
	if fields := strings.Fields(name); len(fields) > 0 {
		return fields[0]
	}
	return ""
}
