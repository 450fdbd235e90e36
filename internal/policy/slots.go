package policy

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxNameLength = 80

// ExtractRequest carries the message plus what the conversation is
// currently waiting for. Awaiting loosens the name and phone matchers.
type ExtractRequest struct {
	Text     string
	Intent   Intent
	Awaiting Slot
}

// SlotExtractor pulls callback details out of one message. A malformed
// value is reported as *MalformedSlotValueError alongside whatever valid
// slots were found.
type SlotExtractor interface {
	Extract(req ExtractRequest) (Slots, error)
}

var (
	phoneShapeRE = regexp.MustCompile(`\+?\(?\d[\d\s().-]*\d`)
	namePhraseRE = regexp.MustCompile(`(?i)\b(?:my name is|my name's|name is|name:)\s+([a-z][a-z'.\- ]*)`)
	// introRE phrases also start ordinary sentences ("this is about..."), so
	// they only yield a name when it is capitalized or was asked for.
	introRE = regexp.MustCompile(`(?i)\b(?:this is|it's|it is|i am|i'm|im)\s+([a-z][a-z'.\- ]*)`)
	nameCutRE    = regexp.MustCompile(`(?i)[.,;!?]|\s(?:and|my|here|from|calling|at|about|please|phone|number)\b`)
	bareNameRE   = regexp.MustCompile(`^[\p{L}][\p{L}'.\-]*(?:\s+[\p{L}][\p{L}'.\-]*){0,3}$`)
	timeRE       = regexp.MustCompile(`(?i)\b(?:(?:this|tomorrow|today|next)\s+(?:morning|afternoon|evening|week)|(?:mon|tues|wednes|thurs|fri|satur|sun)day(?:\s+(?:morning|afternoon|evening))?|(?:after|before|around|at)\s+\d{1,2}(?::\d{2})?\s*(?:am|pm)?|\d{1,2}(?::\d{2})?\s*(?:am|pm)|today|tonight|tomorrow|next week|mornings?|afternoons?|evenings?|any\s?time|asap|whenever)\b`)
	reasonRE     = regexp.MustCompile(`(?i)\b(cleaning|check-?up|exam|filling|crown|root canal|extraction|whitening|implants?|braces|invisalign|toothache|tooth pain|broken tooth|chipped tooth|emergency|consultation|x-?rays?|billing|insurance|dentures?|veneers?)\b`)
	aboutRE      = regexp.MustCompile(`(?i)\b(?:about|regarding|for)\s+(?:my|a|an|the)\s+([a-z][a-z \-]{2,40})`)
)

// nameStopwords are words that follow "I'm" or "this is" without being a name.
var nameStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "not": true, "calling": true, "looking": true,
	"wondering": true, "interested": true, "trying": true, "having": true, "in": true,
	"sure": true, "here": true, "just": true, "available": true, "free": true, "asking": true,
	"about": true, "still": true, "so": true, "very": true, "really": true, "new": true,
	"your": true, "my": true, "it": true, "that": true, "hoping": true,
	"yes": true, "no": true, "ok": true, "okay": true, "thanks": true, "thank": true,
	"hi": true, "hello": true, "hey": true, "sorry": true, "fine": true, "good": true,
	"call": true, "please": true, "me": true, "urgent": true, "wanting": true,
	"needing": true, "worried": true, "scared": true, "concerned": true, "afraid": true,
	"been": true, "getting": true, "hurting": true, "bad": true, "worse": true,
	"back": true, "ready": true, "going": true, "able": true, "unable": true, "currently": true,
}

// PatternSlotExtractor is the default rule-based extractor.
type PatternSlotExtractor struct{}

func NewSlotExtractor() *PatternSlotExtractor {
	return &PatternSlotExtractor{}
}

func (e *PatternSlotExtractor) Extract(req ExtractRequest) (Slots, error) {
	text := strings.TrimSpace(req.Text)
	slots := Slots{}
	var malformed *MalformedSlotValueError

	phone, phoneErr := extractPhone(text, req.Awaiting == SlotPhone)
	if phone != "" {
		slots[SlotPhone] = phone
	}
	if phoneErr != nil {
		malformed = phoneErr
	}

	name, nameErr := extractName(text, req.Awaiting == SlotName)
	if name != "" {
		slots[SlotName] = name
	}
	if nameErr != nil && (malformed == nil || req.Awaiting == SlotName) {
		malformed = nameErr
	}

	if m := timeRE.FindString(text); m != "" {
		slots[SlotPreferredTime] = strings.ToLower(strings.Join(strings.Fields(m), " "))
	}
	if reason := extractReason(text); reason != "" {
		slots[SlotReason] = reason
	}

	if malformed != nil {
		return slots, malformed
	}
	return slots, nil
}

// extractPhone returns the first valid number as E.164. Digit runs shorter
// than seven are ignored unless a phone number was asked for, so dates and
// times do not trip validation.
func extractPhone(text string, awaiting bool) (string, *MalformedSlotValueError) {
	minDigits := 7
	if awaiting {
		minDigits = 3
	}
	var bad *MalformedSlotValueError
	for _, candidate := range phoneShapeRE.FindAllString(text, -1) {
		digits := onlyDigits(candidate)
		if len(digits) < minDigits {
			continue
		}
		if normalized, ok := normalizePhone(digits); ok {
			return normalized, nil
		}
		if bad == nil {
			bad = &MalformedSlotValueError{
				Slot:   SlotPhone,
				Value:  strings.TrimSpace(candidate),
				Reason: "phone numbers need 10 to 15 digits",
			}
		}
	}
	return "", bad
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizePhone assumes North America for ten digit numbers.
func normalizePhone(digits string) (string, bool) {
	switch {
	case len(digits) == 10:
		return "+1" + digits, true
	case len(digits) >= 11 && len(digits) <= 15:
		return "+" + digits, true
	default:
		return "", false
	}
}

func extractName(text string, awaiting bool) (string, *MalformedSlotValueError) {
	if m := namePhraseRE.FindStringSubmatch(text); m != nil {
		if name, ok := nameFromPhrase(m[1]); ok {
			return name, nil
		}
	}
	for _, m := range introRE.FindAllStringSubmatch(text, -1) {
		first, _ := utf8.DecodeRuneInString(m[1])
		if !awaiting && !unicode.IsUpper(first) {
			continue
		}
		if name, ok := nameFromPhrase(m[1]); ok {
			return name, nil
		}
	}
	if !awaiting {
		return "", nil
	}

	bare := strings.Trim(text, " .,!;:")
	if bare == "" || phoneShapeRE.MatchString(bare) && len(onlyDigits(bare)) >= 7 {
		return "", nil
	}
	if utf8.RuneCountInString(bare) > maxNameLength {
		return "", &MalformedSlotValueError{Slot: SlotName, Value: bare, Reason: "name is too long"}
	}
	if len(strings.Fields(bare)) <= 4 && strings.IndexFunc(bare, unicode.IsDigit) >= 0 {
		return "", &MalformedSlotValueError{Slot: SlotName, Value: bare, Reason: "names cannot contain digits"}
	}
	if !bareNameRE.MatchString(bare) || timeRE.MatchString(bare) || reasonRE.MatchString(bare) {
		return "", nil
	}
	for _, word := range strings.Fields(bare) {
		if nameStopwords[strings.ToLower(word)] || looksLikeVerb(word) {
			return "", nil
		}
	}
	name, _ := cleanName(bare)
	return name, nil
}

// nameFromPhrase keeps the words after an introduction up to the first one
// that cannot be part of a name.
func nameFromPhrase(candidate string) (string, bool) {
	if loc := nameCutRE.FindStringIndex(candidate); loc != nil {
		candidate = candidate[:loc[0]]
	}
	var kept []string
	for _, word := range strings.Fields(candidate) {
		if notNameWord(word) {
			break
		}
		kept = append(kept, word)
	}
	if len(kept) == 0 {
		return "", false
	}
	return cleanName(strings.Join(kept, " "))
}

func notNameWord(word string) bool {
	lower := strings.ToLower(strings.Trim(word, ".'-"))
	return lower == "" ||
		nameStopwords[lower] ||
		timeRE.MatchString(lower) ||
		reasonRE.MatchString(lower) ||
		looksLikeVerb(word)
}

// looksLikeVerb flags lowercase -ing words ("experiencing", "regarding").
// Capitalized ones are left alone for names like Sterling.
func looksLikeVerb(word string) bool {
	first, _ := utf8.DecodeRuneInString(word)
	lower := strings.ToLower(word)
	return !unicode.IsUpper(first) && utf8.RuneCountInString(lower) > 4 && strings.HasSuffix(lower, "ing")
}

// cleanName title-cases a candidate and rejects stopwords and overlong values.
func cleanName(candidate string) (string, bool) {
	fields := strings.Fields(strings.Trim(candidate, " .'-"))
	if len(fields) == 0 || len(fields) > 4 {
		return "", false
	}
	lower := strings.ToLower(strings.Join(fields, " "))
	if nameStopwords[lower] || nameStopwords[strings.ToLower(fields[0])] {
		return "", false
	}
	for i, f := range fields {
		r, size := utf8.DecodeRuneInString(f)
		fields[i] = string(unicode.ToUpper(r)) + f[size:]
	}
	name := strings.Join(fields, " ")
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", false
	}
	return name, true
}

func extractReason(text string) string {
	if m := reasonRE.FindString(text); m != "" {
		return strings.ToLower(m)
	}
	if m := aboutRE.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(strings.ToLower(m[1]))
	}
	return ""
}
