package policy

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const DefaultMaxMessageLength = 2000

// Normalizer cleans raw patient text before any classification.
type Normalizer struct {
	maxLength int
}

func NewNormalizer(maxLength int) *Normalizer {
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	return &Normalizer{maxLength: maxLength}
}

// Normalize drops invalid UTF-8 and control or format characters, turns
// line breaks and tabs into spaces, collapses whitespace and trims. The
// length limit is checked in runes on the cleaned text.
func (n *Normalizer) Normalize(raw string) (string, error) {
	raw = strings.ToValidUTF8(raw, "")
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			b.WriteRune(' ')
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
		default:
			b.WriteRune(r)
		}
	}
	text := strings.Join(strings.Fields(b.String()), " ")
	if text == "" {
		return "", &EmptyInputError{}
	}
	if length := utf8.RuneCountInString(text); length > n.maxLength {
		return "", &OversizeInputError{Length: length, Limit: n.maxLength}
	}
	return text, nil
}
