// Package sanitize cleans user input before it is sent to the chat backend.
package sanitize

import (
	"strings"

	"github.com/soyeahso/chatwidget/internal/domain"
)

// DefaultMaxLength is the widget's default message length limit, in runes.
const DefaultMaxLength = 2000

var entities = map[rune]string{
	'<':  "&lt;",
	'>':  "&gt;",
	'"':  "&quot;",
	'\'': "&#x27;",
	'&':  "&amp;",
}

// Sanitizer truncates and HTML-escapes message text.
// It is stateless and safe for concurrent use.
type Sanitizer struct {
	maxLength int
}

// New creates a Sanitizer with the given rune limit.
// A non-positive limit falls back to DefaultMaxLength.
func New(maxLength int) *Sanitizer {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Sanitizer{maxLength: maxLength}
}

// MaxLength returns the configured rune limit.
func (s *Sanitizer) MaxLength() int { return s.maxLength }

// Sanitize truncates input to the rune limit, escapes the five HTML-special
// characters and trims surrounding whitespace. The result never exceeds the
// limit: an entity that would cross it is dropped whole.
func (s *Sanitizer) Sanitize(input string) string {
	if input == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(input))

	budget := s.maxLength
	seen := 0
	for _, r := range input {
		if seen == s.maxLength {
			break
		}
		seen++

		if ent, ok := entities[r]; ok {
			if len(ent) > budget {
				break
			}
			b.WriteString(ent)
			budget -= len(ent)
			continue
		}
		if budget == 0 {
			break
		}
		b.WriteRune(r)
		budget--
	}

	return strings.TrimSpace(b.String())
}

// SanitizeAny sanitizes v when it is a string and returns "" for anything else.
func (s *Sanitizer) SanitizeAny(v any) string {
	str, ok := v.(string)
	if !ok {
		return ""
	}
	return s.Sanitize(str)
}

// Message pairs the raw input with its sanitized form.
func (s *Sanitizer) Message(raw string) domain.OutboundMessage {
	return domain.OutboundMessage{RawText: raw, SanitizedText: s.Sanitize(raw)}
}
