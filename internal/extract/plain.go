package extract

import (
	"strings"
	"unicode/utf8"
)

// extractPlain splits text on form feeds, one page per segment. Invalid UTF-8 sequences
// are replaced with the replacement character.
func extractPlain(content []byte) []string {
	text := string(content)
	if !utf8.Valid(content) {
		text = strings.ToValidUTF8(text, "\ufffd")
	}
	return strings.Split(text, "\f")
}
