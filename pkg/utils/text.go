// Package utils provides shared utilities for text, math, and logging.
package utils

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
// Characters are counted as runes. If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}

var termPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at",
		"by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its", "this", "that",
		"these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such",
		"into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off",
		"own", "same", "too", "very", "can", "will", "just", "should", "now", "what", "which", "who",
		"whom", "where", "when", "how", "why", "do", "does", "did", "there", "their", "they", "i", "me",
		"my", "you", "your", "we", "our", "tell",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// Terms returns the lowercased word and number tokens of s with common English stopwords removed.
func Terms(s string) []string {
	raw := termPattern.FindAllString(strings.ToLower(s), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}
