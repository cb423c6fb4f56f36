package utils

import "strings"

// StripCodeFence removes a surrounding ```...``` wrapper when present.
// Handles an optional language tag after the opening fence and responses
// fenced on a single line with no newline at all.
func StripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the language tag ("json", "JSON", ...); the payload itself
	// starts with a brace or bracket, never a letter.
	s = strings.TrimLeft(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
