package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Query length bounds, in characters after trimming.
const (
	MinQueryLength = 3
	MaxQueryLength = 500
)

var blockedPatterns = []string{"<script", "javascript:", "onerror=", "onclick=", "<iframe"}

// ValidateQuery trims the query and rejects empty, oversized or script-bearing input.
func ValidateQuery(text string) (string, error) {
	q := strings.TrimSpace(text)
	n := utf8.RuneCountInString(q)
	if n < MinQueryLength {
		return "", fmt.Errorf("query must be at least %d characters: %w", MinQueryLength, ErrInvalidInput)
	}
	if n > MaxQueryLength {
		return "", fmt.Errorf("query must be at most %d characters: %w", MaxQueryLength, ErrInvalidInput)
	}
	lower := strings.ToLower(q)
	for _, p := range blockedPatterns {
		if strings.Contains(lower, p) {
			return "", fmt.Errorf("query contains disallowed content: %w", ErrInvalidInput)
		}
	}
	return q, nil
}
