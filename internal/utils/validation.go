package contextutils

import "regexp"

// choiceKeyRe matches a single answer-choice letter. Items carry at most
// five choices (A-E); anything else in a trace is client garbage.
var choiceKeyRe = regexp.MustCompile(`^[A-E]$`)

// IsValidChoiceKey reports whether s is a valid answer-choice letter.
func IsValidChoiceKey(s string) bool {
	return choiceKeyRe.MatchString(s)
}

// IsValidConfidence reports whether c is a valid 1-5 confidence rating.
func IsValidConfidence(c int) bool {
	return c >= 1 && c <= 5
}
