package contextutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidChoiceKey(t *testing.T) {
	valid := []string{"A", "B", "C", "D", "E"}
	for _, s := range valid {
		assert.True(t, IsValidChoiceKey(s), s)
	}

	invalid := []string{"", "a", "F", "AB", "1", " A", "A "}
	for _, s := range invalid {
		assert.False(t, IsValidChoiceKey(s), s)
	}
}

func TestIsValidConfidence(t *testing.T) {
	for c := 1; c <= 5; c++ {
		assert.True(t, IsValidConfidence(c))
	}
	assert.False(t, IsValidConfidence(0))
	assert.False(t, IsValidConfidence(6))
	assert.False(t, IsValidConfidence(-1))
}
