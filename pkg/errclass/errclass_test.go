package errclass

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap_Format(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(base, "repository", "Save", "update field")

	assert.EqualError(t, err, "repository.Save: update field failed: boom")
	assert.ErrorIs(t, err, base)
	assert.Nil(t, Wrap(nil, "a", "b", "c"))
}

func TestClassification(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name      string
		err       error
		transient bool
		invalid   bool
		integrity bool
	}{
		{"transient", WrapTransient(base, "c", "op", "act"), true, false, false},
		{"invalid", WrapInvalid(base, "c", "op", "act"), false, true, false},
		{"integrity", WrapIntegrity(base, "c", "op", "act"), false, false, true},
		{"unclassified defaults to transient", base, true, false, false},
		{"canceled", fmt.Errorf("stage: %w", context.Canceled), true, false, false},
		{"nil", nil, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.transient, Retryable(tt.err))
			assert.Equal(t, tt.invalid, IsInvalid(tt.err))
			assert.Equal(t, tt.integrity, IsIntegrity(tt.err))
		})
	}
}

func TestClassifiedError_SurvivesFurtherWrapping(t *testing.T) {
	inner := WrapIntegrity(errors.New("mismatch"), "entities", "ProcessReading", "identity check")
	outer := fmt.Errorf("pipeline: %w", inner)

	assert.True(t, IsIntegrity(outer))
	assert.False(t, Retryable(outer))
	assert.Equal(t, "integrity", ClassOf(outer).String())
}
