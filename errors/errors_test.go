package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWithHint(t *testing.T) {
	err := WithHint(New("error"), "try this fix")

	hints := GetAllHints(err)
	require.Len(t, hints, 1)
	assert.Equal(t, "try this fix", hints[0])
}

func TestSentinelHelpers(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		check   func(error) bool
		matches bool
	}{
		{"not found", NewNotFoundError("article %s", "abc"), IsNotFoundError, true},
		{"wrapped not found", Wrap(NewNotFoundError("x"), "outer"), IsNotFoundError, true},
		{"invalid request", NewInvalidRequestError("bad type %q", "foo"), IsInvalidRequestError, true},
		{"configuration", NewConfigurationError("provider %s", "otx"), IsConfigurationError, true},
		{"plain error is not configuration", New("boom"), IsConfigurationError, false},
		{"nil is nothing", nil, IsNotFoundError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.matches, tt.check(tt.err))
		})
	}
}

func TestFormattedSentinelKeepsMessage(t *testing.T) {
	err := NewInvalidRequestError("unknown ioc type %q", "email")
	assert.Contains(t, err.Error(), `unknown ioc type "email"`)
	assert.Contains(t, err.Error(), "invalid request")
}

func TestStackTraceAttached(t *testing.T) {
	err := Wrap(New("base"), "ctx")
	assert.NotNil(t, GetStack(err))
}
