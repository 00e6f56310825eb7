package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodedErrorFormatting(t *testing.T) {
	err := Newf(CodeInvalidTransition, "transition %s -> %s is not in the rule table", "PENDING", "CLOSED")
	assert.Equal(t, "INVALID_TRANSITION: transition PENDING -> CLOSED is not in the rule table", err.Error())
	assert.Equal(t, CodeInvalidTransition, CodeOf(err))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, CodeInternal, "store read failed")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, CodeInternal, CodeOf(err))

	// Wrapping again with fmt keeps the code reachable.
	outer := fmt.Errorf("handler: %w", err)
	assert.Equal(t, CodeInternal, CodeOf(outer))
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(CodeConflict, "version mismatch")
	b := New(CodeConflict, "different message")
	c := New(CodeNotFound, "missing")

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestWithDetailDoesNotMutateOriginal(t *testing.T) {
	base := New(CodeRateLimitExceeded, "limit reached")
	detailed := base.WithDetail("retryAfterMs", int64(1200)).WithDetail("limit", 3)

	assert.Nil(t, base.Details)
	assert.Equal(t, int64(1200), detailed.Details["retryAfterMs"])
	assert.Equal(t, 3, detailed.Details["limit"])
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(stderrors.New("boom")))
}

func TestAsErrorWrapsPlain(t *testing.T) {
	plain := stderrors.New("boom")
	coded := AsError(plain)
	assert.Equal(t, CodeInternal, coded.Code)
	assert.ErrorIs(t, coded, plain)

	already := New(CodeNotFound, "incident not found")
	assert.Same(t, already, AsError(already))
}
