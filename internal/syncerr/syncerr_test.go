package syncerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBase = errors.New("provider rejected the document")

func TestClassification(t *testing.T) {
	assert.True(t, IsTerminal(Terminal(errBase)))
	assert.True(t, IsTerminal(Terminalf("invalid reference %d", 7)))
	assert.False(t, IsTerminal(Retryable(errBase)))
	assert.False(t, IsTerminal(Retryablef("provider returned %d", 503)))
}

func TestUnclassifiedIsRetryable(t *testing.T) {
	assert.False(t, IsTerminal(errors.New("connection reset")))
	assert.False(t, IsTerminal(nil))
}

func TestNilPassthrough(t *testing.T) {
	assert.NoError(t, Retryable(nil))
	assert.NoError(t, Terminal(nil))
}

func TestUnwrapPreservesCause(t *testing.T) {
	wrapped := Terminal(fmt.Errorf("push invoice: %w", errBase))
	require.Error(t, wrapped)
	assert.True(t, errors.Is(wrapped, errBase))
	assert.Equal(t, "push invoice: "+errBase.Error(), wrapped.Error())
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	inner := Terminal(errBase)
	outer := fmt.Errorf("handler failed: %w", inner)
	assert.True(t, IsTerminal(outer))
}

func TestInnermostClassWins(t *testing.T) {
	// Re-wrapping an already classified error keeps the outer class.
	err := Retryable(fmt.Errorf("store ledger id: %w", Terminal(errBase)))
	assert.False(t, IsTerminal(err))
}
