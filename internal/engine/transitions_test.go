package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable_LegalAndIllegalPairs(t *testing.T) {
	table := NewTransitionTable()

	assert.True(t, table.CanFire(StateInit, EventStartProcessing))
	assert.True(t, table.CanFire(StateDedupChecking, EventDedupPass))
	assert.False(t, table.CanFire(StateConfirmed, EventStartProcessing))
	assert.False(t, table.CanFire(StateInit, EventConfirm))
}

func TestTransitionTable_PrepareRetryRespectsBudget(t *testing.T) {
	table := NewTransitionTable()
	cfg := DefaultConfig()

	msg := NewMessage(NewMessageOptions{Topic: "t", MaxRetries: 2})

	next, ok := table.NextState(StateFailed, EventPrepareRetry, msg, cfg)
	require.True(t, ok)
	assert.Equal(t, StateRetryPreparing, next)
	assert.Equal(t, 1, msg.RetryCount())

	next, ok = table.NextState(StateFailed, EventPrepareRetry, msg, cfg)
	require.True(t, ok)
	assert.Equal(t, StateRetryPreparing, next)
	assert.Equal(t, 2, msg.RetryCount())

	next, ok = table.NextState(StateFailed, EventPrepareRetry, msg, cfg)
	require.True(t, ok)
	assert.Equal(t, StateDeadLetter, next)
}

func TestTransitionTable_CheckOrderGuardedByConfig(t *testing.T) {
	table := NewTransitionTable()
	msg := NewMessage(NewMessageOptions{Topic: "t"})

	disabled := DefaultConfig()
	disabled.Ordering.Enabled = false
	next, ok := table.NextState(StateQueued, EventCheckOrder, msg, disabled)
	require.True(t, ok)
	assert.Equal(t, StatePreprocessing, next)

	enabled := DefaultConfig()
	enabled.Ordering.Enabled = true
	next, ok = table.NextState(StateQueued, EventCheckOrder, msg, enabled)
	require.True(t, ok)
	assert.Equal(t, StateOrderingWait, next)
}

func TestTransitionTable_CancelAppliesFromAnyNonTerminalState(t *testing.T) {
	table := NewTransitionTable()
	msg := NewMessage(NewMessageOptions{Topic: "t"})
	cfg := DefaultConfig()

	for _, s := range allNonTerminalStates() {
		next, ok := table.NextState(s, EventCancel, msg, cfg)
		require.Truef(t, ok, "state %s should accept CANCEL", s)
		assert.Equal(t, StateCancelled, next)
	}
}

func TestTransitionTable_TerminalStatesRejectCancel(t *testing.T) {
	table := NewTransitionTable()
	msg := NewMessage(NewMessageOptions{Topic: "t"})
	cfg := DefaultConfig()

	for s := range terminalStates {
		_, ok := table.NextState(s, EventCancel, msg, cfg)
		assert.Falsef(t, ok, "terminal state %s must not accept CANCEL", s)
	}
}

func TestTransitionTable_TimeoutEligibleFromTimeoutMirrorsFailed(t *testing.T) {
	table := NewTransitionTable()
	cfg := DefaultConfig()
	msg := NewMessage(NewMessageOptions{Topic: "t", MaxRetries: 1})

	next, ok := table.NextState(StateTimeout, EventPrepareRetry, msg, cfg)
	require.True(t, ok)
	assert.Equal(t, StateRetryPreparing, next)
}
