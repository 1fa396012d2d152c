package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMachine(t *testing.T, cfg Config) (*StateMachine, *Message) {
	t.Helper()
	msg := NewMessage(NewMessageOptions{Topic: "orders", Body: "payload", MaxRetries: cfg.Retry.MaxRetries})
	dedup := NewDeduplicator(cfg.Dedup, nil)
	t.Cleanup(dedup.Stop)
	limiter := NewRateLimiter(cfg.RateLimit)
	ordering := NewOrderingCoordinator(cfg.Ordering, nil)
	sm := NewStateMachine(msg, NewTransitionTable(), cfg, dedup, limiter, ordering, nil)
	return sm, msg
}

func TestStateMachine_InvalidEventLeavesStateUnchanged(t *testing.T) {
	sm, _ := newTestMachine(t, DefaultConfig())
	res := sm.Fire(EventConfirm, nil)
	assert.False(t, res.Success)
	assert.Equal(t, StateInit, sm.CurrentState())
}

func TestStateMachine_DedupAdmitsFirstSighting(t *testing.T) {
	sm, _ := newTestMachine(t, DefaultConfig())

	res := sm.Fire(EventStartProcessing, nil)
	require.True(t, res.Success)
	assert.Equal(t, StateDedupChecking, sm.CurrentState())

	res = sm.Fire(EventCheckDedup, nil)
	require.True(t, res.Success)
	assert.Equal(t, StateRateLimiting, sm.CurrentState())
}

func TestStateMachine_DedupRejectsRepeat(t *testing.T) {
	cfg := DefaultConfig()
	dedup := NewDeduplicator(cfg.Dedup, nil)
	t.Cleanup(dedup.Stop)
	limiter := NewRateLimiter(cfg.RateLimit)
	ordering := NewOrderingCoordinator(cfg.Ordering, nil)
	table := NewTransitionTable()

	msg1 := NewMessage(NewMessageOptions{Topic: "orders", Body: "same"})
	msg2 := NewMessage(NewMessageOptions{ID: msg1.ID, Topic: "orders", Body: "same"})

	sm1 := NewStateMachine(msg1, table, cfg, dedup, limiter, ordering, nil)
	sm2 := NewStateMachine(msg2, table, cfg, dedup, limiter, ordering, nil)

	require.True(t, sm1.Fire(EventStartProcessing, nil).Success)
	require.True(t, sm1.Fire(EventCheckDedup, nil).Success)

	require.True(t, sm2.Fire(EventStartProcessing, nil).Success)
	res := sm2.Fire(EventCheckDedup, nil)
	require.True(t, res.Success)
	assert.Equal(t, StateDuplicate, sm2.CurrentState())
	assert.True(t, sm2.CurrentState().IsTerminal())
}

func TestStateMachine_RateLimitExceededParks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.Capacity = 0
	cfg.RateLimit.TokensPerSecond = 0
	sm, _ := newTestMachine(t, cfg)

	require.True(t, sm.Fire(EventStartProcessing, nil).Success)
	require.True(t, sm.Fire(EventCheckDedup, nil).Success)

	res := sm.Fire(EventCheckRateLimit, nil)
	require.True(t, res.Success)
	assert.Equal(t, StateRateLimited, sm.CurrentState())
}

func TestStateMachine_ListenerPanicIsolated(t *testing.T) {
	sm, _ := newTestMachine(t, DefaultConfig())

	var notified bool
	sm.AddListener(func(*Message, State, State, Event, map[string]interface{}) {
		panic("boom")
	})
	sm.AddListener(func(*Message, State, State, Event, map[string]interface{}) {
		notified = true
	})

	res := sm.Fire(EventStartProcessing, nil)
	assert.True(t, res.Success)
	assert.True(t, notified)
}

func TestStateMachine_FullHappyPathToConfirmed(t *testing.T) {
	sm, _ := newTestMachine(t, DefaultConfig())

	steps := []Event{
		EventStartProcessing,
		EventCheckDedup,
		EventCheckRateLimit,
		EventCheckOrder,
		EventPreprocessComplete,
		EventSent,
		EventConfirm,
	}
	for _, ev := range steps {
		res := sm.Fire(ev, nil)
		require.Truef(t, res.Success, "event %s should succeed from %s", ev, res.FromState)
	}

	assert.Equal(t, StateConfirmed, sm.CurrentState())
	assert.True(t, sm.CurrentState().IsTerminal())
}

func TestStateMachine_FailureRoutesThroughRetryToDeadLetter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retry.MaxRetries = 1
	sm, _ := newTestMachine(t, cfg)

	require.True(t, sm.Fire(EventStartProcessing, nil).Success)
	require.True(t, sm.Fire(EventCheckDedup, nil).Success)
	require.True(t, sm.Fire(EventCheckRateLimit, nil).Success)
	require.True(t, sm.Fire(EventCheckOrder, nil).Success)
	require.True(t, sm.Fire(EventPreprocessComplete, nil).Success)
	require.True(t, sm.Fire(EventFail, nil).Success)
	assert.Equal(t, StateFailed, sm.CurrentState())

	res := sm.Fire(EventPrepareRetry, nil)
	require.True(t, res.Success)
	assert.Equal(t, StateRetryPreparing, sm.CurrentState())

	require.True(t, sm.Fire(EventRetry, nil).Success)
	require.True(t, sm.Fire(EventFail, nil).Success)

	res = sm.Fire(EventPrepareRetry, nil)
	require.True(t, res.Success)
	assert.Equal(t, StateDeadLetter, sm.CurrentState())
	assert.True(t, sm.CurrentState().IsTerminal())
}

func TestStateMachine_CancelFromNonTerminalState(t *testing.T) {
	sm, _ := newTestMachine(t, DefaultConfig())
	require.True(t, sm.Fire(EventStartProcessing, nil).Success)

	res := sm.Fire(EventCancel, nil)
	require.True(t, res.Success)
	assert.Equal(t, StateCancelled, sm.CurrentState())
}

func TestStateMachine_ConcurrentFireIsSerialized(t *testing.T) {
	sm, _ := newTestMachine(t, DefaultConfig())
	require.True(t, sm.Fire(EventStartProcessing, nil).Success)

	done := make(chan struct{})
	go func() {
		sm.Fire(EventCheckDedup, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Fire did not complete, possible deadlock in serialization")
	}
}
