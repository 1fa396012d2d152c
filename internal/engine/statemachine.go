package engine

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// StateMachine drives one Message through the transition table of
// spec.md §4.D, serializing every Fire call so a message's state never
// observes two concurrent writers (spec.md §7: "a message's state
// transitions are linearizable").
//
// Post-transition work — arming timeouts, scheduling auto-advance ticks,
// scheduling retry backoff — is deliberately NOT done inside fire.
// Instead it is driven by whatever Listener is registered (normally a
// Scheduler), the same event-driven shape as internal/concurrency's
// AsyncProcessor/NonBlockingChan: Fire only computes and commits the
// transition and notifies listeners; listeners decide what happens next.
type StateMachine struct {
	msg   *Message
	table *TransitionTable
	cfg   Config

	dedup    *Deduplicator
	limiter  *RateLimiter
	ordering *OrderingCoordinator
	logger   *logrus.Logger

	mu sync.Mutex // serializes Fire

	listenersMu sync.RWMutex
	listeners   []Listener
}

// NewStateMachine constructs a StateMachine for msg, wired to the shared
// collaborators a Processor owns.
func NewStateMachine(msg *Message, table *TransitionTable, cfg Config, dedup *Deduplicator, limiter *RateLimiter, ordering *OrderingCoordinator, logger *logrus.Logger) *StateMachine {
	if logger == nil {
		logger = logrus.New()
	}
	return &StateMachine{
		msg:      msg,
		table:    table,
		cfg:      cfg,
		dedup:    dedup,
		limiter:  limiter,
		ordering: ordering,
		logger:   logger,
	}
}

// Message returns the underlying message.
func (sm *StateMachine) Message() *Message { return sm.msg }

// CurrentState returns the message's current state.
func (sm *StateMachine) CurrentState() State {
	return sm.msg.State()
}

// CanFire reports whether event is legal from the current state, without
// running any admission checks.
func (sm *StateMachine) CanFire(event Event) bool {
	return sm.table.CanFire(sm.CurrentState(), event)
}

// AddListener registers l to be notified of every transition fired by
// this instance, past this call.
func (sm *StateMachine) AddListener(l Listener) {
	sm.listenersMu.Lock()
	defer sm.listenersMu.Unlock()
	sm.listeners = append(sm.listeners, l)
}

// Fire implements spec.md §4.E's algorithm:
//  1. Look up (currentState, event) in the transition table; absent means
//     invalid.
//  2. Run pre-transition work dispatched by event kind: the admission
//     events (CHECK_DEDUP, CHECK_RATE_LIMIT, CHECK_ORDER_INTERNAL)
//     substitute the effective next event with the outcome of the
//     corresponding collaborator check.
//  3. Compute the successor via the transition table.
//  4. Commit: set the message's state.
//  5. Notify listeners, best-effort: a panicking listener never affects
//     the caller or other listeners. Listeners run synchronously, so a
//     slow listener delays Fire's return.
//
// Fire never panics and never blocks past collaborator calls; listener
// notification is synchronous but isolated per listener via recover.
func (sm *StateMachine) Fire(event Event, ctx map[string]interface{}) TransitionResult {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	from := sm.msg.State()

	effective, ok := sm.preTransition(from, event)
	if !ok {
		return InvalidResult(from, event)
	}

	to, ok := sm.table.NextState(from, effective, sm.msg, sm.cfg)
	if !ok {
		return InvalidResult(from, effective)
	}

	sm.msg.setState(to)
	sm.notify(from, to, effective, ctx)

	return SuccessResult(from, to, effective)
}

// preTransition dispatches the admission-check events. For any other
// event it is a no-op: the effective event equals the requested one, and
// whether it is legal at all is decided by TransitionTable.NextState.
func (sm *StateMachine) preTransition(from State, event Event) (Event, bool) {
	switch event {
	case EventCheckDedup:
		if !sm.table.CanFire(from, EventDedupPass) && !sm.table.CanFire(from, EventDedupDuplicate) {
			return event, false
		}
		if sm.dedup.Check(sm.msg) == DedupDuplicate {
			return EventDedupDuplicate, true
		}
		return EventDedupPass, true

	case EventCheckRateLimit:
		if !sm.table.CanFire(from, EventRateLimitPass) && !sm.table.CanFire(from, EventRateLimitExceeded) {
			return event, false
		}
		if sm.limiter.TryAcquire(1) == Rejected {
			return EventRateLimitExceeded, true
		}
		return EventRateLimitPass, true

	case EventCheckOrderInternal:
		if !sm.table.CanFire(from, EventOrderReady) {
			return event, false
		}
		if !sm.cfg.Ordering.Enabled {
			return EventOrderReady, true
		}
		switch sm.ordering.IsReady(sm.msg) {
		case Ready:
			return EventOrderReady, true
		case Late:
			if sm.cfg.Ordering.LateSequencePolicy == LateAsFailure {
				return EventFail, true
			}
			// LateAsParked (default): treat exactly like Parked, below.
			return event, false
		default: // Parked
			return event, false
		}

	default:
		return event, true
	}
}

// notify calls every registered listener for this transition. Each
// listener runs in isolation: a panic is recovered and logged, never
// propagated, and never prevents the remaining listeners from running
// (spec.md §4.E "Listener contract: best-effort, isolated").
func (sm *StateMachine) notify(from, to State, event Event, ctx map[string]interface{}) {
	sm.listenersMu.RLock()
	listeners := make([]Listener, len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.listenersMu.RUnlock()

	for _, l := range listeners {
		sm.safeNotify(l, from, to, event, ctx)
	}
}

func (sm *StateMachine) safeNotify(l Listener, from, to State, event Event, ctx map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			sm.logger.WithFields(logrus.Fields{
				"message_id": sm.msg.ID,
				"from":       from,
				"to":         to,
				"event":      event,
				"panic":      r,
			}).Error("statemachine: listener panicked, isolated")
		}
	}()
	l(sm.msg, from, to, event, ctx)
}
