package engine

// Guard is a boolean predicate that qualifies an otherwise legal
// transition (spec.md glossary). A nil Guard always passes.
type Guard func(m *Message, cfg Config) bool

// transition describes the successor state for one (state, event) pair,
// plus an optional guard. When Guard is non-nil and returns false, the
// successor is Else instead of To; an empty Else means the transition is
// rejected (TransitionResult.invalid) when the guard fails.
type transition struct {
	To     State
	Guard  Guard
	Else   State
	Mutate func(m *Message)
}

type transitionKey struct {
	from  State
	event Event
}

// TransitionTable is the static, configuration-invariant map from
// (state, event) to successor state described in spec.md §4.D. It is
// built once by NewTransitionTable and never mutated afterward.
type TransitionTable struct {
	table map[transitionKey]transition
}

func canRetryGuard(m *Message, _ Config) bool {
	return m.CanRetry()
}

func orderingEnabledGuard(_ *Message, cfg Config) bool {
	return cfg.Ordering.Enabled
}

// NewTransitionTable builds the exhaustive transition table from
// spec.md §4.D, plus the cross-cutting CANCEL/EXPIRE events that
// spec.md §5 says apply "from any non-terminal state".
func NewTransitionTable() *TransitionTable {
	t := &TransitionTable{table: make(map[transitionKey]transition)}

	add := func(from State, event Event, tr transition) {
		t.table[transitionKey{from, event}] = tr
	}

	// INIT
	add(StateInit, EventStartProcessing, transition{To: StateDedupChecking})

	// DEDUP_CHECKING
	add(StateDedupChecking, EventDedupPass, transition{To: StateRateLimiting})
	add(StateDedupChecking, EventDedupDuplicate, transition{To: StateDuplicate})
	add(StateDedupChecking, EventTimeout, transition{To: StateTimeout})

	// RATE_LIMITING
	add(StateRateLimiting, EventRateLimitPass, transition{To: StateQueued})
	add(StateRateLimiting, EventRateLimitExceeded, transition{To: StateRateLimited})
	add(StateRateLimiting, EventTimeout, transition{To: StateTimeout})

	// RATE_LIMITED
	add(StateRateLimited, EventRateLimitRecovered, transition{To: StateQueued})
	add(StateRateLimited, EventTimeout, transition{To: StateTimeout})

	// QUEUED: CHECK_ORDER is guarded by whether ordering is enabled;
	// PREPROCESS is the direct path used when the caller (or the
	// scheduler, for ordering-disabled pipelines) skips the order check.
	add(StateQueued, EventCheckOrder, transition{
		To:    StateOrderingWait,
		Guard: orderingEnabledGuard,
		Else:  StatePreprocessing,
	})
	add(StateQueued, EventPreprocess, transition{To: StatePreprocessing})

	// ORDERING_WAIT
	add(StateOrderingWait, EventOrderReady, transition{To: StatePreprocessing})
	add(StateOrderingWait, EventTimeout, transition{To: StateTimeout})
	// FAIL is the successor the LateAsFailure policy substitutes for a
	// late sequence.
	add(StateOrderingWait, EventFail, transition{To: StateFailed})

	// PREPROCESSING
	add(StatePreprocessing, EventPreprocessComplete, transition{To: StateSending})
	add(StatePreprocessing, EventFail, transition{To: StateFailed})
	add(StatePreprocessing, EventTimeout, transition{To: StateTimeout})

	// SENDING
	add(StateSending, EventSent, transition{To: StateSent})
	add(StateSending, EventFail, transition{To: StateFailed})
	add(StateSending, EventPauseSend, transition{To: StateSendPaused})
	add(StateSending, EventTimeout, transition{To: StateTimeout})

	// SEND_PAUSED
	add(StateSendPaused, EventResumeSend, transition{To: StateSending})

	// SENT
	add(StateSent, EventConfirm, transition{To: StateConfirmed})
	add(StateSent, EventPartialConfirm, transition{To: StatePartialConfirmed})
	add(StateSent, EventFail, transition{To: StateFailed})
	add(StateSent, EventTimeout, transition{To: StateTimeout})

	// PARTIAL_CONFIRMED behaves like SENT for the remaining confirm/fail
	// events (a partially confirmed batch can still be confirmed in full
	// or fail outright).
	add(StatePartialConfirmed, EventConfirm, transition{To: StateConfirmed})
	add(StatePartialConfirmed, EventFail, transition{To: StateFailed})

	// FAILED: PREPARE_RETRY is guarded by retry budget (spec.md §8
	// property 1: "PREPARE_RETRY when retryCount >= maxRetries yields
	// DEAD_LETTER rather than RETRY_PREPARING").
	add(StateFailed, EventPrepareRetry, transition{
		To:     StateRetryPreparing,
		Guard:  canRetryGuard,
		Else:   StateDeadLetter,
		Mutate: func(m *Message) { m.incrementRetryCount() },
	})
	add(StateFailed, EventMaxRetriesExceeded, transition{To: StateDeadLetter})

	// TIMEOUT is eligible for the retry flow exactly like FAILED
	// (spec.md §7: "Timed-out state ... eligible for retry flow exactly
	// like FAIL").
	add(StateTimeout, EventPrepareRetry, transition{
		To:     StateRetryPreparing,
		Guard:  canRetryGuard,
		Else:   StateDeadLetter,
		Mutate: func(m *Message) { m.incrementRetryCount() },
	})
	add(StateTimeout, EventMaxRetriesExceeded, transition{To: StateDeadLetter})

	// RETRY_PREPARING
	add(StateRetryPreparing, EventRetry, transition{To: StateRetrying})
	add(StateRetryPreparing, EventDelayRetry, transition{To: StateRetryDelayed})
	add(StateRetryPreparing, EventMaxRetriesExceeded, transition{To: StateDeadLetter})

	// RETRY_DELAYED
	add(StateRetryDelayed, EventRetryResume, transition{To: StateRetrying})
	add(StateRetryDelayed, EventMaxRetriesExceeded, transition{To: StateDeadLetter})

	// RETRYING
	add(StateRetrying, EventSent, transition{To: StateSent})
	add(StateRetrying, EventFail, transition{To: StateFailed})

	// DEAD_LETTER: RESET reopens the message at INIT.
	add(StateDeadLetter, EventReset, transition{To: StateInit})

	// Terminal states (except ARCHIVED itself) accept ARCHIVE.
	for _, s := range []State{StateConfirmed, StateDuplicate, StateDeadLetter, StateExpired, StateCancelled} {
		add(s, EventArchive, transition{To: StateArchiving})
	}
	add(StateArchiving, EventArchiveComplete, transition{To: StateArchived})

	// CANCEL and EXPIRE apply from any non-terminal state (spec.md §5).
	for _, s := range allNonTerminalStates() {
		key := transitionKey{s, EventCancel}
		if _, exists := t.table[key]; !exists {
			t.table[key] = transition{To: StateCancelled}
		}
		key = transitionKey{s, EventExpire}
		if _, exists := t.table[key]; !exists {
			t.table[key] = transition{To: StateExpired}
		}
	}

	return t
}

// allNonTerminalStates enumerates every defined State that is not
// terminal, for wiring the cross-cutting CANCEL/EXPIRE events.
func allNonTerminalStates() []State {
	all := []State{
		StateInit, StateDedupChecking, StateRateLimiting, StateRateLimited,
		StateQueued, StateOrderingWait, StatePreprocessing, StateSending,
		StateSendPaused, StateSent, StatePartialConfirmed, StateFailed,
		StateRetryPreparing, StateRetrying, StateRetryDelayed, StateTimeout,
		StateArchiving,
	}
	out := make([]State, 0, len(all))
	for _, s := range all {
		if !s.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}

// CanFire reports whether event is legal in state, without evaluating
// guards.
func (t *TransitionTable) CanFire(state State, event Event) bool {
	_, ok := t.table[transitionKey{state, event}]
	return ok
}

// NextState computes the successor state for (state, event, message)
// under cfg. ok is false when the pair is absent from the table
// (TransitionResult.invalid); when a guard rejects the transition and no
// Else state was configured, ok is also false.
func (t *TransitionTable) NextState(state State, event Event, msg *Message, cfg Config) (next State, ok bool) {
	tr, exists := t.table[transitionKey{state, event}]
	if !exists {
		return "", false
	}

	if tr.Guard == nil || tr.Guard(msg, cfg) {
		if tr.Mutate != nil {
			tr.Mutate(msg)
		}
		return tr.To, true
	}

	if tr.Else == "" {
		return "", false
	}
	return tr.Else, true
}
