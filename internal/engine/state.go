package engine

// State is one of the 23 discrete positions a Message occupies in the
// processing pipeline.
type State string

const (
	StateInit State = "INIT"

	// Admission.
	StateDedupChecking State = "DEDUP_CHECKING"
	StateDuplicate      State = "DUPLICATE"
	StateRateLimiting   State = "RATE_LIMITING"
	StateRateLimited    State = "RATE_LIMITED"
	StateQueued         State = "QUEUED"
	StateOrderingWait   State = "ORDERING_WAIT"
	StatePreprocessing  State = "PREPROCESSING"

	// Transport.
	StateSending           State = "SENDING"
	StateSendPaused        State = "SEND_PAUSED"
	StateSent              State = "SENT"
	StatePartialConfirmed  State = "PARTIAL_CONFIRMED"
	StateConfirmed         State = "CONFIRMED"

	// Failure.
	StateFailed         State = "FAILED"
	StateRetryPreparing State = "RETRY_PREPARING"
	StateRetrying       State = "RETRYING"
	StateRetryDelayed   State = "RETRY_DELAYED"
	StateTimeout        State = "TIMEOUT"
	StateDeadLetter     State = "DEAD_LETTER"

	// Lifecycle.
	StateExpired   State = "EXPIRED"
	StateCancelled State = "CANCELLED"
	StateArchiving State = "ARCHIVING"
	StateArchived  State = "ARCHIVED"
)

// terminalStates are states from which no event other than
// ARCHIVE/ARCHIVE_COMPLETE (and RESET from DEAD_LETTER) produces a
// transition.
var terminalStates = map[State]bool{
	StateConfirmed:  true,
	StateDuplicate:  true,
	StateDeadLetter: true,
	StateExpired:    true,
	StateCancelled:  true,
	StateArchived:   true,
}

// IsTerminal reports whether s is a terminal state.
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// timeoutEligibleStates is the set of states that carry a per-state
// timeout deadline (spec.md §4.F).
var timeoutEligibleStates = map[State]bool{
	StateDedupChecking: true,
	StateRateLimiting:  true,
	StatePreprocessing: true,
	StateSending:       true,
	StateSent:          true,
	StateOrderingWait:  true,
}

// IsTimeoutEligible reports whether s has a configured timeout deadline.
func (s State) IsTimeoutEligible() bool {
	return timeoutEligibleStates[s]
}

// autoAdvanceStates is the set of interior states the Scheduler advances
// automatically after a short pacing delay (spec.md §4.F).
var autoAdvanceStates = map[State]bool{
	StateDedupChecking: true,
	StateRateLimiting:  true,
	StateQueued:        true,
	StateOrderingWait:  true,
	StatePreprocessing: true,
	StateSending:       true,
	StateSent:          true,
}

// IsAutoAdvance reports whether s is auto-advanced by the Scheduler.
func (s State) IsAutoAdvance() bool {
	return autoAdvanceStates[s]
}

// parkedStates are non-terminal states waiting on an external or
// scheduled stimulus to progress (spec.md glossary).
var parkedStates = map[State]bool{
	StateRateLimited:  true,
	StateOrderingWait: true,
	StateRetryDelayed: true,
	StateSendPaused:   true,
}

// IsParked reports whether s is a parked state.
func (s State) IsParked() bool {
	return parkedStates[s]
}

// Event is a discrete stimulus that may advance a Message's State.
type Event string

const (
	// Progression events.
	EventStartProcessing    Event = "START_PROCESSING"
	EventDedupPass          Event = "DEDUP_PASS"
	EventRateLimitPass      Event = "RATE_LIMIT_PASS"
	EventOrderReady         Event = "ORDER_READY"
	EventPreprocessComplete Event = "PREPROCESS_COMPLETE"
	EventSent               Event = "SENT"
	EventConfirm            Event = "CONFIRM"
	EventPartialConfirm     Event = "PARTIAL_CONFIRM"

	// Admission-internal events: the pre-transition check for each of
	// these substitutes the effective next event (spec.md §4.E step 2).
	EventCheckDedup        Event = "CHECK_DEDUP"
	EventCheckRateLimit    Event = "CHECK_RATE_LIMIT"
	EventCheckOrder        Event = "CHECK_ORDER"
	EventDedupDuplicate    Event = "DEDUP_DUPLICATE"
	EventRateLimitExceeded Event = "RATE_LIMIT_EXCEEDED"
	EventRateLimitRecovered Event = "RATE_LIMIT_RECOVERED"
	EventCheckOrderInternal Event = "CHECK_ORDER_INTERNAL"
	EventPreprocess         Event = "PREPROCESS"

	// Failure / control events.
	EventFail                Event = "FAIL"
	EventTimeout             Event = "TIMEOUT"
	EventCancel              Event = "CANCEL"
	EventExpire              Event = "EXPIRE"
	EventPauseSend           Event = "PAUSE_SEND"
	EventResumeSend          Event = "RESUME_SEND"
	EventMaxRetriesExceeded  Event = "MAX_RETRIES_EXCEEDED"

	// Retry flow.
	EventPrepareRetry Event = "PREPARE_RETRY"
	EventRetry        Event = "RETRY"
	EventDelayRetry   Event = "DELAY_RETRY"
	EventRetryResume  Event = "RETRY_RESUME"

	// Archive / reset.
	EventArchive         Event = "ARCHIVE"
	EventArchiveComplete Event = "ARCHIVE_COMPLETE"
	EventReset           Event = "RESET"
)
