package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/helixagent/msgflow/internal/concurrency"
)

// ProcessorStats summarizes a Processor's lifetime activity (spec.md §6:
// "Stats() -> active, success, failed, successRate").
type ProcessorStats struct {
	Active      int64
	Success     int64
	Failed      int64
	SuccessRate float64
}

// BatchResult is the outcome of a SubmitBatch call: one ProcessingResult
// per input message, in the same order.
type BatchResult struct {
	Results []ProcessingResult
}

// Processor is the engine's external interface (spec.md §6): it owns the
// collaborators shared across every in-flight message (Deduplicator,
// RateLimiter, OrderingCoordinator, Scheduler) and a registry of live
// StateMachine instances, one per submitted message.
type Processor struct {
	cfg    Config
	table  *TransitionTable
	logger *logrus.Logger

	dedup     *Deduplicator
	limiter   *RateLimiter
	ordering  *OrderingCoordinator
	scheduler *Scheduler
	metrics   *Metrics
	topics    *TopicPublisher
	deadLetters *DeadLetterStore

	transport Transport

	mu       sync.RWMutex
	machines map[string]*StateMachine
	closed   bool

	stopReleases chan struct{}

	submitted int64
	success   int64
	failed    int64
	active    int64
}

// ProcessorOption configures optional collaborators at construction.
type ProcessorOption func(*Processor)

// WithTransport registers a real Transport, overriding the Scheduler's
// simulated SENDING/SENT auto-advance for every message this Processor
// tracks.
func WithTransport(t Transport) ProcessorOption {
	return func(p *Processor) { p.transport = t }
}

// WithTopicPublisher attaches a TopicPublisher so external subscribers
// observe every transition, in addition to the Scheduler and Metrics
// listeners every Processor wires up internally.
func WithTopicPublisher(pub *TopicPublisher) ProcessorOption {
	return func(p *Processor) { p.topics = pub }
}

// NewProcessor constructs a Processor with its own Deduplicator,
// RateLimiter, OrderingCoordinator, and Scheduler, all built from cfg.
func NewProcessor(cfg Config, logger *logrus.Logger, reg prometheus.Registerer, poolCfg *concurrency.PoolConfig, opts ...ProcessorOption) *Processor {
	if logger == nil {
		logger = logrus.New()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	p := &Processor{
		cfg:          cfg,
		table:        NewTransitionTable(),
		logger:       logger,
		dedup:        NewDeduplicator(cfg.Dedup, logger),
		limiter:      NewRateLimiter(cfg.RateLimit),
		ordering:     NewOrderingCoordinator(cfg.Ordering, logger),
		scheduler:    NewScheduler(cfg, poolCfg, logger),
		metrics:      NewMetrics(reg),
		deadLetters:  NewDeadLetterStore(),
		machines:     make(map[string]*StateMachine),
		stopReleases: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}
	if p.transport != nil {
		// A registered Transport resolves SENDING itself; the Scheduler
		// must not also simulate it.
		p.scheduler.cfg.Transport.Simulated = false
	}

	go p.runOrderingReleases()

	return p
}

// runOrderingReleases drains the shared OrderingCoordinator's release
// cascade and re-drives the corresponding StateMachine's ordering check,
// which will now observe Ready (spec.md §4.C "release on completion").
// Without this loop a message parked in ORDERING_WAIT by IsReady would
// never be re-evaluated once the partition's nextExpected catches up to
// it, since park() only enqueues the message and never schedules a retry
// itself.
func (p *Processor) runOrderingReleases() {
	for {
		select {
		case msg, ok := <-p.ordering.Released():
			if !ok {
				return
			}
			if sm, found := p.lookup(msg.ID); found {
				sm.Fire(EventCheckOrderInternal, nil)
			}
		case <-p.stopReleases:
			return
		}
	}
}

// Submit admits msg into the engine and returns a channel that receives
// exactly one ProcessingResult once msg reaches a terminal state (or
// TIMEOUT, which spec.md §4.G resolves directly to a FAILED outcome).
func (p *Processor) Submit(msg *Message) (<-chan ProcessingResult, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrProcessorShutdown
	}
	p.mu.Unlock()

	if !p.cfg.Transport.Simulated && p.transport == nil {
		return nil, ErrNoTransport
	}

	if msg.MaxRetries <= 0 {
		msg.MaxRetries = p.cfg.Retry.MaxRetries
	}

	sm := NewStateMachine(msg, p.table, p.cfg, p.dedup, p.limiter, p.ordering, p.logger)

	p.register(msg.ID, sm)
	atomic.AddInt64(&p.submitted, 1)
	p.metrics.ActiveMessages.Set(float64(atomic.AddInt64(&p.active, 1)))

	p.scheduler.Track(sm)
	sm.AddListener(p.metrics.Listener())
	if p.topics != nil {
		sm.AddListener(p.topics.Listener())
	}
	p.attachTransportListener(sm)

	resultCh := make(chan ProcessingResult, 1)
	p.attachResolver(sm, resultCh)

	sm.Fire(EventStartProcessing, nil)
	return resultCh, nil
}

// attachResolver registers the one-shot listener that resolves ch the
// first time sm reaches a resolvable state.
func (p *Processor) attachResolver(sm *StateMachine, ch chan ProcessingResult) {
	var once sync.Once
	sm.AddListener(func(msg *Message, from, to State, event Event, _ map[string]interface{}) {
		if !resolvable(to) {
			return
		}
		once.Do(func() {
			outcome, cause := outcomeForTerminalState(to)
			if to == StateDeadLetter {
				p.deadLetters.Record(msg, cause)
			}
			p.metrics.TerminalOutcomes.WithLabelValues(string(outcome)).Inc()
			p.recordOutcome(outcome)
			atomic.AddInt64(&p.active, -1)
			p.metrics.ActiveMessages.Set(float64(atomic.LoadInt64(&p.active)))

			select {
			case ch <- ProcessingResult{MessageID: msg.ID, Outcome: outcome, State: to, Cause: cause}:
			default:
			}
			close(ch)
		})
	})
}

// attachTransportListener wires a registered Transport to fire
// EventSent/EventFail from its own callback once msg enters SENDING,
// the non-simulated counterpart to the Scheduler's auto-advance (spec.md
// §9 open question: "auto-advance ... must be replaced with a transport
// callback" when a real Transport is present).
func (p *Processor) attachTransportListener(sm *StateMachine) {
	if p.transport == nil {
		return
	}
	sm.AddListener(func(msg *Message, from, to State, event Event, _ map[string]interface{}) {
		if to != StateSending {
			return
		}
		go func() {
			if err := p.transport.Send(context.Background(), msg); err != nil {
				sm.Fire(EventFail, nil)
				return
			}
			sm.Fire(EventSent, nil)
		}()
	})
}

// resolvable reports whether a state should resolve a submitter's
// pending Future: every true terminal state, plus TIMEOUT (spec.md
// §4.G classifies TIMEOUT directly as a FAILED outcome even though it
// remains eligible for the retry sub-loop via Retry).
func resolvable(s State) bool {
	return s.IsTerminal() || s == StateTimeout
}

func (p *Processor) recordOutcome(o Outcome) {
	switch o {
	case OutcomeSuccess, OutcomeDuplicate:
		atomic.AddInt64(&p.success, 1)
	default:
		atomic.AddInt64(&p.failed, 1)
	}
}

// SubmitBatch submits every message concurrently and waits for each to
// resolve, fanning out with errgroup the way the teacher's concurrent
// helpers (internal/concurrency.ParallelExecute) do for a batch of
// independent work.
func (p *Processor) SubmitBatch(ctx context.Context, msgs []*Message) (BatchResult, error) {
	results := make([]ProcessingResult, len(msgs))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range msgs {
		i, m := i, m
		g.Go(func() error {
			ch, err := p.Submit(m)
			if err != nil {
				return err
			}
			select {
			case res := <-ch:
				results[i] = res
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	err := g.Wait()
	return BatchResult{Results: results}, err
}

// Retry reopens a dead-lettered message: fires RESET (DEAD_LETTER ->
// INIT) then immediately resubmits it, returning a fresh result channel
// (spec.md §6: "retry(messageId) -> Future<ProcessingResult>").
func (p *Processor) Retry(messageID string) (<-chan ProcessingResult, error) {
	sm, ok := p.lookup(messageID)
	if !ok {
		return nil, ErrMessageNotFound
	}

	if sm.CurrentState() != StateDeadLetter {
		return nil, ErrInvalidTransition
	}

	if res := sm.Fire(EventReset, nil); !res.Success {
		return nil, ErrInvalidTransition
	}
	p.deadLetters.Remove(messageID)

	atomic.AddInt64(&p.active, 1)
	p.metrics.ActiveMessages.Set(float64(atomic.LoadInt64(&p.active)))

	resultCh := make(chan ProcessingResult, 1)
	p.attachResolver(sm, resultCh)
	sm.Fire(EventStartProcessing, nil)

	return resultCh, nil
}

// Cancel fires CANCEL on messageID's StateMachine and returns the
// resulting ProcessingResult (spec.md §6: "cancel(messageId) ->
// ProcessingResult").
func (p *Processor) Cancel(messageID string) (ProcessingResult, error) {
	sm, ok := p.lookup(messageID)
	if !ok {
		return ProcessingResult{}, ErrMessageNotFound
	}

	res := sm.Fire(EventCancel, nil)
	if !res.Success {
		return ProcessingResult{}, ErrInvalidTransition
	}

	outcome, cause := outcomeForTerminalState(StateCancelled)
	return ProcessingResult{MessageID: messageID, Outcome: outcome, State: StateCancelled, Cause: cause}, nil
}

// CurrentState returns messageID's current state, if it is tracked.
func (p *Processor) CurrentState(messageID string) (State, bool) {
	sm, ok := p.lookup(messageID)
	if !ok {
		return "", false
	}
	return sm.CurrentState(), true
}

// Stats returns a snapshot of lifetime processing counters.
func (p *Processor) Stats() ProcessorStats {
	success := atomic.LoadInt64(&p.success)
	failed := atomic.LoadInt64(&p.failed)

	var rate float64
	if total := success + failed; total > 0 {
		rate = float64(success) / float64(total)
	}

	return ProcessorStats{
		Active:      atomic.LoadInt64(&p.active),
		Success:     success,
		Failed:      failed,
		SuccessRate: rate,
	}
}

// Shutdown stops the Scheduler's worker pool and the Deduplicator's
// eviction loop. Further Submit calls return ErrProcessorShutdown.
func (p *Processor) Shutdown() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	close(p.stopReleases)
	p.dedup.Stop()
	if p.topics != nil {
		p.topics.Stop()
	}
	return p.scheduler.Shutdown(p.cfg.Timeout.Fallback)
}

func (p *Processor) register(id string, sm *StateMachine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.machines[id] = sm
}

func (p *Processor) lookup(id string) (*StateMachine, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sm, ok := p.machines[id]
	return sm, ok
}
