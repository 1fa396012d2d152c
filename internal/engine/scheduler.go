package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/helixagent/msgflow/internal/concurrency"
)

// schedulerPacingDelay is the delay used to simulate the asynchronous
// transport phases (preprocessing completion, send, confirm) when
// Config.Transport.Simulated is true and no real Transport is wired in.
// It exists purely so a simulated run exercises the scheduler's
// delayed-task path instead of firing every transition synchronously
// inline with the one that preceded it.
const schedulerPacingDelay = 10 * time.Millisecond

// Scheduler is the shared worker pool driving every StateMachine's
// post-transition work: arming per-state timeouts, auto-advancing the
// admission/transport stages, scheduling retry backoff, and polling rate
// limiter recovery (spec.md §4.F). It is built on top of
// internal/concurrency.WorkerPool exactly as the teacher's background
// task runner is: a bounded pool of workers draining a task channel,
// not a goroutine-per-timer design.
//
// A Scheduler attaches to a StateMachine via Track, which registers
// itself as a Listener; all further scheduling for that instance is
// driven by the transitions it observes, never by polling.
type Scheduler struct {
	cfg    Config
	pool   *concurrency.WorkerPool
	logger *logrus.Logger
}

// NewScheduler constructs a Scheduler and starts its WorkerPool.
func NewScheduler(cfg Config, poolCfg *concurrency.PoolConfig, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if poolCfg == nil {
		poolCfg = concurrency.DefaultPoolConfig()
	}
	pool := concurrency.NewWorkerPool(poolCfg)
	pool.Start()
	return &Scheduler{cfg: cfg, pool: pool, logger: logger}
}

// Track attaches s to sm: every future transition fired by sm schedules
// whatever post-transition work spec.md §4.F calls for.
func (s *Scheduler) Track(sm *StateMachine) {
	sm.AddListener(func(msg *Message, from, to State, event Event, ctx map[string]interface{}) {
		s.handleTransition(sm, from, to, event)
	})
}

// Shutdown stops accepting new work and waits for in-flight scheduled
// tasks to drain.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	return s.pool.Shutdown(timeout)
}

func (s *Scheduler) handleTransition(sm *StateMachine, from, to State, event Event) {
	if to.IsTimeoutEligible() {
		s.armTimeout(sm, to)
	}

	switch to {
	case StateDedupChecking:
		s.schedule(sm, to, EventCheckDedup, 0)
	case StateRateLimiting:
		s.schedule(sm, to, EventCheckRateLimit, 0)
	case StateRateLimited:
		s.armLimiterRecovery(sm)
	case StateQueued:
		s.schedule(sm, to, EventCheckOrder, 0)
	case StateOrderingWait:
		s.schedule(sm, to, EventCheckOrderInternal, 0)
	case StatePreprocessing:
		if from == StateOrderingWait {
			// This message consumed its partition's ordering slot; advance
			// nextExpected and release the parked message now due, if any
			// (spec.md §4.C "release on completion").
			sm.ordering.Complete(sm.Message())
		}
		s.schedule(sm, to, EventPreprocessComplete, schedulerPacingDelay)
	case StateSending:
		if s.cfg.Transport.Simulated {
			s.schedule(sm, to, EventSent, schedulerPacingDelay)
		}
	case StateSent:
		if s.cfg.Transport.Simulated {
			s.schedule(sm, to, EventConfirm, schedulerPacingDelay)
		}
	case StateRetrying:
		if s.cfg.Transport.Simulated {
			s.schedule(sm, to, EventSent, schedulerPacingDelay)
		}
	case StateFailed, StateTimeout:
		s.schedule(sm, to, EventPrepareRetry, schedulerPacingDelay)
	case StateRetryPreparing:
		s.schedule(sm, to, EventDelayRetry, 0)
	case StateRetryDelayed:
		delay := s.cfg.Retry.Delay(sm.Message().RetryCount())
		s.schedule(sm, to, EventRetryResume, delay)
	}
}

// schedule arms event to fire on sm after delay, but only if sm is still
// in armedState when the timer expires: a message that already moved on
// (cancelled, expired, or advanced by another path) must not be dragged
// back by a stale timer.
func (s *Scheduler) schedule(sm *StateMachine, armedState State, event Event, delay time.Duration) {
	fire := func() {
		if sm.CurrentState() != armedState {
			return
		}
		sm.Fire(event, nil)
	}

	if delay <= 0 {
		s.submit(fire)
		return
	}
	time.AfterFunc(delay, func() { s.submit(fire) })
}

func (s *Scheduler) submit(fn func()) {
	task := concurrency.NewTaskFunc(uuid.NewString(), func(_ context.Context) (interface{}, error) {
		fn()
		return nil, nil
	})
	if err := s.pool.Submit(task); err != nil {
		s.logger.WithError(err).Warn("scheduler: failed to submit task, pool likely shut down")
	}
}

// armTimeout arms EventTimeout to fire after the configured duration for
// armedState, unless the message leaves that state first.
func (s *Scheduler) armTimeout(sm *StateMachine, armedState State) {
	d := s.cfg.Timeout.For(armedState)
	if d <= 0 {
		return
	}
	time.AfterFunc(d, func() {
		s.submit(func() {
			if sm.CurrentState() != armedState {
				return
			}
			sm.Fire(EventTimeout, nil)
		})
	})
}

// armLimiterRecovery polls the rate limiter at the configured interval
// while sm sits in RATE_LIMITED, firing RATE_LIMIT_RECOVERED the first
// time a token is available. The ticker re-arms unconditionally on every
// tick until the message leaves RATE_LIMITED, per the recovery design
// recorded for spec.md §9's rate-limiter-recovery open question.
func (s *Scheduler) armLimiterRecovery(sm *StateMachine) {
	interval := s.cfg.RateLimit.RecoveryCheckInterval()
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	var tick func()
	tick = func() {
		if sm.CurrentState() != StateRateLimited {
			return
		}
		s.submit(func() {
			if sm.CurrentState() != StateRateLimited {
				return
			}
			limiter := sm.limiter
			if limiter.TryAcquire(1) == Granted {
				sm.Fire(EventRateLimitRecovered, nil)
			}
		})
		time.AfterFunc(interval, tick)
	}
	time.AfterFunc(interval, tick)
}
