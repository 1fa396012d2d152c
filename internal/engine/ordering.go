package engine

import (
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// OrderState is the outcome of an OrderingCoordinator.IsReady call.
type OrderState int

const (
	// Ready means the caller may proceed immediately.
	Ready OrderState = iota
	// Parked means the message was enqueued in the partition's waiting
	// area and is not yet due.
	Parked
	// Late means the message arrived with a sequence number behind the
	// partition's already-advanced expectation (spec.md §9 open question:
	// late-sequence policy). Callers consult cfg.Ordering.LateSequencePolicy
	// to decide whether Late behaves like Parked or like a failure.
	Late
)

// partition holds the per-partition sequencing state of spec.md §3.
type partition struct {
	mu            sync.Mutex
	nextExpected  int64
	waiting       []*Message // parked, ordered by arrival
}

// OrderingCoordinator implements the per-partition monotone sequence
// gate of spec.md §4.C: isReady/complete, parking and releasing messages
// strictly by sequence number.
type OrderingCoordinator struct {
	cfg    OrderingConfig
	logger *logrus.Logger

	mu         sync.Mutex
	partitions map[string]*partition

	// released receives parked messages that Complete has found due to
	// resume processing; IsReady never sends on it. Callers drain this to
	// learn about releases that happened outside of their own IsReady
	// call.
	released chan *Message
}

// NewOrderingCoordinator constructs an OrderingCoordinator.
func NewOrderingCoordinator(cfg OrderingConfig, logger *logrus.Logger) *OrderingCoordinator {
	if logger == nil {
		logger = logrus.New()
	}
	return &OrderingCoordinator{
		cfg:        cfg,
		logger:     logger,
		partitions: make(map[string]*partition),
		released:   make(chan *Message, cfg.MaxPendingMessages+1),
	}
}

// Released returns the channel of messages released by a completion
// cascade (spec.md §4.C "release on completion").
func (c *OrderingCoordinator) Released() <-chan *Message {
	return c.released
}

func (c *OrderingCoordinator) partitionFor(key string) *partition {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.partitions[key]
	if !ok {
		p = &partition{nextExpected: 1}
		c.partitions[key] = p
	}
	return p
}

// sequenceOf parses tag[sequence] if present, else falls back to the
// message's creation timestamp (spec.md §4.C).
func sequenceOf(msg *Message, logger *logrus.Logger) int64 {
	if raw, ok := msg.Tags[TagSequence]; ok && raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			return seq
		}
		logger.WithFields(logrus.Fields{
			"message_id": msg.ID,
			"sequence":   raw,
		}).Warn("ordering: sequence tag is not an integer, falling back to creation timestamp")
	}
	return msg.CreatedAt.UnixNano()
}

// IsReady implements spec.md §4.C's gate logic for a single message.
func (c *OrderingCoordinator) IsReady(msg *Message) OrderState {
	key := msg.PartitionKey()
	p := c.partitionFor(key)
	seq := sequenceOf(msg, c.logger)

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case seq == p.nextExpected:
		return Ready
	case seq > p.nextExpected:
		c.park(p, msg)
		return Parked
	default: // seq < p.nextExpected: late duplicate or reorder fault.
		c.logger.WithFields(logrus.Fields{
			"message_id":    msg.ID,
			"partition":     key,
			"sequence":      seq,
			"next_expected": p.nextExpected,
		}).Warn("ordering: late/out-of-order sequence")
		return Late
	}
}

// park enqueues msg in p's waiting queue, evicting the oldest parked
// message with a warning on overflow (spec.md §4.C).
func (c *OrderingCoordinator) park(p *partition, msg *Message) {
	if c.cfg.MaxPendingMessages > 0 && len(p.waiting) >= c.cfg.MaxPendingMessages {
		evicted := p.waiting[0]
		p.waiting = p.waiting[1:]
		c.logger.WithFields(logrus.Fields{
			"evicted_message_id": evicted.ID,
			"partition":          msg.PartitionKey(),
		}).Warn("ordering: waiting queue overflow, evicted oldest parked message")
	}
	p.waiting = append(p.waiting, msg)
}

// Complete reports successful handling of msg, advances the partition's
// expected sequence by one, and releases the parked message whose
// sequence is now due (spec.md §4.C "release on completion"). The
// released message observes Ready on its next IsReady call; its own
// Complete continues the cascade.
func (c *OrderingCoordinator) Complete(msg *Message) {
	key := msg.PartitionKey()
	p := c.partitionFor(key)

	p.mu.Lock()
	p.nextExpected++

	for {
		idx := -1
		for i, parked := range p.waiting {
			if sequenceOf(parked, c.logger) == p.nextExpected {
				idx = i
				break
			}
		}
		if idx == -1 {
			break
		}

		released := p.waiting[idx]
		p.waiting = append(p.waiting[:idx], p.waiting[idx+1:]...)

		select {
		case c.released <- released:
		default:
			c.logger.WithField("message_id", released.ID).
				Warn("ordering: released channel full, dropping release notification")
		}
	}
	p.mu.Unlock()
}

// RemovePartition explicitly cleans up a partition's state (spec.md
// §4.C "Partition cleanup"). No automatic GC of idle partitions runs.
func (c *OrderingCoordinator) RemovePartition(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.partitions, key)
}

// PendingCount returns the number of parked messages for key, for tests
// and observability.
func (c *OrderingCoordinator) PendingCount(key string) int {
	c.mu.Lock()
	p, ok := c.partitions[key]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiting)
}
