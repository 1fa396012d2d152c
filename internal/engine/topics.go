package engine

import (
	"github.com/sirupsen/logrus"

	"github.com/helixagent/msgflow/internal/concurrency"
)

// Topic names a family of message-lifecycle events, generalizing the
// teacher's TopicTask*/TaskEventType taxonomy in internal/background's
// events.go from one task-completion notification to the full
// admission/transport/failure/lifecycle surface this engine tracks.
type Topic string

const (
	TopicAdmission Topic = "admission" // dedup, rate limit, ordering decisions
	TopicTransport Topic = "transport" // preprocessing, sending, sent, confirm
	TopicFailure   Topic = "failure"   // fail, timeout, retry sub-loop
	TopicLifecycle Topic = "lifecycle" // terminal states, archive
)

// topicForState classifies a state into the Topic its transitions into
// it should be published under.
func topicForState(s State) Topic {
	switch s {
	case StateDedupChecking, StateDuplicate, StateRateLimiting, StateRateLimited,
		StateQueued, StateOrderingWait:
		return TopicAdmission
	case StatePreprocessing, StateSending, StateSendPaused, StateSent, StatePartialConfirmed:
		return TopicTransport
	case StateFailed, StateRetryPreparing, StateRetrying, StateRetryDelayed, StateTimeout:
		return TopicFailure
	default:
		return TopicLifecycle
	}
}

// TopicEvent is published to a TopicPublisher's subscribers whenever a
// tracked StateMachine fires a transition.
type TopicEvent struct {
	Topic     Topic
	MessageID string
	From      State
	To        State
	Event     Event
}

// TopicSubscriber receives TopicEvents; like Listener, it must not block
// and must not call back into the StateMachine that produced the event.
type TopicSubscriber func(TopicEvent)

// TopicPublisher fans transition notifications out to subscribers
// without blocking the StateMachine that produced them, the same
// non-blocking-dispatch shape as internal/concurrency's AsyncProcessor.
type TopicPublisher struct {
	dispatch    *concurrency.AsyncProcessor
	logger      *logrus.Logger
	subscribers map[Topic][]TopicSubscriber
}

// NewTopicPublisher constructs a TopicPublisher backed by an
// AsyncProcessor with the given worker/queue sizing.
func NewTopicPublisher(workers, queueSize int, logger *logrus.Logger) *TopicPublisher {
	if logger == nil {
		logger = logrus.New()
	}
	return &TopicPublisher{
		dispatch:    concurrency.NewAsyncProcessor(workers, queueSize),
		logger:      logger,
		subscribers: make(map[Topic][]TopicSubscriber),
	}
}

// Subscribe registers sub to receive every TopicEvent published under
// topic. Not safe to call concurrently with Publish; subscribe during
// setup, before Listener is attached to any StateMachine.
func (p *TopicPublisher) Subscribe(topic Topic, sub TopicSubscriber) {
	p.subscribers[topic] = append(p.subscribers[topic], sub)
}

// Listener returns a Listener that publishes every transition to its
// topic's subscribers, dispatched off the firing goroutine.
func (p *TopicPublisher) Listener() Listener {
	return func(msg *Message, from, to State, event Event, _ map[string]interface{}) {
		evt := TopicEvent{Topic: topicForState(to), MessageID: msg.ID, From: from, To: to, Event: event}
		if ok := p.dispatch.Submit(func() { p.publish(evt) }); !ok {
			p.logger.WithField("message_id", msg.ID).Warn("topics: dispatch queue full, dropping notification")
		}
	}
}

func (p *TopicPublisher) publish(evt TopicEvent) {
	for _, sub := range p.subscribers[evt.Topic] {
		sub(evt)
	}
}

// Stop stops the underlying dispatcher and waits for running
// notifications to finish; notifications still queued may be dropped.
func (p *TopicPublisher) Stop() {
	p.dispatch.Stop()
}
