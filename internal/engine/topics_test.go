package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicPublisher_DispatchesToSubscribedTopicOnly(t *testing.T) {
	pub := NewTopicPublisher(2, 16, nil)
	t.Cleanup(pub.Stop)

	var mu sync.Mutex
	var admissionEvents, transportEvents int

	pub.Subscribe(TopicAdmission, func(TopicEvent) {
		mu.Lock()
		admissionEvents++
		mu.Unlock()
	})
	pub.Subscribe(TopicTransport, func(TopicEvent) {
		mu.Lock()
		transportEvents++
		mu.Unlock()
	})

	listener := pub.Listener()
	msg := NewMessage(NewMessageOptions{Topic: "orders"})
	listener(msg, StateInit, StateDedupChecking, EventStartProcessing, nil)
	listener(msg, StatePreprocessing, StateSending, EventPreprocessComplete, nil)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return admissionEvents == 1 && transportEvents == 1
	}, time.Second, 10*time.Millisecond)
}

func TestTopicForState_ClassifiesFamilies(t *testing.T) {
	assert.Equal(t, TopicAdmission, topicForState(StateDedupChecking))
	assert.Equal(t, TopicTransport, topicForState(StateSending))
	assert.Equal(t, TopicFailure, topicForState(StateRetrying))
	assert.Equal(t, TopicLifecycle, topicForState(StateConfirmed))
}
