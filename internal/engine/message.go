package engine

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Reserved tag keys (spec.md §3).
const (
	TagPartitionKey = "partitionKey"
	TagSequence     = "sequence"
)

// Message is a uniquely identified record driven through the pipeline by
// a StateMachine. Identifier is immutable after creation and globally
// unique within a process; State is the single source of truth for the
// message's position in the pipeline and is only ever written by the
// owning StateMachine's fire.
type Message struct {
	ID         string
	Topic      string
	Payload    []byte
	Body       string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Priority   int
	MaxRetries int
	Tags       map[string]string

	mu         sync.RWMutex
	state      State
	retryCount int
}

// NewMessageOptions configures NewMessage. Zero values fall back to
// sensible defaults (a generated UUID identifier, a 24-hour expiry, priority 0,
// MaxRetries from the caller's retry config).
type NewMessageOptions struct {
	ID         string
	Topic      string
	Payload    []byte
	Body       string
	Priority   int
	MaxRetries int
	TTL        time.Duration
	Tags       map[string]string
}

// NewMessage constructs a Message in StateInit. If opts.ID is empty a
// random identifier is generated via github.com/google/uuid, mirroring
// the teacher's convention of generating entity IDs with uuid.New()
// (dev.helix.agent/internal/database) rather than hand-rolled counters.
func NewMessage(opts NewMessageOptions) *Message {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	tags := make(map[string]string, len(opts.Tags))
	for k, v := range opts.Tags {
		tags[k] = v
	}

	now := time.Now()
	expires := now.Add(opts.TTL)
	if opts.TTL <= 0 {
		expires = now.Add(24 * time.Hour)
	}

	return &Message{
		ID:         id,
		Topic:      opts.Topic,
		Payload:    opts.Payload,
		Body:       opts.Body,
		CreatedAt:  now,
		ExpiresAt:  expires,
		Priority:   opts.Priority,
		MaxRetries: opts.MaxRetries,
		Tags:       tags,
		state:      StateInit,
	}
}

// State returns the message's current state.
func (m *Message) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// setState is called exclusively from StateMachine.fire under the
// machine's own mutex.
func (m *Message) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// RetryCount returns the current retry count.
func (m *Message) RetryCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retryCount
}

// incrementRetryCount is called exclusively by the PREPARE_RETRY guard.
func (m *Message) incrementRetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryCount++
	return m.retryCount
}

// CanRetry reports whether the message has budget left for another
// retry attempt.
func (m *Message) CanRetry() bool {
	return m.RetryCount() < m.MaxRetries
}

// IsExpired reports whether now is past the message's expiry.
func (m *Message) IsExpired() bool {
	return time.Now().After(m.ExpiresAt)
}

// PartitionKey returns tag[partitionKey] if present, else Topic, else
// "default" (spec.md §3, §4.C).
func (m *Message) PartitionKey() string {
	if v, ok := m.Tags[TagPartitionKey]; ok && v != "" {
		return v
	}
	if m.Topic != "" {
		return m.Topic
	}
	return "default"
}

// CanonicalBytes returns the canonical byte form used for fingerprinting:
// topic, body, identifier, and sorted "key=value" tag pairs, joined by a
// delimiter ('\x1f', ASCII unit separator) that cannot appear in any of
// the constituent fields' normal textual forms.
func (m *Message) CanonicalBytes(includeIdentifier bool) []byte {
	const sep = "\x1f"

	keys := make([]string, 0, len(m.Tags))
	for k := range m.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(m.Topic)
	b.WriteString(sep)
	b.WriteString(m.Body)
	if includeIdentifier {
		b.WriteString(sep)
		b.WriteString(m.ID)
	}
	for _, k := range keys {
		b.WriteString(sep)
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(m.Tags[k])
	}

	return []byte(b.String())
}
