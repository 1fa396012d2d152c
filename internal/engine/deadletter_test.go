package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeadLetterStore_RecordGetRemove(t *testing.T) {
	store := NewDeadLetterStore()
	msg := NewMessage(NewMessageOptions{Topic: "orders", Body: "payload"})

	store.Record(msg, "max retries exceeded")
	entry, ok := store.Get(msg.ID)
	assert.True(t, ok)
	assert.Equal(t, "max retries exceeded", entry.Reason)
	assert.Equal(t, 1, store.Len())

	store.Remove(msg.ID)
	_, ok = store.Get(msg.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

func TestDeadLetterStore_ListSnapshotsAllEntries(t *testing.T) {
	store := NewDeadLetterStore()
	for i := 0; i < 3; i++ {
		store.Record(NewMessage(NewMessageOptions{Topic: "orders"}), "fail")
	}
	assert.Len(t, store.List(), 3)
}
