package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeduplicator(t *testing.T, cfg DedupConfig) *Deduplicator {
	t.Helper()
	d := NewDeduplicator(cfg, nil)
	t.Cleanup(d.Stop)
	return d
}

func TestDeduplicator_FirstSightingIsUnique(t *testing.T) {
	cfg := DedupConfig{WindowMs: 300_000, MaxCacheSize: 1000, FingerprintWithIdentifier: true}
	d := newTestDeduplicator(t, cfg)

	msg := NewMessage(NewMessageOptions{Topic: "orders", Body: "payload"})
	assert.Equal(t, DedupUnique, d.Check(msg))
}

func TestDeduplicator_RepeatWithinWindowIsDuplicate(t *testing.T) {
	cfg := DedupConfig{WindowMs: 300_000, MaxCacheSize: 1000, FingerprintWithIdentifier: false}
	d := newTestDeduplicator(t, cfg)

	a := NewMessage(NewMessageOptions{Topic: "orders", Body: "payload"})
	b := NewMessage(NewMessageOptions{Topic: "orders", Body: "payload"})

	require.Equal(t, DedupUnique, d.Check(a))
	assert.Equal(t, DedupDuplicate, d.Check(b))
}

func TestDeduplicator_DifferentIdentifierUniqueWhenFingerprintingIncludesIt(t *testing.T) {
	cfg := DedupConfig{WindowMs: 300_000, MaxCacheSize: 1000, FingerprintWithIdentifier: true}
	d := newTestDeduplicator(t, cfg)

	a := NewMessage(NewMessageOptions{ID: "a", Topic: "orders", Body: "payload"})
	b := NewMessage(NewMessageOptions{ID: "b", Topic: "orders", Body: "payload"})

	require.Equal(t, DedupUnique, d.Check(a))
	assert.Equal(t, DedupUnique, d.Check(b))
}

func TestDeduplicator_OutsideWindowIsUniqueAgain(t *testing.T) {
	cfg := DedupConfig{WindowMs: 1, MaxCacheSize: 1000, FingerprintWithIdentifier: false}
	d := newTestDeduplicator(t, cfg)

	a := NewMessage(NewMessageOptions{Topic: "orders", Body: "payload"})
	b := NewMessage(NewMessageOptions{Topic: "orders", Body: "payload"})

	require.Equal(t, DedupUnique, d.Check(a))
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, DedupUnique, d.Check(b))
}

func TestDeduplicator_UnknownDigestFallsBackToFNV(t *testing.T) {
	cfg := DedupConfig{WindowMs: 300_000, MaxCacheSize: 1000, DigestAlgorithm: "md5", FingerprintWithIdentifier: false}
	d := newTestDeduplicator(t, cfg)

	msg := NewMessage(NewMessageOptions{Topic: "orders", Body: "payload"})
	assert.Equal(t, DedupUnique, d.Check(msg))
	assert.True(t, d.fallbackDigest.Load())
}

func TestDeduplicator_SizeTracksLiveEntries(t *testing.T) {
	cfg := DedupConfig{WindowMs: 300_000, MaxCacheSize: 1000, FingerprintWithIdentifier: true}
	d := newTestDeduplicator(t, cfg)

	for i := 0; i < 5; i++ {
		msg := NewMessage(NewMessageOptions{Topic: "orders", Body: "payload"})
		d.Check(msg)
	}
	assert.EqualValues(t, 5, d.Size())
}
