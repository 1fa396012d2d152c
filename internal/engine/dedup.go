package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/helixagent/msgflow/internal/concurrency"
)

// dedupEntry binds a fingerprint to the timestamp it was last admitted,
// per spec.md §3 (DedupEntry).
type dedupEntry struct {
	fingerprint string
	seenAt      time.Time
}

// Deduplicator implements the window-bounded uniqueness check of
// spec.md §4.A over a concurrent map keyed by message fingerprint.
// Insert-if-absent on sync.Map gives the race-free, first-writer-wins
// admission semantics the spec calls for without an external lock.
type Deduplicator struct {
	cfg    DedupConfig
	logger *logrus.Logger

	entries sync.Map // fingerprint -> *dedupEntry
	size    int64    // approximate cardinality, maintained with atomics

	eviction *concurrency.BackgroundTask

	fallbackDigest atomic.Bool // true once the configured digest proved unavailable
}

// NewDeduplicator constructs a Deduplicator and starts its background
// eviction loop (spec.md §4.A: "A background task runs every 60s").
func NewDeduplicator(cfg DedupConfig, logger *logrus.Logger) *Deduplicator {
	if logger == nil {
		logger = logrus.New()
	}

	d := &Deduplicator{
		cfg:    cfg,
		logger: logger,
	}

	d.eviction = concurrency.NewBackgroundTask(d.evictionLoop)
	d.eviction.Start()

	return d
}

// DedupResult is the outcome of a Check call.
type DedupResult int

const (
	// DedupUnique means the message was admitted as a first sighting, or
	// the prior sighting fell outside the sliding window.
	DedupUnique DedupResult = iota
	// DedupDuplicate means a matching fingerprint was seen within window.
	DedupDuplicate
)

// Check computes msg's fingerprint and applies the insert-if-absent /
// sliding-window-refresh algorithm of spec.md §4.A. Called at most once
// per message during DEDUP_CHECKING.
func (d *Deduplicator) Check(msg *Message) DedupResult {
	fp := d.fingerprint(msg)
	now := time.Now()

	actual, loaded := d.entries.LoadOrStore(fp, &dedupEntry{fingerprint: fp, seenAt: now})
	if !loaded {
		atomic.AddInt64(&d.size, 1)
		return DedupUnique
	}

	entry := actual.(*dedupEntry)
	if now.Sub(entry.seenAt) <= d.cfg.Window() {
		return DedupDuplicate
	}

	// Outside the window: sliding window refresh, still unique.
	d.entries.Store(fp, &dedupEntry{fingerprint: fp, seenAt: now})
	return DedupUnique
}

// fingerprint computes the configured digest over msg's canonical byte
// form, falling back to a non-cryptographic hash if the configured
// algorithm is unavailable (spec.md §4.A failure mode).
func (d *Deduplicator) fingerprint(msg *Message) string {
	data := msg.CanonicalBytes(d.cfg.FingerprintWithIdentifier)

	switch d.cfg.DigestAlgorithm {
	case "", "SHA-256", "sha256":
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	default:
		if d.fallbackDigest.CompareAndSwap(false, true) {
			d.logger.WithField("digest_algorithm", d.cfg.DigestAlgorithm).
				Warn("dedup: configured digest algorithm unavailable, falling back to FNV-1a")
		}
		h := fnv.New64a()
		_, _ = h.Write(data)
		return hex.EncodeToString(h.Sum(nil))
	}
}

// Size returns the approximate number of live entries.
func (d *Deduplicator) Size() int64 {
	return atomic.LoadInt64(&d.size)
}

// evictionLoop runs every 60s, evicting entries older than the window,
// then additionally trimming down to (maxSize - 1000) by oldest
// timestamp if the cache is still over the configured cap — the
// 1000-slack hysteresis spec.md §4.A calls for to avoid eviction
// thrashing.
func (d *Deduplicator) evictionLoop(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.evictOnce()
		}
	}
}

const evictionHysteresis = 1000

func (d *Deduplicator) evictOnce() {
	now := time.Now()
	window := d.cfg.Window()

	remaining := make([]dedupLive, 0, atomic.LoadInt64(&d.size))

	d.entries.Range(func(key, value interface{}) bool {
		entry := value.(*dedupEntry)
		if now.Sub(entry.seenAt) > window {
			d.entries.Delete(key)
			atomic.AddInt64(&d.size, -1)
			return true
		}
		remaining = append(remaining, dedupLive{key: key.(string), seenAt: entry.seenAt})
		return true
	})

	maxSize := d.cfg.MaxCacheSize
	if maxSize <= 0 || len(remaining) <= maxSize {
		return
	}

	target := maxSize - evictionHysteresis
	if target < 0 {
		target = 0
	}
	toEvict := len(remaining) - target
	if toEvict <= 0 {
		return
	}

	sortByOldest(remaining)
	for i := 0; i < toEvict && i < len(remaining); i++ {
		d.entries.Delete(remaining[i].key)
		atomic.AddInt64(&d.size, -1)
	}

	d.logger.WithFields(logrus.Fields{
		"evicted":  toEvict,
		"max_size": maxSize,
	}).Debug("dedup: size-cap eviction")
}

// dedupLive is a lightweight eviction-candidate record: fingerprint key
// plus the timestamp it was last admitted.
type dedupLive struct {
	key    string
	seenAt time.Time
}

func sortByOldest(entries []dedupLive) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].seenAt.Before(entries[j-1].seenAt); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// Stop terminates the background eviction loop.
func (d *Deduplicator) Stop() {
	d.eviction.Stop()
}
