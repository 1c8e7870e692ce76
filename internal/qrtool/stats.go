package qrtool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DailyTTL is how long per-day counters are kept.
const DailyTTL = 30 * 24 * time.Hour

// Store is a set of named counters.
type Store interface {
	// Incr adds one to key and returns the new value. A positive ttl sets the
	// key to expire that long after the call.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns 0 for keys that were never incremented.
	Get(ctx context.Context, key string) (int64, error)
}

// MemoryStore keeps counters in process memory. Expiry is not enforced.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: map[string]int64{}}
}

func (m *MemoryStore) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key], nil
}

// Stats summarises generated codes.
type Stats struct {
	Total int64            `json:"total"`
	Today int64            `json:"today"`
	ByECC map[string]int64 `json:"byEcc"`
}

// Recorder counts generated codes in a Store.
type Recorder struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, now: time.Now}
}

func dayKey(t time.Time) string {
	return "day:" + t.UTC().Format(time.DateOnly)
}

func eccKey(ecc string) string {
	return "ecc:" + ecc
}

// Record counts one generated code. Every counter is attempted; the first
// failure is returned.
func (r *Recorder) Record(ctx context.Context, ecc string) error {
	var firstErr error
	incr := func(key string, ttl time.Duration) {
		if _, err := r.store.Incr(ctx, key, ttl); err != nil {
			r.logger.Warn("stats increment failed", "key", key, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("increment %s: %w", key, err)
			}
		}
	}
	incr("total", 0)
	incr(dayKey(r.now()), DailyTTL)
	incr(eccKey(ecc), 0)
	return firstErr
}

func (r *Recorder) Snapshot(ctx context.Context) (Stats, error) {
	s := Stats{ByECC: make(map[string]int64, len(ECCs))}
	var err error
	if s.Total, err = r.store.Get(ctx, "total"); err != nil {
		return Stats{}, err
	}
	if s.Today, err = r.store.Get(ctx, dayKey(r.now())); err != nil {
		return Stats{}, err
	}
	for _, ecc := range ECCs {
		if s.ByECC[ecc], err = r.store.Get(ctx, eccKey(ecc)); err != nil {
			return Stats{}, err
		}
	}
	return s, nil
}
