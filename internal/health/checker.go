// Package health runs periodic self-probes of the ledger: a storage ping
// and a recomputation of the tail entry's hash. A broken tail link is the
// cheapest possible tamper signal and is surfaced through the same alert
// path as a full verification failure.
package health

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/veritas-audit/veritas/internal/ledger"
	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Pinger reports whether the backing store is reachable. pgxpool.Pool
// satisfies it directly.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AlertFunc is an optional callback fired when a probe degrades.
type AlertFunc func(ctx context.Context, probe string, detail string)

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(success bool)

// Status is a point-in-time snapshot of the last probe round.
type Status struct {
	Storage   bool      `json:"storage"`
	TailLink  bool      `json:"tail_link"`
	TailSeq   int64     `json:"tail_seq"`
	CheckedAt time.Time `json:"checked_at"`
}

// Healthy reports whether every probe passed.
func (s Status) Healthy() bool {
	return s.Storage && s.TailLink
}

// Checker runs the periodic probe loop.
type Checker struct {
	entries ledger.Reader
	pinger  Pinger

	mu         sync.Mutex
	last       Status
	failCounts map[string]int

	cfg       Config
	onAlert   AlertFunc
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a Checker. pinger may be nil for in-memory storage.
func New(entries ledger.Reader, pinger Pinger, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &Checker{
		entries:    entries,
		pinger:     pinger,
		failCounts: make(map[string]int),
		cfg:        cfg,
		last:       Status{Storage: true, TailLink: true},
		logger:     logger,
	}
}

// SetAlert configures the degradation alert callback.
func (c *Checker) SetAlert(fn AlertFunc) {
	c.onAlert = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (c *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	c.onMetrics = fn
}

// Last returns the most recent probe snapshot.
func (c *Checker) Last() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Start runs the probe loop until quit is signalled.
func (c *Checker) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ProbeTimeout)
			c.CheckOnce(ctx)
			cancel()
		case <-quit:
			return
		}
	}
}

// CheckOnce runs a single probe round and updates the snapshot.
func (c *Checker) CheckOnce(ctx context.Context) Status {
	s := Status{CheckedAt: time.Now().UTC()}

	s.Storage = c.probeStorage(ctx)
	s.TailLink, s.TailSeq = c.probeTail(ctx)

	if c.onMetrics != nil {
		c.onMetrics(s.Healthy())
	}
	c.track(ctx, "storage", s.Storage, "storage unreachable")
	c.track(ctx, "tail_link", s.TailLink, "tail entry hash does not recompute")

	c.mu.Lock()
	c.last = s
	c.mu.Unlock()
	return s
}

// track counts consecutive failures per probe and fires the alert exactly
// once, at the threshold.
func (c *Checker) track(ctx context.Context, probe string, success bool, detail string) {
	c.mu.Lock()
	if success {
		c.failCounts[probe] = 0
		c.mu.Unlock()
		return
	}
	c.failCounts[probe]++
	count := c.failCounts[probe]
	c.mu.Unlock()

	c.logger.Warn("health probe failed",
		zap.String("probe", probe),
		zap.Int("fail_count", count),
	)
	if count == c.cfg.FailThreshold && c.onAlert != nil {
		c.onAlert(ctx, probe, detail)
	}
}

func (c *Checker) probeStorage(ctx context.Context) bool {
	if c.pinger == nil {
		return true
	}
	if err := c.pinger.Ping(ctx); err != nil {
		c.logger.Error("health: storage ping", zap.Error(err))
		return false
	}
	return true
}

// probeTail re-reads the tail entry and recomputes its hash. An empty
// ledger passes trivially.
func (c *Checker) probeTail(ctx context.Context) (bool, int64) {
	seq, _, err := c.entries.Tail(ctx)
	if err != nil {
		c.logger.Error("health: read tail", zap.Error(err))
		return false, 0
	}
	if seq == 0 {
		return true, 0
	}

	entry, err := c.entries.Entry(ctx, seq)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			// Tail advanced past a hole; that is corruption, not a race.
			return false, seq
		}
		c.logger.Error("health: read tail entry", zap.Error(err))
		return false, seq
	}

	recomputed, err := ledger.RecomputeHash(entry)
	if err != nil || recomputed != entry.Hash {
		return false, seq
	}
	return true, seq
}
