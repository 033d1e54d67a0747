package store

import (
	"sync"
	"sync/atomic"
	"time"

	"ctxengine/internal/logging"
)

// SweeperConfig configures the expiration sweeper.
type SweeperConfig struct {
	Interval  time.Duration // How often timed sweeps run
	BatchSize int           // Entries removed per batch within one sweep
}

// DefaultSweeperConfig returns sensible defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:  60 * time.Second,
		BatchSize: 100,
	}
}

// SweepStats reports the outcome of one sweep.
type SweepStats struct {
	Expired int // Ids in the snapshot at sweep start
	Removed int // Actually removed
	Skipped int // Sweep was a no-op (another sweep in progress, or paused)
}

// Sweeper reclaims TTL-expired entries from a store on an interval or on
// demand. Each sweep snapshots the expired ids first and then removes them
// through the normal Remove path, so orphaning rules apply identically to
// manual removal. Sweeps are mutually exclusive: a tick or manual trigger
// that arrives mid-sweep is a no-op, never a queued second sweep.
type Sweeper struct {
	store  *Store
	config SweeperConfig

	sweeping atomic.Bool // in-progress flag; CAS guards sweep entry
	paused   atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewSweeper creates a sweeper over the given store. Zero config fields fall
// back to defaults.
func NewSweeper(s *Store, cfg SweeperConfig) *Sweeper {
	def := DefaultSweeperConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	return &Sweeper{
		store:  s,
		config: cfg,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the background sweep loop. Safe to call once; subsequent
// calls are no-ops.
func (sw *Sweeper) Start() {
	sw.startOnce.Do(func() {
		go sw.loop()
		logging.Sweeper("sweeper started: interval=%s batch=%d", sw.config.Interval, sw.config.BatchSize)
	})
}

// Stop shuts the sweep loop down and waits for it to exit. Idempotent.
func (sw *Sweeper) Stop() {
	sw.stopOnce.Do(func() {
		close(sw.stop)
	})
	<-sw.done
	logging.Sweeper("sweeper stopped")
}

// Pause suspends timed and manual sweeps until Resume.
func (sw *Sweeper) Pause() {
	sw.paused.Store(true)
	logging.Sweeper("sweeper paused")
}

// Resume re-enables sweeping after a Pause.
func (sw *Sweeper) Resume() {
	sw.paused.Store(false)
	logging.Sweeper("sweeper resumed")
}

// Paused reports whether sweeping is currently suspended.
func (sw *Sweeper) Paused() bool {
	return sw.paused.Load()
}

func (sw *Sweeper) loop() {
	defer close(sw.done)

	ticker := time.NewTicker(sw.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-sw.stop:
			return
		case <-ticker.C:
			sw.RunCleanup()
		}
	}
}

// RunCleanup performs one sweep immediately. Returns what happened; never
// panics or propagates per-entry failures, which are logged and skipped.
func (sw *Sweeper) RunCleanup() SweepStats {
	if sw.paused.Load() {
		return SweepStats{Skipped: 1}
	}
	if !sw.sweeping.CompareAndSwap(false, true) {
		logging.SweeperDebug("sweep already in progress, skipping trigger")
		return SweepStats{Skipped: 1}
	}
	defer sw.sweeping.Store(false)

	timer := logging.StartTimer(logging.CategorySweeper, "RunCleanup")
	defer timer.Stop()

	// Snapshot first: entries added after this point are not this sweep's
	// business, and removal never invalidates the snapshot iteration.
	expired := sw.store.ExpiredIDs()
	stats := SweepStats{Expired: len(expired)}
	if len(expired) == 0 {
		return stats
	}

	for start := 0; start < len(expired); start += sw.config.BatchSize {
		end := start + sw.config.BatchSize
		if end > len(expired) {
			end = len(expired)
		}
		for _, id := range expired[start:end] {
			// Remove is idempotent; a concurrent manual removal between
			// snapshot and here simply yields false.
			if sw.store.Remove(id) {
				stats.Removed++
			}
		}
	}

	logging.Sweeper("sweep complete: expired=%d removed=%d", stats.Expired, stats.Removed)
	return stats
}
