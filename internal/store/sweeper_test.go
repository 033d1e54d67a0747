package store

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"ctxengine/internal/entry"
)

func TestRunCleanup_RemovesOnlyExpired(t *testing.T) {
	s := New()
	doomed := addEntry(t, s, entry.New(entry.TypeCommandResult, "shell", "transient").
		WithTTL(10*time.Millisecond))
	doomed2 := addEntry(t, s, entry.New(entry.TypeCommandResult, "shell", "also transient").
		WithTTL(10*time.Millisecond))
	keep := addEntry(t, s, entry.New(entry.TypeTask, "planner", "permanent"))
	later := addEntry(t, s, entry.New(entry.TypeTask, "planner", "long ttl").
		WithTTL(time.Hour))

	time.Sleep(30 * time.Millisecond)

	sw := NewSweeper(s, SweeperConfig{})
	stats := sw.RunCleanup()
	if stats.Expired != 2 || stats.Removed != 2 || stats.Skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if s.Contains(doomed) || s.Contains(doomed2) {
		t.Error("expired entries survived the sweep")
	}
	if !s.Contains(keep) || !s.Contains(later) {
		t.Error("sweep removed live entries")
	}

	// A second sweep finds nothing.
	if stats := sw.RunCleanup(); stats.Expired != 0 || stats.Removed != 0 {
		t.Errorf("second sweep saw stale state: %+v", stats)
	}
}

func TestRunCleanup_BatchesCoverAllExpired(t *testing.T) {
	s := New()
	for i := 0; i < 25; i++ {
		addEntry(t, s, entry.New(entry.TypeCommandResult, "shell", "batch fodder").
			WithTTL(5*time.Millisecond))
	}
	time.Sleep(30 * time.Millisecond)

	sw := NewSweeper(s, SweeperConfig{BatchSize: 10})
	stats := sw.RunCleanup()
	if stats.Removed != 25 {
		t.Errorf("batching dropped entries: removed %d of 25", stats.Removed)
	}
	if st := s.Stats(); st.Total != 0 {
		t.Errorf("%d entries left after sweep", st.Total)
	}
}

func TestSweeper_PauseResume(t *testing.T) {
	s := New()
	id := addEntry(t, s, entry.New(entry.TypeCommandResult, "shell", "paused victim").
		WithTTL(5*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	sw := NewSweeper(s, SweeperConfig{})
	sw.Pause()
	if !sw.Paused() {
		t.Fatal("Paused() false after Pause")
	}
	if stats := sw.RunCleanup(); stats.Skipped != 1 || stats.Removed != 0 {
		t.Fatalf("paused sweep still ran: %+v", stats)
	}
	if !s.Contains(id) {
		t.Fatal("paused sweep removed an entry")
	}

	sw.Resume()
	if sw.Paused() {
		t.Fatal("Paused() true after Resume")
	}
	if stats := sw.RunCleanup(); stats.Removed != 1 {
		t.Fatalf("resumed sweep did not remove: %+v", stats)
	}
}

func TestSweeper_StartStopNoLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New()
	addEntry(t, s, entry.New(entry.TypeCommandResult, "shell", "ticker fodder").
		WithTTL(5*time.Millisecond))

	sw := NewSweeper(s, SweeperConfig{Interval: 10 * time.Millisecond})
	sw.Start()
	sw.Start() // second call is a no-op

	// Let a few ticks fire.
	time.Sleep(50 * time.Millisecond)

	sw.Stop()
	sw.Stop() // idempotent

	if st := s.Stats(); st.Total != 0 {
		t.Errorf("timed sweeps left %d entries", st.Total)
	}
}

func TestSweeper_ConcurrentTriggersDoNotDouble(t *testing.T) {
	s := New()
	for i := 0; i < 50; i++ {
		addEntry(t, s, entry.New(entry.TypeCommandResult, "shell", "contended").
			WithTTL(5*time.Millisecond))
	}
	time.Sleep(20 * time.Millisecond)

	sw := NewSweeper(s, SweeperConfig{})
	results := make(chan SweepStats, 4)
	for i := 0; i < 4; i++ {
		go func() { results <- sw.RunCleanup() }()
	}

	var removed, skipped int
	for i := 0; i < 4; i++ {
		st := <-results
		removed += st.Removed
		skipped += st.Skipped
	}
	if removed != 50 {
		t.Errorf("total removed %d, want 50", removed)
	}
	if skipped == 0 && removed == 50 {
		// All four could in principle interleave snapshot/remove, but
		// Remove idempotence keeps the total exact regardless.
		t.Log("no trigger was skipped; mutual exclusion untested this run")
	}
	if s.Stats().Total != 0 {
		t.Error("entries left after concurrent sweeps")
	}
}
