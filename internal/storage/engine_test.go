package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStoreEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "store.frag"))
	cfg.SweepIntervalMS = 20
	cfg.Maintenance.Workers = 1
	cfg.Maintenance.QueueDepth = 4
	eng, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestEngineOpenAssignsDatabaseIDOnFirstOpen(t *testing.T) {
	eng := openTestStoreEngine(t)

	first, err := eng.OpenDatabase("orders")
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	if first.ID == 0 {
		t.Fatalf("expected a nonzero database_id on first open")
	}

	second, err := eng.OpenDatabase("orders")
	if err != nil {
		t.Fatalf("OpenDatabase (reopen): %v", err)
	}
	if second.ID != first.ID || second.UUID != first.UUID {
		t.Fatalf("reopening an existing database must return the same identity, got %+v want %+v", second, first)
	}

	res, err := eng.OpenResource(first.ID, "customers")
	if err != nil {
		t.Fatalf("OpenResource: %v", err)
	}
	if res.DatabaseID != first.ID {
		t.Fatalf("resource.DatabaseID = %d, want %d", res.DatabaseID, first.ID)
	}
}

func TestEngineSweepRunsThroughScheduler(t *testing.T) {
	eng := openTestStoreEngine(t)

	wt, err := eng.Pager.BeginWrite(1)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := wt.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// The scheduler's interval probe drives SweepOnce on its own cadence;
	// wait for it to fire at least once rather than calling SweepOnce
	// directly, proving the probe is actually wired rather than merely
	// constructed.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && eng.Submitted() == 0 {
		time.Sleep(25 * time.Millisecond)
	}
	if eng.Submitted() == 0 {
		t.Fatalf("expected the scheduler to have submitted at least one maintenance task")
	}
}
