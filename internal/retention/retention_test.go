package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeRegistry struct {
	mu          sync.Mutex
	vacuumCalls int
	vacuumArg   time.Time
	sweepCalls  int
	sweepArg    time.Time
	dropped     int
}

func (f *fakeRegistry) VacuumAll(cutoff time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vacuumCalls++
	f.vacuumArg = cutoff
	return f.dropped
}

func (f *fakeRegistry) Sweep(ctx context.Context, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweepCalls++
	f.sweepArg = now
}

type fakePersist struct {
	mu        sync.Mutex
	calls     int
	lastErr   error
	returnErr error
}

func (f *fakePersist) Vacuum(ctx context.Context, cutoff time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.returnErr
}

func TestTickRunsAllThreeSteps(t *testing.T) {
	reg := &fakeRegistry{}
	persist := &fakePersist{}
	s := &Scheduler{Period: time.Second, Retention: time.Hour, Registry: reg, Persist: persist}

	now := time.Unix(1_700_000_000, 0)
	if err := s.tick(context.Background(), now); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if reg.vacuumCalls != 1 {
		t.Fatalf("vacuumCalls = %d, want 1", reg.vacuumCalls)
	}
	if reg.sweepCalls != 1 {
		t.Fatalf("sweepCalls = %d, want 1", reg.sweepCalls)
	}
	if persist.calls != 1 {
		t.Fatalf("persist vacuum calls = %d, want 1", persist.calls)
	}
	wantCutoff := now.Add(-time.Hour)
	if !reg.vacuumArg.Equal(wantCutoff) {
		t.Fatalf("vacuum cutoff = %v, want %v", reg.vacuumArg, wantCutoff)
	}
	if !reg.sweepArg.Equal(now) {
		t.Fatalf("sweep arg = %v, want %v", reg.sweepArg, now)
	}
}

func TestTickReturnsPersistenceErrorButStillSweeps(t *testing.T) {
	reg := &fakeRegistry{}
	persist := &fakePersist{returnErr: errors.New("db unreachable")}
	s := &Scheduler{Period: time.Second, Retention: time.Hour, Registry: reg, Persist: persist}

	err := s.tick(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected an aggregated error from the failed persistence vacuum")
	}
	if reg.sweepCalls != 1 {
		t.Fatalf("sweepCalls = %d, want 1 even though persistence vacuum failed", reg.sweepCalls)
	}
}
