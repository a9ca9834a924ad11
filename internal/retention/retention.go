// Package retention is the Retention Scheduler (spec §4.4): a single
// periodic task that, every P_v, runs three independent bounded steps —
// age vacuum over every in-RAM buffer, a persisted-row vacuum, and an
// idle sweep of the Channel Registry.
//
// Grounded on the teacher's internal/bot/storage.go Storage.Start()
// select-loop shape (a ctx-cancelable ticking goroutine), generalized
// from a single queue-drain responsibility into a three-step tick.
package retention

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// BufferVacuumer is the narrow slice of the Channel Registry the
// scheduler drives for the age-vacuum and idle-sweep steps.
type BufferVacuumer interface {
	VacuumAll(cutoff time.Time) int
	Sweep(ctx context.Context, now time.Time)
}

// PersistenceVacuumer is the narrow slice of the Persistence Adapter the
// scheduler drives for the persisted-row vacuum step.
type PersistenceVacuumer interface {
	Vacuum(ctx context.Context, cutoff time.Time) error
}

// Scheduler ticks every Period, running the three retention steps each
// time: the age vacuum and the persisted-row vacuum run concurrently on
// their own goroutines, and the idle sweep runs after both have finished.
// The next tick never starts until all three of the current one finish.
type Scheduler struct {
	Period    time.Duration
	Retention time.Duration

	Registry BufferVacuumer
	Persist  PersistenceVacuumer
}

// Run blocks, ticking every s.Period until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Period)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if err := s.tick(ctx, now); err != nil {
				log.Print(err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.Retention)

	var (
		merr    *multierror.Error
		wg      sync.WaitGroup
		dbErr   error
		dropped int
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		dropped = s.Registry.VacuumAll(cutoff)
	}()
	go func() {
		defer wg.Done()
		dbErr = s.Persist.Vacuum(ctx, cutoff)
	}()
	wg.Wait()

	if dbErr != nil {
		merr = multierror.Append(merr, dbErr)
	}
	if dropped > 0 {
		log.Printf("retention: dropped %d aged-out messages from RAM buffers", dropped)
	}

	s.Registry.Sweep(ctx, now)

	return merr.ErrorOrNil()
}
