// Package scheduler runs the relay server's periodic background tasks:
// state snapshots for telemetry and journal retention.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaybench/relaybench/internal/config"
)

// Snapshotter publishes the state of every port.
type Snapshotter interface {
	EmitSnapshot(ctx context.Context)
}

// Pruner deletes journal entries older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	snapshots Snapshotter
	journal   Pruner

	snapshotInterval time.Duration
	pruneInterval    time.Duration
	retention        time.Duration
}

// NewScheduler creates a task scheduler. journal may be nil.
func NewScheduler(cfg *config.Config, snapshots Snapshotter, journal Pruner) *Scheduler {
	appData := cfg.GetApplicationData()
	return &Scheduler{
		snapshots:        snapshots,
		journal:          journal,
		snapshotInterval: time.Duration(appData.Timers.SnapshotInterval) * time.Second,
		pruneInterval:    time.Duration(appData.Timers.JournalPruneInterval) * time.Second,
		retention:        time.Duration(appData.Journal.RetentionDays) * 24 * time.Hour,
	}
}

// Start runs every enabled task and blocks until ctx is cancelled.
// A non-positive interval disables its task.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().
		Dur("snapshot_interval", s.snapshotInterval).
		Dur("prune_interval", s.pruneInterval).
		Dur("retention", s.retention).
		Msg("scheduler started")

	var wg sync.WaitGroup

	if s.snapshots != nil && s.snapshotInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			every(ctx, s.snapshotInterval, func() { s.snapshots.EmitSnapshot(ctx) })
		}()
	}

	if s.journal != nil && s.pruneInterval > 0 && s.retention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.pruneJournal(ctx)
			every(ctx, s.pruneInterval, func() { s.pruneJournal(ctx) })
		}()
	}

	<-ctx.Done()
	wg.Wait()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) pruneJournal(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention)
	removed, err := s.journal.Prune(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("journal prune failed")
		}
		return
	}
	if removed > 0 {
		log.Info().
			Int64("removed", removed).
			Time("cutoff", cutoff).
			Msg("journal pruned")
	}
}

// every calls fn on each tick until ctx is cancelled.
func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
