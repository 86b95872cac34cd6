package store

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Purger is the slice of a result store the janitor needs
type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Janitor expires old workflow records on a cron schedule. Retention is
// owned by the store, not by the orchestrator.
type Janitor struct {
	purger    Purger
	retention time.Duration
	schedule  string
	cron      *cron.Cron
}

// NewJanitor creates a retention janitor. An empty schedule defaults to
// hourly sweeps.
func NewJanitor(purger Purger, retention time.Duration, schedule string) *Janitor {
	if schedule == "" {
		schedule = "@hourly"
	}
	return &Janitor{
		purger:    purger,
		retention: retention,
		schedule:  schedule,
		cron:      cron.New(),
	}
}

// Start schedules the sweep. A zero or negative retention disables the
// janitor entirely.
func (j *Janitor) Start(ctx context.Context) error {
	if j.retention <= 0 {
		log.Printf("[Janitor] Retention disabled, not starting")
		return nil
	}
	if _, err := j.cron.AddFunc(j.schedule, func() { j.sweep(ctx) }); err != nil {
		return err
	}
	j.cron.Start()
	log.Printf("[Janitor] Sweeping %s with retention %s", j.schedule, j.retention)
	return nil
}

// Stop halts future sweeps
func (j *Janitor) Stop() {
	j.cron.Stop()
}

func (j *Janitor) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-j.retention)
	purged, err := j.purger.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		log.Printf("[Janitor] Sweep failed: %v", err)
		return
	}
	if purged > 0 {
		log.Printf("[Janitor] Purged %d expired workflows", purged)
	}
}
