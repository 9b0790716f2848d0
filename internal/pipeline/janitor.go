package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/malikkhubiev/qdrant/internal/metrics"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Janitor purges expired speech artifacts on a cron schedule.
type Janitor struct {
	store     *ArtifactStore
	retention time.Duration
	cron      *cron.Cron
}

// NewJanitor validates schedule (standard cron or a descriptor like "@every 10m").
func NewJanitor(store *ArtifactStore, schedule string, retention time.Duration) (*Janitor, error) {
	j := &Janitor{
		store:     store,
		retention: retention,
		cron:      cron.New(cron.WithParser(cronParser)),
	}
	if _, err := j.cron.AddFunc(schedule, j.Sweep); err != nil {
		return nil, fmt.Errorf("janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Sweep runs one purge pass.
func (j *Janitor) Sweep() {
	n, err := j.store.Purge(j.retention, time.Now())
	if err != nil {
		slog.Warn("audio purge failed", "error", err)
		return
	}
	if n > 0 {
		metrics.ArtifactsPurged.Add(float64(n))
		slog.Info("audio artifacts purged", "count", n, "retention", j.retention)
	}
}

func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() { <-j.cron.Stop().Done() }
