// Package scheduler keeps the exported result sets fresh on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"showtime-analytics/metrics"
	"showtime-analytics/storage"
	"showtime-analytics/utils"
)

// Refresher loads a result set from one Source and writes it to every
// configured writer.
type Refresher struct {
	source  storage.Source
	writers []storage.ResultWriter
	timeout time.Duration
	logger  *utils.Logger
}

// refreshLabel is the metrics label; refreshes always read the live API.
const refreshLabel = "live"

func NewRefresher(source storage.Source, writers []storage.ResultWriter, timeout time.Duration, logger *utils.Logger) *Refresher {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Refresher{source: source, writers: writers, timeout: timeout, logger: logger}
}

// Run performs one refresh. A failed load leaves the previous exports
// untouched. Writer failures are collected and returned together.
func (r *Refresher) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rs, err := r.source.Load(ctx)
	if err != nil {
		metrics.Refreshes.WithLabelValues(refreshLabel, "load_failed").Inc()
		return fmt.Errorf("refresh: load: %w", err)
	}

	var errs []error
	for _, w := range r.writers {
		if err := w.Write(ctx, rs); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		metrics.Refreshes.WithLabelValues(refreshLabel, "write_failed").Inc()
		return fmt.Errorf("refresh: export: %w", errors.Join(errs...))
	}

	metrics.Refreshes.WithLabelValues(refreshLabel, "ok").Inc()
	r.logger.Info("[scheduler] Exported %d rows to %d writer(s)", len(rs.Rows), len(r.writers))
	return nil
}

// Start schedules Run every interval, with one immediate run. Overlapping
// runs are skipped. The caller owns the returned scheduler and must shut it
// down.
func (r *Refresher) Start(ctx context.Context, interval time.Duration) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: create: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := r.Run(ctx); err != nil {
				r.logger.Error("[scheduler] %v", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("scheduler: add refresh job: %w", err)
	}

	s.Start()
	r.logger.Info("[scheduler] Refresh job started (every %s)", interval)
	return s, nil
}
