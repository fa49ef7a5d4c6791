// Package sweep deletes expired analysis media and the job records that
// point at them.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mcp-food-log/internal/blob"
	"mcp-food-log/internal/jobs"
	"mcp-food-log/internal/metrics"
	"mcp-food-log/internal/models"
)

const (
	DefaultRetention = 5 * time.Minute
	// DefaultPendingGrace is how long past the retention window a job that
	// is still pending keeps its media.
	DefaultPendingGrace = 3 * time.Minute
)

type Sweeper struct {
	jobs      jobs.Store
	blobs     blob.Store
	retention time.Duration
	grace     time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Sweeper)

func WithLogger(l *zap.Logger) Option { return func(s *Sweeper) { s.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Sweeper) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Sweeper) { s.now = now } }

// WithPendingGrace sets how long after the retention window a pending job
// is left alone. It should cover the longest an analysis can run.
func WithPendingGrace(d time.Duration) Option { return func(s *Sweeper) { s.grace = d } }

func New(store jobs.Store, blobs blob.Store, retention time.Duration, opts ...Option) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	s := &Sweeper{
		jobs:      store,
		blobs:     blobs,
		retention: retention,
		grace:     DefaultPendingGrace,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run makes one pass over every stored media reference. Expired entries
// lose their blob first and then their job record, so a failed blob delete
// leaves the record for the next pass. A job still pending is only removed
// once it is older than the retention window plus the pending grace, so a
// running analysis always gets to settle. With dryRun nothing is deleted
// and Deleted counts what would have been.
func (s *Sweeper) Run(ctx context.Context, dryRun bool) (models.SweepStats, error) {
	stats := models.SweepStats{
		Errors:    []string{},
		StartTime: s.now().UTC(),
		DryRun:    dryRun,
	}
	log := s.logger.With(zap.String("stage", "sweep"), zap.Bool("dry_run", dryRun))

	refs, err := s.jobs.ListMediaRefs(ctx, "")
	if err != nil {
		log.Error("failed to list media references", zap.Error(err))
		stats.Errors = append(stats.Errors, fmt.Sprintf("list media references: %v", err))
		return s.finish(ctx, log, stats), err
	}

	now := s.now()
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			stats.Errors = append(stats.Errors, err.Error())
			return s.finish(ctx, log, stats), err
		}
		stats.Scanned++

		age := now.Sub(ref.CreatedAt)
		if age <= s.retention {
			continue
		}
		if age <= s.retention+s.grace {
			pending, err := s.pending(ctx, ref.JobID)
			if err != nil {
				log.Error("failed to read job status", zap.String("job_id", ref.JobID), zap.Error(err))
				stats.Errors = append(stats.Errors, fmt.Sprintf("read job %s: %v", ref.JobID, err))
				continue
			}
			if pending {
				log.Info("keeping media of running analysis", zap.String("job_id", ref.JobID), zap.Duration("age", age))
				continue
			}
		}
		if dryRun {
			log.Info("would delete expired media", zap.String("job_id", ref.JobID), zap.String("blob", ref.Name), zap.Duration("age", age))
			stats.Deleted++
			continue
		}

		if err := s.blobs.Delete(ctx, ref.Name); err != nil {
			log.Error("failed to delete media blob", zap.String("job_id", ref.JobID), zap.String("blob", ref.Name), zap.Error(err))
			stats.Errors = append(stats.Errors, fmt.Sprintf("delete blob %s: %v", ref.Name, err))
			continue
		}
		if err := s.jobs.Delete(ctx, ref.JobID); err != nil {
			log.Error("failed to delete job record", zap.String("job_id", ref.JobID), zap.Error(err))
			stats.Errors = append(stats.Errors, fmt.Sprintf("delete job %s: %v", ref.JobID, err))
			continue
		}
		log.Info("deleted expired media", zap.String("job_id", ref.JobID), zap.String("blob", ref.Name), zap.Duration("age", age))
		stats.Deleted++
	}

	return s.finish(ctx, log, stats), nil
}

// pending reports whether the job has not settled yet. A job that is
// already gone is not pending.
func (s *Sweeper) pending(ctx context.Context, id string) (bool, error) {
	job, err := s.jobs.Get(ctx, id)
	if errors.Is(err, jobs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !job.Status.Terminal(), nil
}

func (s *Sweeper) finish(ctx context.Context, log *zap.Logger, stats models.SweepStats) models.SweepStats {
	stats.EndTime = s.now().UTC()
	if !stats.DryRun {
		s.metrics.ObserveSweep(stats.Deleted, len(stats.Errors))
	}
	if err := s.jobs.RecordSweep(context.WithoutCancel(ctx), stats); err != nil {
		log.Warn("failed to record sweep statistics", zap.Error(err))
	}
	log.Info("sweep completed",
		zap.Int("scanned", stats.Scanned),
		zap.Int("deleted", stats.Deleted),
		zap.Int("errors", len(stats.Errors)),
	)
	return stats
}

// Start runs the sweep every interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Run(ctx, false)
		}
	}
}
