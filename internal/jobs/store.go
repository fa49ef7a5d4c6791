// Package jobs records the lifecycle of asynchronous analysis jobs. Each job
// is written once by its background task and read by any number of pollers.
package jobs

import (
	"context"
	"errors"

	"mcp-food-log/internal/models"
)

var (
	ErrNotFound       = errors.New("analysis job not found")
	ErrExists         = errors.New("analysis job already exists")
	ErrAlreadySettled = errors.New("analysis job already settled")
)

// Store is the status store contract. Complete and Fail settle a pending job
// exactly once; later calls return ErrAlreadySettled and change nothing.
type Store interface {
	Create(ctx context.Context, id string, media *models.MediaRef) error
	Complete(ctx context.Context, id string, result *models.MealAnalysis) error
	Fail(ctx context.Context, id string, message string) error
	Get(ctx context.Context, id string) (*models.AnalysisJob, error)
	// ListMediaRefs returns the media references of jobs whose id starts
	// with prefix; an empty prefix lists all.
	ListMediaRefs(ctx context.Context, prefix string) ([]models.MediaRef, error)
	// Delete removes every record of a job. Unknown ids are not an error.
	Delete(ctx context.Context, id string) error

	RecordSweep(ctx context.Context, stats models.SweepStats) error
	LastSweep(ctx context.Context) (*models.SweepStats, error)
}
