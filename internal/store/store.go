// Package store persists run history: every pipeline run, its status
// transitions, and the final result, so completed analyses survive
// process restarts and are queryable over the API.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/terrawatch/eo-analyzer/internal/model"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = eris.New("store: run not found")

// Store is the run-history persistence interface.
type Store interface {
	// CreateRun inserts a new run in its initial status.
	CreateRun(ctx context.Context, run *model.Run) error
	// UpdateRunStatus moves a run to a new status.
	UpdateRunStatus(ctx context.Context, id string, status model.RunStatus) error
	// SaveRunResult stores the final result and terminal status.
	SaveRunResult(ctx context.Context, id string, status model.RunStatus, result *model.RunResult) error
	// RecordStage appends a completed stage for a run so progress is
	// observable while the run is still executing.
	RecordStage(ctx context.Context, runID string, stage model.StageResult) error
	// GetRun fetches one run by id.
	GetRun(ctx context.Context, id string) (*model.Run, error)
	// ListRuns returns runs newest-first, capped at limit.
	ListRuns(ctx context.Context, limit int) ([]*model.Run, error)
	// Close releases the underlying connection.
	Close() error
}
