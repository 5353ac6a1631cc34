package stores

import (
	"context"
	"errors"

	"github.com/yodler/yodler/pkg/engine"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// ListOptions filter and paginate ListRuns. Zero values match everything.
type ListOptions struct {
	Limit    int
	Offset   int
	Host     string
	Scenario string
	Status   engine.RunStatus
}

// Store defines the interface for the run history.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Runs
	SaveRun(ctx context.Context, run *engine.Run, events []engine.Event) error
	GetRun(ctx context.Context, id string) (*engine.Run, error)
	ListRuns(ctx context.Context, opts ListOptions) ([]*engine.Run, error)
	ListEvents(ctx context.Context, runID string) ([]engine.Event, error)
	DeleteRun(ctx context.Context, id string) error

	// Utility
	HealthCheck(ctx context.Context) error
}
