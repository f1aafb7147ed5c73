package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/task"
)

var (
	ErrClosed      = errors.New("storage closed")
	ErrInvalidName = errors.New("invalid task name")
)

// Config configures storage.
//
// Driver values:
//   - "file" (default): Path is a directory
//   - "sqlite": Path is a database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecords maps task name to the start time of its latest attempt.
type RunRecords map[string]time.Time

// EnabledRecords maps task name to the enabled flag observed last cycle.
type EnabledRecords map[string]bool

// Store is the persistence API used by the scheduler and source tasks.
//
// Missing or unreadable state is not an error for the Load methods: they
// return empty records so a fresh install behaves like a cold start.
type Store interface {
	task.ResultStore

	LoadRunRecords(ctx context.Context) (RunRecords, error)
	SaveRunRecords(ctx context.Context, r RunRecords) error
	LoadEnabledRecords(ctx context.Context) (EnabledRecords, error)
	SaveEnabledRecords(ctx context.Context, r EnabledRecords) error
	DeleteCached(ctx context.Context, name string) error

	Close() error
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	for _, r := range name {
		if r == '/' || r == '\\' || r == 0 {
			return false
		}
	}
	return true
}
