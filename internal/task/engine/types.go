package engine

import (
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/task"
)

// Outcome classifies a bounded execution.
type Outcome int

const (
	Completed Outcome = iota
	TimedOut
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is what the executor observed. Payload is only meaningful for
// Completed; callers substitute their fallback otherwise.
type Result struct {
	Name     string
	Payload  task.Payload
	Outcome  Outcome
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Job is one task plus the timeout it runs under.
type Job struct {
	Task    task.Task
	Timeout time.Duration
}
