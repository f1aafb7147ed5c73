package eventbus

import "time"

// Event types emitted by the orchestrator.
const (
	TypeTaskStarted   = "task.started"
	TypeTaskCompleted = "task.completed"
	TypeTaskTimedOut  = "task.timed_out"
	TypeTaskFailed    = "task.failed"

	TypeCycleSkipped  = "cycle.skipped" // outside active hours
	TypeCycleFinished = "cycle.finished"

	TypeDeliveryFailed = "delivery.failed"
	TypeCleanup        = "cleanup"
	TypeConfigReloaded = "config.reloaded"
)

// TaskEvent describes one bounded execution.
type TaskEvent struct {
	CycleID  string        `json:"cycle_id,omitempty"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration,omitempty"`
	Outcome  string        `json:"outcome,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// CycleEvent summarizes one orchestrator cycle.
type CycleEvent struct {
	CycleID   string        `json:"cycle_id"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	Due       []string      `json:"due,omitempty"`
	NotDue    []string      `json:"not_due,omitempty"`
	Disabled  []string      `json:"disabled,omitempty"`
	Fallbacks []string      `json:"fallbacks,omitempty"`
	Delivered int           `json:"delivered"`
	Failed    int           `json:"failed"`
	Reason    string        `json:"reason,omitempty"`
}

// DeliveryEvent reports a failed publish.
type DeliveryEvent struct {
	CycleID string `json:"cycle_id,omitempty"`
	Name    string `json:"name"`
	Error   string `json:"error"`
}
