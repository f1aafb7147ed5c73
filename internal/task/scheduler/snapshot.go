package scheduler

import (
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/task"
)

// TaskStatus is the observable state of one task.
type TaskStatus struct {
	Name        string        `json:"name"`
	Priority    int           `json:"priority"`
	Enabled     bool          `json:"enabled"`
	Interval    time.Duration `json:"interval"`
	Cron        bool          `json:"cron,omitempty"`
	LastRun     time.Time     `json:"last_run,omitempty"`
	NextDue     time.Time     `json:"next_due,omitempty"`
	LastOutcome string        `json:"last_outcome,omitempty"`
}

type Snapshot struct {
	Active    bool         `json:"active"`
	LastCycle CycleReport  `json:"last_cycle"`
	Tasks     []TaskStatus `json:"tasks"`
}

// Snapshot describes the loaded tasks and the last cycle. Safe for
// concurrent use with Run.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	active := s.active
	last := s.last
	runs := make(map[string]time.Time, len(s.runs))
	for k, v := range s.runs {
		runs[k] = v
	}
	outcomes := make(map[string]string, len(s.outcomes))
	for k, v := range s.outcomes {
		outcomes[k] = v
	}
	s.mu.Unlock()

	items := make([]TaskStatus, 0, len(s.tasks))
	for i, t := range s.tasks {
		d := task.Describe(t, i)
		it := TaskStatus{
			Name:        d.Name,
			Priority:    d.Priority,
			Enabled:     d.Enabled,
			Interval:    d.Interval,
			Cron:        d.Schedule != nil,
			LastRun:     runs[d.Name],
			LastOutcome: outcomes[d.Name],
		}
		if !it.LastRun.IsZero() {
			if d.Schedule != nil {
				it.NextDue = d.Schedule.Next(it.LastRun)
			} else {
				it.NextDue = it.LastRun.Add(d.Interval)
			}
		}
		items = append(items, it)
	}
	return Snapshot{Active: active, LastCycle: last, Tasks: items}
}
