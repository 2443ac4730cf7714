package schemas

import "time"

// -- Task Schemas --

// TaskStatus is the lifecycle state of a dispatched command.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskSuccess TaskStatus = "success"
	TaskFailed  TaskStatus = "failed"
	TaskTimeout TaskStatus = "timeout"
)

// Terminal reports whether no further transitions are allowed from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskSuccess || s == TaskFailed || s == TaskTimeout
}

// Task is the tracked lifecycle record of one dispatched Command.
type Task struct {
	ID         string      `json:"id"`
	Type       CommandType `json:"type"`
	Status     TaskStatus  `json:"status"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
	DurationMs *int64      `json:"durationMs,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// TaskPatch describes a state transition applied through the task queue.
// Zero-valued fields are left untouched.
type TaskPatch struct {
	Status     TaskStatus
	FinishedAt *time.Time
	Error      string
}

// Apply returns a copy of t with the patch applied. DurationMs is derived
// from StartedAt whenever a FinishedAt is supplied.
func (p TaskPatch) Apply(t Task) Task {
	if p.Status != "" {
		t.Status = p.Status
	}
	if p.Error != "" {
		t.Error = p.Error
	}
	if p.FinishedAt != nil {
		finished := *p.FinishedAt
		t.FinishedAt = &finished
		d := finished.Sub(t.StartedAt).Milliseconds()
		t.DurationMs = &d
	}
	return t
}
