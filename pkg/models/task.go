package models

import "time"

type TaskStatus string

const (
	PendingTaskStatus  TaskStatus = "PENDING"
	ResolvedTaskStatus TaskStatus = "RESOLVED"
	ExpiredTaskStatus  TaskStatus = "EXPIRED"
)

// Task is the single open unit of human work blocking a run's progress.
// Exactly one pending task exists per active run. A task is scoped to a role
// and may optionally be narrowed to a specific user via assignment. Once
// resolved or expired a task is immutable.
type Task struct {
	ID         string     `json:"id" db:"id"`
	RunID      string     `json:"run_id" db:"run_id"`
	StageID    string     `json:"stage_id" db:"stage_id"`
	Role       Role       `json:"role" db:"role"`
	Assignee   string     `json:"assignee,omitempty" db:"assignee"`
	Status     TaskStatus `json:"status" db:"status"`
	Outcome    Outcome    `json:"outcome,omitempty" db:"outcome"`
	ResolvedBy string     `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Open reports whether the task still blocks its run.
func (t Task) Open() bool {
	return t.Status == PendingTaskStatus
}
