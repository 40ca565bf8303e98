package storage

import (
	"github.com/pkg/errors"

	"github.com/Balli0706/automotive-pim-dam/pkg/models"
)

// ErrNotFound is returned when a definition, run or task does not exist.
var ErrNotFound = errors.New("not found")

// TaskFilter narrows ListTasks. Zero-valued fields are ignored.
type TaskFilter struct {
	RunID    string
	Role     models.Role
	Status   models.TaskStatus
	Assignee string
}

// Store defines the storage operations for the approval workflow engine.
// Begin returns a transaction-scoped Store; run and task mutations belonging
// to one engine transition must share a transaction so they commit together.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Definition operations
	SaveDefinition(d models.WorkflowDefinition) error
	GetDefinition(id string) (models.WorkflowDefinition, error)
	ListDefinitions() ([]models.WorkflowDefinition, error)

	// Run operations
	SaveRun(r models.WorkflowRun) error
	GetRun(id string) (models.WorkflowRun, error)
	ListRuns(status models.RunStatus) ([]models.WorkflowRun, error)
	UpdateRun(id, currentStage string, status models.RunStatus) error

	// Task operations
	SaveTask(t models.Task) error
	GetTask(id string) (models.Task, error)
	GetOpenTask(runID string) (models.Task, error)
	ListTasks(f TaskFilter) ([]models.Task, error)
	AssignTask(id, userID string) error
	ResolveTask(id string, outcome models.Outcome, resolvedBy string) error
	ExpireTask(id string) error

	// Audit operations
	AppendAudit(e models.AuditEntry) error
	// ListAudit returns entries for a run ordered by id, starting after
	// afterID. limit <= 0 means no limit.
	ListAudit(runID string, afterID int64, limit int) ([]models.AuditEntry, error)
}
