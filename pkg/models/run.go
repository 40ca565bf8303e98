package models

import "time"

type RunStatus string

const (
	ActiveRunStatus    RunStatus = "ACTIVE"
	CompletedRunStatus RunStatus = "COMPLETED"
	CancelledRunStatus RunStatus = "CANCELLED"
)

// WorkflowRun is a live instance of a workflow definition bound to exactly
// one target entity (product or asset). Runs are owned by the workflow
// engine: they are created on Start and only ever transition through
// ResolveTask or Cancel. Completed and cancelled are terminal.
type WorkflowRun struct {
	ID           string    `json:"id" db:"id"`
	DefinitionID string    `json:"definition_id" db:"definition_id"`
	EntityKind   string    `json:"entity_kind" db:"entity_kind"` // "product" or "asset"
	EntityID     string    `json:"entity_id" db:"entity_id"`
	CurrentStage string    `json:"current_stage" db:"current_stage"`
	Status       RunStatus `json:"status" db:"status"`
	Initiator    string    `json:"initiator" db:"initiator"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the run accepts no further transitions.
func (r WorkflowRun) Terminal() bool {
	return r.Status == CompletedRunStatus || r.Status == CancelledRunStatus
}
