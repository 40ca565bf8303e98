package models

import "time"

// Role identifies the group of users allowed to resolve a task. The role
// catalog is configuration: definitions may use any role name, the constants
// below cover the workflows shipped with the platform.
type Role string

const (
	RoleDataSteward Role = "data-steward"
	RoleCompliance  Role = "compliance"
	RoleMarketing   Role = "marketing"
	RoleAdmin       Role = "admin"
)

// Outcome is the decision recorded when a task is resolved. The first three
// are the outcomes a human may submit; the remaining values are markers used
// in audit entries for transitions not caused by a task resolution.
type Outcome string

const (
	OutcomeApprove        Outcome = "approve"
	OutcomeReject         Outcome = "reject"
	OutcomeRequestChanges Outcome = "request-changes"

	OutcomeStart  Outcome = "start"
	OutcomeAuto   Outcome = "auto"
	OutcomeCancel Outcome = "cancel"
)

// Human reports whether the outcome may be submitted through task resolution.
func (o Outcome) Human() bool {
	switch o {
	case OutcomeApprove, OutcomeReject, OutcomeRequestChanges:
		return true
	}
	return false
}

// Stage is a single step of a workflow definition. Exactly one of the three
// shapes applies: terminal (end of the run), auto (advances to Next without
// human input) or human (requires a task resolved by Role, Outcomes mapping
// each allowed outcome to the next stage id).
type Stage struct {
	ID       string             `json:"id" yaml:"id"`
	Name     string             `json:"name,omitempty" yaml:"name,omitempty"`
	Role     Role               `json:"role,omitempty" yaml:"role,omitempty"`
	Auto     bool               `json:"auto,omitempty" yaml:"auto,omitempty"`
	Terminal bool               `json:"terminal,omitempty" yaml:"terminal,omitempty"`
	Next     string             `json:"next,omitempty" yaml:"next,omitempty"`
	Outcomes map[Outcome]string `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
}

// RequiresHuman reports whether entering the stage creates a task.
func (s Stage) RequiresHuman() bool {
	return !s.Auto && !s.Terminal
}

// WorkflowDefinition is an immutable workflow template. The first stage in
// Stages is the initial stage. A changed workflow must be registered under a
// new ID so in-flight runs keep referencing their original definition.
type WorkflowDefinition struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Version   int       `json:"version" yaml:"version"`
	Stages    []Stage   `json:"stages" yaml:"stages"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"-"`
}

// Stage returns the stage with the given id.
func (d WorkflowDefinition) Stage(id string) (Stage, bool) {
	for _, s := range d.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return Stage{}, false
}

// Initial returns the stage a new run starts at.
func (d WorkflowDefinition) Initial() Stage {
	return d.Stages[0]
}
