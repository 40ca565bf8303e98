package models

import "time"

// AuditEntry records one stage entry of a workflow run for auditing.
// Entries are append-only, never mutated or deleted; a run's history always
// holds exactly one entry per stage entered, plus one for cancellation.
type AuditEntry struct {
	ID        int64     `json:"id" db:"id"` // Auto-incremented entry ID
	RunID     string    `json:"run_id" db:"run_id"`
	StageID   string    `json:"stage_id" db:"stage_id"`
	Actor     string    `json:"actor" db:"actor"` // user id, or "system" for auto stages
	Outcome   Outcome   `json:"outcome" db:"outcome"`
	Note      string    `json:"note,omitempty" db:"note"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
