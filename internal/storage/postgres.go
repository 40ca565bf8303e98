package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/Balli0706/automotive-pim-dam/pkg/models"
	"github.com/Balli0706/automotive-pim-dam/pkg/storage"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// definitionRow maps the definitions table; stages are stored as JSONB.
type definitionRow struct {
	ID        string       `db:"id"`
	Name      string       `db:"name"`
	Version   int          `db:"version"`
	Stages    []byte       `db:"stages"`
	CreatedAt sql.NullTime `db:"created_at"`
}

func (row definitionRow) toModel() (models.WorkflowDefinition, error) {
	def := models.WorkflowDefinition{
		ID:      row.ID,
		Name:    row.Name,
		Version: row.Version,
	}
	if row.CreatedAt.Valid {
		def.CreatedAt = row.CreatedAt.Time
	}
	if err := json.Unmarshal(row.Stages, &def.Stages); err != nil {
		return models.WorkflowDefinition{}, fmt.Errorf("decode stages of definition %s: %w", row.ID, err)
	}
	return def, nil
}

// SaveDefinition persists an immutable workflow definition.
func (s *PostgresStore) SaveDefinition(d models.WorkflowDefinition) error {
	stages, err := json.Marshal(d.Stages)
	if err != nil {
		return fmt.Errorf("encode stages of definition %s: %w", d.ID, err)
	}
	_, err = s.db.Exec("INSERT INTO definitions (id, name, version, stages) VALUES ($1, $2, $3, $4)",
		d.ID, d.Name, d.Version, stages)
	if err != nil {
		return fmt.Errorf("save definition %s: %w", d.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetDefinition(id string) (models.WorkflowDefinition, error) {
	var row definitionRow
	err := s.db.Get(&row, "SELECT id, name, version, stages, created_at FROM definitions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.WorkflowDefinition{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowDefinition{}, err
	}
	return row.toModel()
}

func (s *PostgresStore) ListDefinitions() ([]models.WorkflowDefinition, error) {
	var rows []definitionRow
	err := s.db.Select(&rows, "SELECT id, name, version, stages, created_at FROM definitions ORDER BY id")
	if err != nil {
		return nil, err
	}
	defs := make([]models.WorkflowDefinition, 0, len(rows))
	for _, row := range rows {
		def, err := row.toModel()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// SaveRun creates a new workflow run.
func (s *PostgresStore) SaveRun(r models.WorkflowRun) error {
	_, err := s.db.Exec(`INSERT INTO runs (id, definition_id, entity_kind, entity_id, current_stage, status, initiator, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.DefinitionID, r.EntityKind, r.EntityID, r.CurrentStage, r.Status, r.Initiator, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetRun(id string) (models.WorkflowRun, error) {
	var run models.WorkflowRun
	err := s.db.Get(&run, "SELECT * FROM runs WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.WorkflowRun{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowRun{}, err
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(status models.RunStatus) ([]models.WorkflowRun, error) {
	runs := []models.WorkflowRun{}
	if status == "" {
		err := s.db.Select(&runs, "SELECT * FROM runs ORDER BY created_at DESC")
		return runs, err
	}
	err := s.db.Select(&runs, "SELECT * FROM runs WHERE status = $1 ORDER BY created_at DESC", status)
	return runs, err
}

func (s *PostgresStore) UpdateRun(id, currentStage string, status models.RunStatus) error {
	res, err := s.db.Exec("UPDATE runs SET current_stage = $1, status = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $3",
		currentStage, status, id)
	if err != nil {
		return err
	}
	return oneRowAffected(res)
}

// SaveTask creates a new task for a run.
func (s *PostgresStore) SaveTask(t models.Task) error {
	_, err := s.db.Exec(`INSERT INTO tasks (id, run_id, stage_id, role, assignee, status, outcome, resolved_by, resolved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.RunID, t.StageID, t.Role, t.Assignee, t.Status, t.Outcome, t.ResolvedBy, t.ResolvedAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetTask(id string) (models.Task, error) {
	var task models.Task
	err := s.db.Get(&task, "SELECT * FROM tasks WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) GetOpenTask(runID string) (models.Task, error) {
	var task models.Task
	err := s.db.Get(&task, "SELECT * FROM tasks WHERE run_id = $1 AND status = $2", runID, models.PendingTaskStatus)
	if err == sql.ErrNoRows {
		return models.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) ListTasks(f storage.TaskFilter) ([]models.Task, error) {
	query := "SELECT * FROM tasks WHERE 1=1"
	args := []interface{}{}
	if f.RunID != "" {
		args = append(args, f.RunID)
		query += fmt.Sprintf(" AND run_id = $%d", len(args))
	}
	if f.Role != "" {
		args = append(args, f.Role)
		query += fmt.Sprintf(" AND role = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Assignee != "" {
		args = append(args, f.Assignee)
		query += fmt.Sprintf(" AND assignee = $%d", len(args))
	}
	query += " ORDER BY created_at"
	tasks := []models.Task{}
	err := s.db.Select(&tasks, query, args...)
	return tasks, err
}

func (s *PostgresStore) AssignTask(id, userID string) error {
	res, err := s.db.Exec("UPDATE tasks SET assignee = $1 WHERE id = $2", userID, id)
	if err != nil {
		return err
	}
	return oneRowAffected(res)
}

func (s *PostgresStore) ResolveTask(id string, outcome models.Outcome, resolvedBy string) error {
	res, err := s.db.Exec(`UPDATE tasks SET status = $1, outcome = $2, resolved_by = $3, resolved_at = CURRENT_TIMESTAMP
		WHERE id = $4 AND status = $5`,
		models.ResolvedTaskStatus, outcome, resolvedBy, id, models.PendingTaskStatus)
	if err != nil {
		return err
	}
	return oneRowAffected(res)
}

func (s *PostgresStore) ExpireTask(id string) error {
	res, err := s.db.Exec("UPDATE tasks SET status = $1 WHERE id = $2 AND status = $3",
		models.ExpiredTaskStatus, id, models.PendingTaskStatus)
	if err != nil {
		return err
	}
	return oneRowAffected(res)
}

// AppendAudit writes one immutable audit entry.
func (s *PostgresStore) AppendAudit(e models.AuditEntry) error {
	_, err := s.db.Exec("INSERT INTO audit_entries (run_id, stage_id, actor, outcome, note, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		e.RunID, e.StageID, e.Actor, e.Outcome, e.Note, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit entry for run %s: %w", e.RunID, err)
	}
	return nil
}

func (s *PostgresStore) ListAudit(runID string, afterID int64, limit int) ([]models.AuditEntry, error) {
	entries := []models.AuditEntry{}
	query := "SELECT * FROM audit_entries WHERE run_id = $1 AND id > $2 ORDER BY id"
	args := []interface{}{runID, afterID}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	err := s.db.Select(&entries, query, args...)
	return entries, err
}

func oneRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
