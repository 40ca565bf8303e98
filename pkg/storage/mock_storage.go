package storage

import (
	"sync"
	"time"

	"github.com/Balli0706/automotive-pim-dam/pkg/models"
)

// mockStore implements Store with in-memory state. Begin returns the store
// itself and Commit/Rollback are no-ops: every mutation is applied
// immediately, which is sufficient for unit tests of the services. The
// mutex makes it safe for the engine's concurrency tests.
type mockStore struct {
	mu          sync.Mutex
	definitions map[string]models.WorkflowDefinition
	runs        map[string]models.WorkflowRun
	tasks       map[string]models.Task
	audit       []models.AuditEntry
	nextAuditID int64
}

// NewMockStore returns an in-memory Store for tests and examples.
func NewMockStore() Store {
	return &mockStore{
		definitions: make(map[string]models.WorkflowDefinition),
		runs:        make(map[string]models.WorkflowRun),
		tasks:       make(map[string]models.Task),
	}
}

func (m *mockStore) Begin() (Store, error) { return m, nil }
func (m *mockStore) Commit() error         { return nil }
func (m *mockStore) Rollback() error       { return nil }
func (m *mockStore) Close() error          { return nil }

func (m *mockStore) SaveDefinition(d models.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions[d.ID] = d
	return nil
}

func (m *mockStore) GetDefinition(id string) (models.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.definitions[id]
	if !ok {
		return models.WorkflowDefinition{}, ErrNotFound
	}
	return d, nil
}

func (m *mockStore) ListDefinitions() ([]models.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defs := make([]models.WorkflowDefinition, 0, len(m.definitions))
	for _, d := range m.definitions {
		defs = append(defs, d)
	}
	return defs, nil
}

func (m *mockStore) SaveRun(r models.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = r
	return nil
}

func (m *mockStore) GetRun(id string) (models.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return models.WorkflowRun{}, ErrNotFound
	}
	return r, nil
}

func (m *mockStore) ListRuns(status models.RunStatus) ([]models.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var runs []models.WorkflowRun
	for _, r := range m.runs {
		if status == "" || r.Status == status {
			runs = append(runs, r)
		}
	}
	return runs, nil
}

func (m *mockStore) UpdateRun(id, currentStage string, status models.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	r.CurrentStage = currentStage
	r.Status = status
	r.UpdatedAt = time.Now()
	m.runs[id] = r
	return nil
}

func (m *mockStore) SaveTask(t models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *mockStore) GetTask(id string) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	return t, nil
}

func (m *mockStore) GetOpenTask(runID string) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.RunID == runID && t.Status == models.PendingTaskStatus {
			return t, nil
		}
	}
	return models.Task{}, ErrNotFound
}

func (m *mockStore) ListTasks(f TaskFilter) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tasks []models.Task
	for _, t := range m.tasks {
		if f.RunID != "" && t.RunID != f.RunID {
			continue
		}
		if f.Role != "" && t.Role != f.Role {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Assignee != "" && t.Assignee != f.Assignee {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (m *mockStore) AssignTask(id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Assignee = userID
	m.tasks[id] = t
	return nil
}

func (m *mockStore) ResolveTask(id string, outcome models.Outcome, resolvedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != models.PendingTaskStatus {
		return ErrNotFound
	}
	now := time.Now()
	t.Status = models.ResolvedTaskStatus
	t.Outcome = outcome
	t.ResolvedBy = resolvedBy
	t.ResolvedAt = &now
	m.tasks[id] = t
	return nil
}

func (m *mockStore) ExpireTask(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != models.PendingTaskStatus {
		return ErrNotFound
	}
	t.Status = models.ExpiredTaskStatus
	m.tasks[id] = t
	return nil
}

func (m *mockStore) AppendAudit(e models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAuditID++
	e.ID = m.nextAuditID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.audit = append(m.audit, e)
	return nil
}

func (m *mockStore) ListAudit(runID string, afterID int64, limit int) ([]models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []models.AuditEntry
	for _, e := range m.audit {
		if e.RunID != runID || e.ID <= afterID {
			continue
		}
		entries = append(entries, e)
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	return entries, nil
}
