package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/Balli0706/automotive-pim-dam/pkg/models"
	"github.com/Balli0706/automotive-pim-dam/pkg/service"
	"github.com/Balli0706/automotive-pim-dam/pkg/storage"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{})  {}
func (l logger) Errorf(format string, args ...interface{}) {}

func importReviewDefinition() models.WorkflowDefinition {
	return models.WorkflowDefinition{
		ID:      "import-review",
		Name:    "Product import review",
		Version: 1,
		Stages: []models.Stage{
			{ID: "validate", Auto: true, Next: "review"},
			{ID: "review", Role: models.RoleDataSteward, Outcomes: map[models.Outcome]string{
				models.OutcomeApprove: "publish",
				models.OutcomeReject:  "validate",
			}},
			{ID: "publish", Terminal: true},
		},
	}
}

type engineFixture struct {
	store    storage.Store
	registry *service.RegistryService
	engine   *service.WorkflowService
	tasks    *service.TaskService
}

func newEngine(t *testing.T, notifier service.Notifier) *engineFixture {
	store := storage.NewMockStore()
	registry := service.NewRegistryService(store, logger{})
	assert.NoError(t, registry.Register(importReviewDefinition()))
	return &engineFixture{
		store:    store,
		registry: registry,
		engine:   service.NewWorkflowService(store, registry, nil, notifier, logger{}),
		tasks:    service.NewTaskService(store, logger{}),
	}
}

func (f *engineFixture) openTask(t *testing.T, runID string) models.Task {
	task, err := f.store.GetOpenTask(runID)
	assert.NoError(t, err)
	return task
}

func (f *engineFixture) auditLen(t *testing.T, runID string) int {
	entries, err := f.store.ListAudit(runID, 0, 0)
	assert.NoError(t, err)
	return len(entries)
}

func TestWorkflowService_ImportReviewScenario(t *testing.T) {
	f := newEngine(t, nil)
	ctx := context.Background()

	run, err := f.engine.Start(ctx, "import-review", "product", "p-100", "importer")
	assert.NoError(t, err)
	assert.Equal(t, models.ActiveRunStatus, run.Status)
	assert.Equal(t, "review", run.CurrentStage, "auto-advances through validate")
	assert.Equal(t, 2, f.auditLen(t, run.ID), "validate and review entries")

	task := f.openTask(t, run.ID)
	assert.Equal(t, "review", task.StageID)
	assert.Equal(t, models.RoleDataSteward, task.Role)

	// Reject loops back to validate, which auto-advances to review again.
	run, err = f.engine.ResolveTask(ctx, task.ID, "alice", models.RoleDataSteward, models.OutcomeReject, "missing dimensions")
	assert.NoError(t, err)
	assert.Equal(t, "review", run.CurrentStage)
	assert.Equal(t, models.ActiveRunStatus, run.Status)
	assert.Equal(t, 4, f.auditLen(t, run.ID))

	task2 := f.openTask(t, run.ID)
	assert.NotEqual(t, task.ID, task2.ID, "a fresh task is created on re-entry")

	// Approving completes the run at the terminal stage.
	run, err = f.engine.ResolveTask(ctx, task2.ID, "alice", models.RoleDataSteward, models.OutcomeApprove, "")
	assert.NoError(t, err)
	assert.Equal(t, "publish", run.CurrentStage)
	assert.Equal(t, models.CompletedRunStatus, run.Status)
	assert.Equal(t, 5, f.auditLen(t, run.ID))

	_, err = f.store.GetOpenTask(run.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "no open task remains")

	entries, err := f.store.ListAudit(run.ID, 0, 0)
	assert.NoError(t, err)
	stages := make([]string, 0, len(entries))
	for _, e := range entries {
		stages = append(stages, e.StageID)
	}
	assert.Equal(t, []string{"validate", "review", "validate", "review", "publish"}, stages)
}

func TestWorkflowService_Start(t *testing.T) {
	t.Run("UnknownDefinition", func(t *testing.T) {
		f := newEngine(t, nil)
		_, err := f.engine.Start(context.Background(), "nonexistent", "product", "p-1", "importer")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("EntityValidation", func(t *testing.T) {
		store := storage.NewMockStore()
		registry := service.NewRegistryService(store, logger{})
		assert.NoError(t, registry.Register(importReviewDefinition()))
		entities := entityStoreFunc(func(ctx context.Context, kind, id string) (models.Entity, error) {
			if id != "p-1" {
				return models.Entity{}, storage.ErrNotFound
			}
			return models.Entity{Kind: kind, ID: id}, nil
		})
		engine := service.NewWorkflowService(store, registry, entities, nil, logger{})

		_, err := engine.Start(context.Background(), "import-review", "product", "missing", "importer")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		run, err := engine.Start(context.Background(), "import-review", "product", "p-1", "importer")
		assert.NoError(t, err)
		assert.Equal(t, "p-1", run.EntityID)
	})

	t.Run("ImmediateCompletionOnAutoOnlyGraph", func(t *testing.T) {
		store := storage.NewMockStore()
		registry := service.NewRegistryService(store, logger{})
		assert.NoError(t, registry.Register(models.WorkflowDefinition{
			ID:      "auto-publish",
			Name:    "Auto publish",
			Version: 1,
			Stages: []models.Stage{
				{ID: "validate", Auto: true, Next: "publish"},
				{ID: "publish", Terminal: true},
			},
		}))
		engine := service.NewWorkflowService(store, registry, nil, nil, logger{})

		run, err := engine.Start(context.Background(), "auto-publish", "product", "p-2", "importer")
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedRunStatus, run.Status)
		assert.Equal(t, "publish", run.CurrentStage)
		_, err = store.GetOpenTask(run.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		entries, err := store.ListAudit(run.ID, 0, 0)
		assert.NoError(t, err)
		assert.Len(t, entries, 2)
	})
}

type entityStoreFunc func(ctx context.Context, kind, id string) (models.Entity, error)

func (f entityStoreFunc) GetEntity(ctx context.Context, kind, id string) (models.Entity, error) {
	return f(ctx, kind, id)
}

func TestWorkflowService_ResolveTask(t *testing.T) {
	ctx := context.Background()

	t.Run("UnknownTask", func(t *testing.T) {
		f := newEngine(t, nil)
		_, err := f.engine.ResolveTask(ctx, "nope", "alice", models.RoleDataSteward, models.OutcomeApprove, "")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ForbiddenRoleMismatch", func(t *testing.T) {
		f := newEngine(t, nil)
		run, err := f.engine.Start(ctx, "import-review", "product", "p-1", "importer")
		assert.NoError(t, err)
		task := f.openTask(t, run.ID)

		_, err = f.engine.ResolveTask(ctx, task.ID, "bob", models.RoleMarketing, models.OutcomeApprove, "")
		assert.ErrorIs(t, err, service.ErrForbidden)

		// Task stays pending, run unchanged.
		unchanged := f.openTask(t, run.ID)
		assert.Equal(t, task.ID, unchanged.ID)
		assert.Equal(t, models.PendingTaskStatus, unchanged.Status)
		got, err := f.engine.GetRun(run.ID)
		assert.NoError(t, err)
		assert.Equal(t, "review", got.CurrentStage)
		assert.Equal(t, 2, f.auditLen(t, run.ID))
	})

	t.Run("ForbiddenWrongAssignee", func(t *testing.T) {
		f := newEngine(t, nil)
		run, err := f.engine.Start(ctx, "import-review", "product", "p-1", "importer")
		assert.NoError(t, err)
		task := f.openTask(t, run.ID)
		assert.NoError(t, f.tasks.Assign(task.ID, "alice"))

		_, err = f.engine.ResolveTask(ctx, task.ID, "carol", models.RoleDataSteward, models.OutcomeApprove, "")
		assert.ErrorIs(t, err, service.ErrForbidden)

		run2, err := f.engine.ResolveTask(ctx, task.ID, "alice", models.RoleDataSteward, models.OutcomeApprove, "")
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedRunStatus, run2.Status)
	})

	t.Run("InvalidOutcomeLeavesStateUnchanged", func(t *testing.T) {
		f := newEngine(t, nil)
		run, err := f.engine.Start(ctx, "import-review", "product", "p-1", "importer")
		assert.NoError(t, err)
		task := f.openTask(t, run.ID)

		// request-changes is not in the review stage's outcome set.
		_, err = f.engine.ResolveTask(ctx, task.ID, "alice", models.RoleDataSteward, models.OutcomeRequestChanges, "")
		assert.ErrorIs(t, err, service.ErrInvalidOutcome)

		unchanged := f.openTask(t, run.ID)
		assert.Equal(t, task.ID, unchanged.ID)
		assert.Equal(t, 2, f.auditLen(t, run.ID))

		// Retrying with a valid outcome succeeds.
		_, err = f.engine.ResolveTask(ctx, task.ID, "alice", models.RoleDataSteward, models.OutcomeApprove, "")
		assert.NoError(t, err)
	})

	t.Run("AlreadyResolved", func(t *testing.T) {
		f := newEngine(t, nil)
		run, err := f.engine.Start(ctx, "import-review", "product", "p-1", "importer")
		assert.NoError(t, err)
		task := f.openTask(t, run.ID)

		_, err = f.engine.ResolveTask(ctx, task.ID, "alice", models.RoleDataSteward, models.OutcomeReject, "")
		assert.NoError(t, err)
		_, err = f.engine.ResolveTask(ctx, task.ID, "alice", models.RoleDataSteward, models.OutcomeApprove, "")
		assert.ErrorIs(t, err, service.ErrAlreadyResolved)
	})

	t.Run("AlreadyTerminal", func(t *testing.T) {
		f := newEngine(t, nil)
		// Craft a terminal run that still has a pending task, the state an
		// external scheduler could race into.
		run := models.WorkflowRun{
			ID:           "r-terminal",
			DefinitionID: "import-review",
			EntityKind:   "product",
			EntityID:     "p-9",
			CurrentStage: "review",
			Status:       models.CancelledRunStatus,
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}
		assert.NoError(t, f.store.SaveRun(run))
		task := models.Task{
			ID:        "t-terminal",
			RunID:     run.ID,
			StageID:   "review",
			Role:      models.RoleDataSteward,
			Status:    models.PendingTaskStatus,
			CreatedAt: time.Now(),
		}
		assert.NoError(t, f.store.SaveTask(task))

		_, err := f.engine.ResolveTask(ctx, task.ID, "alice", models.RoleDataSteward, models.OutcomeApprove, "")
		assert.ErrorIs(t, err, service.ErrAlreadyTerminal)
	})

	t.Run("ConcurrentResolvesSerialize", func(t *testing.T) {
		f := newEngine(t, nil)
		run, err := f.engine.Start(ctx, "import-review", "product", "p-1", "importer")
		assert.NoError(t, err)
		task := f.openTask(t, run.ID)

		const goroutines = 16
		var wg sync.WaitGroup
		errCh := make(chan error, goroutines)
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.engine.ResolveTask(ctx, task.ID, "alice", models.RoleDataSteward, models.OutcomeReject, "")
				errCh <- err
			}()
		}
		wg.Wait()
		close(errCh)

		succeeded := 0
		for err := range errCh {
			if err == nil {
				succeeded++
			} else {
				assert.True(t, errors.Is(err, service.ErrAlreadyResolved), "unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, succeeded, "exactly one resolve wins")

		// Exactly one open task afterwards.
		tasks, err := f.store.ListTasks(storage.TaskFilter{RunID: run.ID, Status: models.PendingTaskStatus})
		assert.NoError(t, err)
		assert.Len(t, tasks, 1)
		assert.Equal(t, 4, f.auditLen(t, run.ID))
	})
}

func TestWorkflowService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("CancelExpiresTaskAndAudits", func(t *testing.T) {
		f := newEngine(t, nil)
		run, err := f.engine.Start(ctx, "import-review", "product", "p-1", "importer")
		assert.NoError(t, err)
		task := f.openTask(t, run.ID)

		cancelled, err := f.engine.Cancel(ctx, run.ID, "admin", "duplicate import")
		assert.NoError(t, err)
		assert.Equal(t, models.CancelledRunStatus, cancelled.Status)

		expired, err := f.store.GetTask(task.ID)
		assert.NoError(t, err)
		assert.Equal(t, models.ExpiredTaskStatus, expired.Status)

		entries, err := f.store.ListAudit(run.ID, 0, 0)
		assert.NoError(t, err)
		assert.Len(t, entries, 3)
		last := entries[len(entries)-1]
		assert.Equal(t, models.OutcomeCancel, last.Outcome)
		assert.Equal(t, "admin", last.Actor)
		assert.Equal(t, "duplicate import", last.Note)
	})

	t.Run("CancelTerminalRun", func(t *testing.T) {
		f := newEngine(t, nil)
		run, err := f.engine.Start(ctx, "import-review", "product", "p-1", "importer")
		assert.NoError(t, err)
		_, err = f.engine.Cancel(ctx, run.ID, "admin", "")
		assert.NoError(t, err)
		_, err = f.engine.Cancel(ctx, run.ID, "admin", "")
		assert.ErrorIs(t, err, service.ErrAlreadyTerminal)
	})

	t.Run("CancelUnknownRun", func(t *testing.T) {
		f := newEngine(t, nil)
		_, err := f.engine.Cancel(ctx, "nope", "admin", "")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestWorkflowService_Notifications(t *testing.T) {
	var mu sync.Mutex
	var got []service.Transition
	notifier := notifierFunc(func(tr service.Transition) {
		mu.Lock()
		got = append(got, tr)
		mu.Unlock()
	})
	f := newEngine(t, notifier)

	run, err := f.engine.Start(context.Background(), "import-review", "product", "p-1", "importer")
	assert.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 2)
	assert.Equal(t, "", got[0].FromStage)
	assert.Equal(t, "validate", got[0].ToStage)
	assert.Equal(t, models.OutcomeStart, got[0].Outcome)
	assert.Equal(t, "validate", got[1].FromStage)
	assert.Equal(t, "review", got[1].ToStage)
	assert.Equal(t, models.OutcomeAuto, got[1].Outcome)
	assert.Equal(t, run.ID, got[0].RunID)
}

type notifierFunc func(t service.Transition)

func (f notifierFunc) OnTransition(t service.Transition) { f(t) }

func TestWorkflowService_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("RecreatesMissingTask", func(t *testing.T) {
		f := newEngine(t, nil)
		run, err := f.engine.Start(ctx, "import-review", "product", "p-1", "importer")
		assert.NoError(t, err)
		task := f.openTask(t, run.ID)

		// A timeout scheduler expired the task; the run is stuck without one.
		assert.NoError(t, f.tasks.Expire(task.ID))
		_, err = f.store.GetOpenTask(run.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		assert.NoError(t, f.engine.Reconcile(ctx))

		recreated := f.openTask(t, run.ID)
		assert.NotEqual(t, task.ID, recreated.ID)
		assert.Equal(t, "review", recreated.StageID)
		assert.Equal(t, models.RoleDataSteward, recreated.Role)
		// Reconcile repairs, it never advances.
		got, err := f.engine.GetRun(run.ID)
		assert.NoError(t, err)
		assert.Equal(t, "review", got.CurrentStage)
		assert.Equal(t, models.ActiveRunStatus, got.Status)
	})

	t.Run("AppendsMissingStageEntry", func(t *testing.T) {
		f := newEngine(t, nil)
		// Craft the post-crash state: run and open task committed, the stage
		// entry missing from the audit log.
		run := models.WorkflowRun{
			ID:           "r-crash",
			DefinitionID: "import-review",
			EntityKind:   "product",
			EntityID:     "p-7",
			CurrentStage: "review",
			Status:       models.ActiveRunStatus,
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}
		assert.NoError(t, f.store.SaveRun(run))
		task := models.Task{
			ID:        "t-crash",
			RunID:     run.ID,
			StageID:   "review",
			Role:      models.RoleDataSteward,
			Status:    models.PendingTaskStatus,
			CreatedAt: time.Now(),
		}
		assert.NoError(t, f.store.SaveTask(task))

		assert.NoError(t, f.engine.Reconcile(ctx))

		entries, err := f.store.ListAudit(run.ID, 0, 0)
		assert.NoError(t, err)
		assert.Len(t, entries, 1)
		assert.Equal(t, "review", entries[0].StageID)
		assert.Equal(t, "system", entries[0].Actor)

		// Still exactly one open task.
		open, err := f.store.GetOpenTask(run.ID)
		assert.NoError(t, err)
		assert.Equal(t, task.ID, open.ID)
	})

	t.Run("ConsistentRunsUntouched", func(t *testing.T) {
		f := newEngine(t, nil)
		run, err := f.engine.Start(ctx, "import-review", "product", "p-1", "importer")
		assert.NoError(t, err)
		task := f.openTask(t, run.ID)

		assert.NoError(t, f.engine.Reconcile(ctx))

		same := f.openTask(t, run.ID)
		assert.Equal(t, task.ID, same.ID)
		assert.Equal(t, 2, f.auditLen(t, run.ID))
	})
}
