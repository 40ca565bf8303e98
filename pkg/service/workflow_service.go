package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Balli0706/automotive-pim-dam/pkg/models"
	"github.com/Balli0706/automotive-pim-dam/pkg/storage"
)

// Transition describes one stage change of a run, emitted to the notifier
// after the transaction that produced it has committed.
type Transition struct {
	RunID     string         `json:"run_id"`
	FromStage string         `json:"from_stage"` // empty on the initial stage
	ToStage   string         `json:"to_stage"`
	Outcome   models.Outcome `json:"outcome"`
}

// Notifier is informed of committed transitions. Delivery is fire-and-forget:
// failures must never roll back the engine's own transaction, so the
// interface returns nothing.
type Notifier interface {
	OnTransition(t Transition)
}

// EntityStore is the narrow contract to the external product/asset store;
// the engine only checks that a run's target entity exists.
type EntityStore interface {
	GetEntity(ctx context.Context, kind, id string) (models.Entity, error)
}

// WorkflowService is the approval workflow engine. It owns workflow runs
// exclusively: a run is created by Start and advances only through
// ResolveTask or Cancel. Per-run locking serializes concurrent transitions
// on the same run so the one-open-task invariant holds; runs for different
// entities proceed in parallel.
type WorkflowService struct {
	store    storage.Store
	registry *RegistryService
	entities EntityStore // optional
	notifier Notifier    // optional
	logger   Logger

	mu       sync.Mutex
	runLocks map[string]*sync.Mutex
}

func NewWorkflowService(store storage.Store, registry *RegistryService, entities EntityStore, notifier Notifier, logger Logger) *WorkflowService {
	return &WorkflowService{
		store:    store,
		registry: registry,
		entities: entities,
		notifier: notifier,
		logger:   logger,
		runLocks: make(map[string]*sync.Mutex),
	}
}

func (s *WorkflowService) lockRun(runID string) func() {
	s.mu.Lock()
	lock, ok := s.runLocks[runID]
	if !ok {
		lock = &sync.Mutex{}
		s.runLocks[runID] = lock
	}
	s.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// Start instantiates a run of the given definition for a target entity.
// The run begins at the definition's first stage and auto-advances through
// auto stages until it reaches a stage requiring a human outcome or a
// terminal stage. One audit entry is appended per stage entered.
func (s *WorkflowService) Start(ctx context.Context, definitionID, entityKind, entityID, initiator string) (run models.WorkflowRun, err error) {
	def, err := s.registry.Get(definitionID)
	if err != nil {
		return models.WorkflowRun{}, errors.Wrapf(err, "definition %q", definitionID)
	}
	if s.entities != nil {
		if _, err := s.entities.GetEntity(ctx, entityKind, entityID); err != nil {
			return models.WorkflowRun{}, errors.Wrapf(err, "target entity %s/%s", entityKind, entityID)
		}
	}

	now := time.Now()
	run = models.WorkflowRun{
		ID:           uuid.NewString(),
		DefinitionID: def.ID,
		EntityKind:   entityKind,
		EntityID:     entityID,
		CurrentStage: def.Initial().ID,
		Status:       models.ActiveRunStatus,
		Initiator:    initiator,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	txStore, err := s.store.Begin()
	if err != nil {
		return models.WorkflowRun{}, errors.Wrapf(ErrStorageUnavailable, "begin transaction: %v", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
		}
	}()

	if err = txStore.SaveRun(run); err != nil {
		return models.WorkflowRun{}, err
	}
	transitions, err := s.enterStage(txStore, &run, def, def.Initial().ID, "", initiator, models.OutcomeStart, "")
	if err != nil {
		return models.WorkflowRun{}, err
	}
	if err = txStore.Commit(); err != nil {
		err = errors.Wrapf(ErrStorageUnavailable, "commit: %v", err)
		return models.WorkflowRun{}, err
	}

	s.logger.Infof("Started run %s (definition '%s') for %s/%s at stage '%s'", run.ID, def.ID, entityKind, entityID, run.CurrentStage)
	s.notify(transitions)
	return run, nil
}

// ResolveTask is the single state-machine transition function. The named
// failure modes (storage.ErrNotFound, ErrAlreadyResolved, ErrAlreadyTerminal,
// ErrForbidden, ErrInvalidOutcome) are all checked before any mutation, so a
// rejected call leaves the task pending and the run unchanged. On success the
// task resolution, the run's stage change, the audit entries and the next
// task commit as one transaction.
func (s *WorkflowService) ResolveTask(ctx context.Context, taskID, actor string, actorRole models.Role, outcome models.Outcome, note string) (run models.WorkflowRun, err error) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return models.WorkflowRun{}, errors.Wrapf(err, "task %q", taskID)
	}

	unlock := s.lockRun(task.RunID)
	defer unlock()

	txStore, err := s.store.Begin()
	if err != nil {
		return models.WorkflowRun{}, errors.Wrapf(ErrStorageUnavailable, "begin transaction: %v", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
		}
	}()

	// Re-read under the run lock: the task may have been resolved or expired
	// while we waited.
	task, err = txStore.GetTask(taskID)
	if err != nil {
		return models.WorkflowRun{}, errors.Wrapf(err, "task %q", taskID)
	}
	run, err = txStore.GetRun(task.RunID)
	if err != nil {
		return models.WorkflowRun{}, errors.Wrapf(err, "run %q", task.RunID)
	}
	if run.Terminal() {
		err = errors.Wrapf(ErrAlreadyTerminal, "run %q is %s", run.ID, run.Status)
		return models.WorkflowRun{}, err
	}
	if task.Status != models.PendingTaskStatus {
		err = errors.Wrapf(ErrAlreadyResolved, "task %q is %s", taskID, task.Status)
		return models.WorkflowRun{}, err
	}
	if task.Role != actorRole {
		err = errors.Wrapf(ErrForbidden, "task %q requires role %q, actor has %q", taskID, task.Role, actorRole)
		return models.WorkflowRun{}, err
	}
	if task.Assignee != "" && task.Assignee != actor {
		err = errors.Wrapf(ErrForbidden, "task %q is assigned to %q", taskID, task.Assignee)
		return models.WorkflowRun{}, err
	}

	def, err := s.registry.Get(run.DefinitionID)
	if err != nil {
		return models.WorkflowRun{}, errors.Wrapf(err, "definition %q", run.DefinitionID)
	}
	stage, ok := def.Stage(task.StageID)
	if !ok {
		err = errors.Errorf("run %q references unknown stage %q", run.ID, task.StageID)
		return models.WorkflowRun{}, err
	}
	nextStage, ok := stage.Outcomes[outcome]
	if !ok {
		err = errors.Wrapf(ErrInvalidOutcome, "outcome %q at stage %q", outcome, stage.ID)
		return models.WorkflowRun{}, err
	}

	if err = txStore.ResolveTask(task.ID, outcome, actor); err != nil {
		return models.WorkflowRun{}, err
	}
	transitions, err := s.enterStage(txStore, &run, def, nextStage, stage.ID, actor, outcome, note)
	if err != nil {
		return models.WorkflowRun{}, err
	}
	if err = txStore.Commit(); err != nil {
		err = errors.Wrapf(ErrStorageUnavailable, "commit: %v", err)
		return models.WorkflowRun{}, err
	}

	s.logger.Infof("Resolved task %s (%s by %s), run %s now at stage '%s' (%s)", task.ID, outcome, actor, run.ID, run.CurrentStage, run.Status)
	s.notify(transitions)
	return run, nil
}

// Cancel terminates an active run: the open task expires, the run is marked
// cancelled and an audit entry records the actor and reason.
func (s *WorkflowService) Cancel(ctx context.Context, runID, actor, reason string) (run models.WorkflowRun, err error) {
	unlock := s.lockRun(runID)
	defer unlock()

	txStore, err := s.store.Begin()
	if err != nil {
		return models.WorkflowRun{}, errors.Wrapf(ErrStorageUnavailable, "begin transaction: %v", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
		}
	}()

	run, err = txStore.GetRun(runID)
	if err != nil {
		return models.WorkflowRun{}, errors.Wrapf(err, "run %q", runID)
	}
	if run.Terminal() {
		err = errors.Wrapf(ErrAlreadyTerminal, "run %q is %s", run.ID, run.Status)
		return models.WorkflowRun{}, err
	}

	task, err := txStore.GetOpenTask(runID)
	switch {
	case err == nil:
		if err = txStore.ExpireTask(task.ID); err != nil {
			return models.WorkflowRun{}, err
		}
	case errors.Is(err, storage.ErrNotFound):
		// Nothing open; cancellation still proceeds.
	default:
		return models.WorkflowRun{}, err
	}

	run.Status = models.CancelledRunStatus
	if err = txStore.UpdateRun(run.ID, run.CurrentStage, models.CancelledRunStatus); err != nil {
		return models.WorkflowRun{}, err
	}
	if err = txStore.AppendAudit(models.AuditEntry{
		RunID:     run.ID,
		StageID:   run.CurrentStage,
		Actor:     actor,
		Outcome:   models.OutcomeCancel,
		Note:      reason,
		CreatedAt: time.Now(),
	}); err != nil {
		return models.WorkflowRun{}, err
	}
	if err = txStore.Commit(); err != nil {
		err = errors.Wrapf(ErrStorageUnavailable, "commit: %v", err)
		return models.WorkflowRun{}, err
	}

	s.logger.Infof("Cancelled run %s at stage '%s' by %s", run.ID, run.CurrentStage, actor)
	s.notify([]Transition{{RunID: run.ID, FromStage: run.CurrentStage, ToStage: run.CurrentStage, Outcome: models.OutcomeCancel}})
	return run, nil
}

// GetRun fetches a run by id.
func (s *WorkflowService) GetRun(runID string) (models.WorkflowRun, error) {
	return s.store.GetRun(runID)
}

// ListRuns lists runs, optionally filtered by status.
func (s *WorkflowService) ListRuns(status models.RunStatus) ([]models.WorkflowRun, error) {
	return s.store.ListRuns(status)
}

// enterStage moves the run into stageID, auto-advancing until a human or
// terminal stage. One audit entry is appended per stage entered; on a human
// stage the next pending task is created, on a terminal stage the run is
// marked completed. Must run inside the caller's transaction.
func (s *WorkflowService) enterStage(txStore storage.Store, run *models.WorkflowRun, def models.WorkflowDefinition, stageID, fromStage, actor string, outcome models.Outcome, note string) ([]Transition, error) {
	var transitions []Transition
	for {
		stage, ok := def.Stage(stageID)
		if !ok {
			return nil, errors.Errorf("definition %q has no stage %q", def.ID, stageID)
		}
		transitions = append(transitions, Transition{RunID: run.ID, FromStage: fromStage, ToStage: stageID, Outcome: outcome})
		if err := txStore.AppendAudit(models.AuditEntry{
			RunID:     run.ID,
			StageID:   stageID,
			Actor:     actor,
			Outcome:   outcome,
			Note:      note,
			CreatedAt: time.Now(),
		}); err != nil {
			return nil, err
		}
		run.CurrentStage = stageID

		if stage.Terminal {
			run.Status = models.CompletedRunStatus
			if err := txStore.UpdateRun(run.ID, stageID, models.CompletedRunStatus); err != nil {
				return nil, err
			}
			return transitions, nil
		}
		if stage.Auto {
			fromStage = stageID
			stageID = stage.Next
			actor = "system"
			outcome = models.OutcomeAuto
			note = ""
			continue
		}

		if err := txStore.UpdateRun(run.ID, stageID, models.ActiveRunStatus); err != nil {
			return nil, err
		}
		task := models.Task{
			ID:        uuid.NewString(),
			RunID:     run.ID,
			StageID:   stageID,
			Role:      stage.Role,
			Status:    models.PendingTaskStatus,
			CreatedAt: time.Now(),
		}
		if err := txStore.SaveTask(task); err != nil {
			return nil, err
		}
		return transitions, nil
	}
}

func (s *WorkflowService) notify(transitions []Transition) {
	if s.notifier == nil {
		return
	}
	for _, t := range transitions {
		s.notifier.OnTransition(t)
	}
}
