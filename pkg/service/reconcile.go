package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Balli0706/automotive-pim-dam/pkg/models"
	"github.com/Balli0706/automotive-pim-dam/pkg/storage"
)

// Reconcile repairs active runs whose open task and stage-entry audit record
// got out of sync, which can only happen when a crash interrupted a commit.
// An open task with no matching entered-stage entry gets the entry appended;
// an active run with an entered-stage entry but no open task gets a fresh
// task recreated. Reconcile never advances a run.
func (s *WorkflowService) Reconcile(ctx context.Context) error {
	runs, err := s.store.ListRuns(models.ActiveRunStatus)
	if err != nil {
		return errors.Wrap(err, "list active runs")
	}
	for _, run := range runs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.reconcileRun(run.ID); err != nil {
			return errors.Wrapf(err, "reconcile run %q", run.ID)
		}
	}
	return nil
}

func (s *WorkflowService) reconcileRun(runID string) (err error) {
	unlock := s.lockRun(runID)
	defer unlock()

	txStore, err := s.store.Begin()
	if err != nil {
		return errors.Wrapf(ErrStorageUnavailable, "begin transaction: %v", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = errors.Wrapf(ErrStorageUnavailable, "commit: %v", commitErr)
		}
	}()

	run, err := txStore.GetRun(runID)
	if err != nil {
		return err
	}
	if run.Status != models.ActiveRunStatus {
		return nil
	}
	def, err := s.registry.Get(run.DefinitionID)
	if err != nil {
		return err
	}

	entries, err := txStore.ListAudit(run.ID, 0, 0)
	if err != nil {
		return err
	}
	var lastStage string
	if len(entries) > 0 {
		lastStage = entries[len(entries)-1].StageID
	}

	task, err := txStore.GetOpenTask(run.ID)
	switch {
	case err == nil:
		// Open task present; make sure its stage entry was recorded.
		if lastStage != task.StageID {
			s.logger.Infof("Run %s: recording missing stage entry '%s' for open task %s", run.ID, task.StageID, task.ID)
			err = txStore.AppendAudit(models.AuditEntry{
				RunID:     run.ID,
				StageID:   task.StageID,
				Actor:     "system",
				Outcome:   models.OutcomeAuto,
				Note:      "recovered missing stage entry",
				CreatedAt: time.Now(),
			})
		}
		return err
	case errors.Is(err, storage.ErrNotFound):
		stage, ok := def.Stage(run.CurrentStage)
		if !ok {
			return errors.Errorf("run %q references unknown stage %q", run.ID, run.CurrentStage)
		}
		if !stage.RequiresHuman() {
			// An active run can only persist at a human stage; anything else
			// needs an operator, not a silent advance.
			s.logger.Errorf("Run %s is active at non-human stage '%s', skipping", run.ID, run.CurrentStage)
			return nil
		}
		s.logger.Infof("Run %s: recreating missing task at stage '%s'", run.ID, run.CurrentStage)
		err = txStore.SaveTask(models.Task{
			ID:        uuid.NewString(),
			RunID:     run.ID,
			StageID:   run.CurrentStage,
			Role:      stage.Role,
			Status:    models.PendingTaskStatus,
			CreatedAt: time.Now(),
		})
		return err
	default:
		return err
	}
}
