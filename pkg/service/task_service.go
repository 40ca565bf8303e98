package service

import (
	"github.com/pkg/errors"

	"github.com/Balli0706/automotive-pim-dam/pkg/models"
	"github.com/Balli0706/automotive-pim-dam/pkg/storage"
)

// TaskService is the task queue surface: pending work queryable by role,
// status and assignee. Tasks are created and resolved by the workflow engine
// only; this service narrows assignment and expires tasks on behalf of
// cancellation or an external timeout scheduler.
type TaskService struct {
	store  storage.Store
	logger Logger
}

func NewTaskService(store storage.Store, logger Logger) *TaskService {
	return &TaskService{
		store:  store,
		logger: logger,
	}
}

func (ts *TaskService) GetTask(id string) (models.Task, error) {
	return ts.store.GetTask(id)
}

func (ts *TaskService) ListTasks(f storage.TaskFilter) ([]models.Task, error) {
	return ts.store.ListTasks(f)
}

// Assign narrows a role-scoped pending task to a specific user. The task's
// status does not change; once resolved or expired a task is immutable.
func (ts *TaskService) Assign(taskID, userID string) (err error) {
	txStore, err := ts.store.Begin()
	if err != nil {
		return errors.Wrapf(ErrStorageUnavailable, "begin transaction: %v", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				ts.logger.Errorf("Failed to rollback: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			ts.logger.Errorf("Failed to commit: %v", commitErr)
			err = errors.Wrapf(ErrStorageUnavailable, "commit: %v", commitErr)
		}
	}()

	task, err := txStore.GetTask(taskID)
	if err != nil {
		return errors.Wrapf(err, "task %q", taskID)
	}
	if task.Status != models.PendingTaskStatus {
		err = errors.Wrapf(ErrAlreadyResolved, "task %q is %s", taskID, task.Status)
		return err
	}
	if err = txStore.AssignTask(taskID, userID); err != nil {
		return err
	}
	ts.logger.Infof("Assigned task %s to %s", taskID, userID)
	return nil
}

// Expire marks a pending task expired. Used by run cancellation and by an
// external timeout scheduler; Reconcile recreates a task for an active run
// whose task was expired this way.
func (ts *TaskService) Expire(taskID string) (err error) {
	txStore, err := ts.store.Begin()
	if err != nil {
		return errors.Wrapf(ErrStorageUnavailable, "begin transaction: %v", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				ts.logger.Errorf("Failed to rollback: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			ts.logger.Errorf("Failed to commit: %v", commitErr)
			err = errors.Wrapf(ErrStorageUnavailable, "commit: %v", commitErr)
		}
	}()

	task, err := txStore.GetTask(taskID)
	if err != nil {
		return errors.Wrapf(err, "task %q", taskID)
	}
	if task.Status != models.PendingTaskStatus {
		err = errors.Wrapf(ErrAlreadyResolved, "task %q is %s", taskID, task.Status)
		return err
	}
	if err = txStore.ExpireTask(taskID); err != nil {
		return err
	}
	ts.logger.Infof("Expired task %s", taskID)
	return nil
}
