package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Balli0706/automotive-pim-dam/pkg/models"
	"github.com/Balli0706/automotive-pim-dam/pkg/service"
	"github.com/Balli0706/automotive-pim-dam/pkg/storage"
)

func TestTaskService(t *testing.T) {
	ctx := context.Background()

	t.Run("ListByRoleAndStatus", func(t *testing.T) {
		f := newEngine(t, nil)
		run1, err := f.engine.Start(ctx, "import-review", "product", "p-1", "importer")
		assert.NoError(t, err)
		_, err = f.engine.Start(ctx, "import-review", "product", "p-2", "importer")
		assert.NoError(t, err)

		pending, err := f.tasks.ListTasks(storage.TaskFilter{
			Role:   models.RoleDataSteward,
			Status: models.PendingTaskStatus,
		})
		assert.NoError(t, err)
		assert.Len(t, pending, 2)

		marketing, err := f.tasks.ListTasks(storage.TaskFilter{Role: models.RoleMarketing})
		assert.NoError(t, err)
		assert.Empty(t, marketing)

		byRun, err := f.tasks.ListTasks(storage.TaskFilter{RunID: run1.ID})
		assert.NoError(t, err)
		assert.Len(t, byRun, 1)
	})

	t.Run("AssignNarrowsWithoutStatusChange", func(t *testing.T) {
		f := newEngine(t, nil)
		run, err := f.engine.Start(ctx, "import-review", "product", "p-1", "importer")
		assert.NoError(t, err)
		task := f.openTask(t, run.ID)

		assert.NoError(t, f.tasks.Assign(task.ID, "alice"))

		assigned, err := f.tasks.GetTask(task.ID)
		assert.NoError(t, err)
		assert.Equal(t, "alice", assigned.Assignee)
		assert.Equal(t, models.PendingTaskStatus, assigned.Status)

		mine, err := f.tasks.ListTasks(storage.TaskFilter{Assignee: "alice"})
		assert.NoError(t, err)
		assert.Len(t, mine, 1)
	})

	t.Run("AssignResolvedTaskFails", func(t *testing.T) {
		f := newEngine(t, nil)
		run, err := f.engine.Start(ctx, "import-review", "product", "p-1", "importer")
		assert.NoError(t, err)
		task := f.openTask(t, run.ID)

		_, err = f.engine.ResolveTask(ctx, task.ID, "alice", models.RoleDataSteward, models.OutcomeApprove, "")
		assert.NoError(t, err)

		err = f.tasks.Assign(task.ID, "bob")
		assert.ErrorIs(t, err, service.ErrAlreadyResolved)
	})

	t.Run("ExpireAndImmutability", func(t *testing.T) {
		f := newEngine(t, nil)
		run, err := f.engine.Start(ctx, "import-review", "product", "p-1", "importer")
		assert.NoError(t, err)
		task := f.openTask(t, run.ID)

		assert.NoError(t, f.tasks.Expire(task.ID))

		expired, err := f.tasks.GetTask(task.ID)
		assert.NoError(t, err)
		assert.Equal(t, models.ExpiredTaskStatus, expired.Status)

		// Expired tasks are immutable.
		assert.ErrorIs(t, f.tasks.Expire(task.ID), service.ErrAlreadyResolved)
		assert.ErrorIs(t, f.tasks.Assign(task.ID, "alice"), service.ErrAlreadyResolved)
	})

	t.Run("GetUnknownTask", func(t *testing.T) {
		f := newEngine(t, nil)
		_, err := f.tasks.GetTask("nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
