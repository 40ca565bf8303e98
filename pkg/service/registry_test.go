package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Balli0706/automotive-pim-dam/pkg/models"
	"github.com/Balli0706/automotive-pim-dam/pkg/service"
	"github.com/Balli0706/automotive-pim-dam/pkg/storage"
)

func newRegistry() *service.RegistryService {
	return service.NewRegistryService(storage.NewMockStore(), logger{})
}

func TestRegistryService_Register(t *testing.T) {
	t.Run("ValidDefinition", func(t *testing.T) {
		r := newRegistry()
		assert.NoError(t, r.Register(importReviewDefinition()))

		def, err := r.Get("import-review")
		assert.NoError(t, err)
		assert.Equal(t, "import-review", def.ID)
		assert.Len(t, def.Stages, 3)
	})

	t.Run("DuplicateRegistration", func(t *testing.T) {
		r := newRegistry()
		assert.NoError(t, r.Register(importReviewDefinition()))
		err := r.Register(importReviewDefinition())
		assert.ErrorIs(t, err, service.ErrDefinitionExists)
	})

	t.Run("GetUnknown", func(t *testing.T) {
		r := newRegistry()
		_, err := r.Get("nonexistent")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestValidateDefinition(t *testing.T) {
	base := func() models.WorkflowDefinition { return importReviewDefinition() }

	t.Run("EmptyID", func(t *testing.T) {
		def := base()
		def.ID = ""
		assert.ErrorIs(t, service.ValidateDefinition(def), service.ErrInvalidDefinition)
	})

	t.Run("NoStages", func(t *testing.T) {
		def := base()
		def.Stages = nil
		assert.ErrorIs(t, service.ValidateDefinition(def), service.ErrInvalidDefinition)
	})

	t.Run("DuplicateStageID", func(t *testing.T) {
		def := base()
		def.Stages = append(def.Stages, models.Stage{ID: "review", Terminal: true})
		err := service.ValidateDefinition(def)
		assert.ErrorIs(t, err, service.ErrInvalidDefinition)
		assert.Contains(t, err.Error(), "duplicate stage id")
	})

	t.Run("DanglingOutcomeReference", func(t *testing.T) {
		def := base()
		def.Stages[1].Outcomes[models.OutcomeApprove] = "missing"
		err := service.ValidateDefinition(def)
		assert.ErrorIs(t, err, service.ErrInvalidDefinition)
		assert.Contains(t, err.Error(), "unknown stage")
	})

	t.Run("DanglingNextReference", func(t *testing.T) {
		def := base()
		def.Stages[0].Next = "missing"
		err := service.ValidateDefinition(def)
		assert.ErrorIs(t, err, service.ErrInvalidDefinition)
	})

	t.Run("UnreachableStage", func(t *testing.T) {
		def := base()
		def.Stages = append(def.Stages, models.Stage{ID: "orphan", Terminal: true})
		err := service.ValidateDefinition(def)
		assert.ErrorIs(t, err, service.ErrInvalidDefinition)
		assert.Contains(t, err.Error(), "unreachable")
	})

	t.Run("MissingRole", func(t *testing.T) {
		def := base()
		def.Stages[1].Role = ""
		err := service.ValidateDefinition(def)
		assert.ErrorIs(t, err, service.ErrInvalidDefinition)
	})

	t.Run("UnknownOutcome", func(t *testing.T) {
		def := base()
		def.Stages[1].Outcomes[models.Outcome("escalate")] = "publish"
		err := service.ValidateDefinition(def)
		assert.ErrorIs(t, err, service.ErrInvalidDefinition)
	})

	t.Run("TerminalWithOutcomes", func(t *testing.T) {
		def := base()
		def.Stages[2].Outcomes = map[models.Outcome]string{models.OutcomeApprove: "review"}
		err := service.ValidateDefinition(def)
		assert.ErrorIs(t, err, service.ErrInvalidDefinition)
	})

	t.Run("AutoStageCycle", func(t *testing.T) {
		def := models.WorkflowDefinition{
			ID:      "auto-loop",
			Name:    "Auto loop",
			Version: 1,
			Stages: []models.Stage{
				{ID: "a", Auto: true, Next: "b"},
				{ID: "b", Auto: true, Next: "a"},
			},
		}
		err := service.ValidateDefinition(def)
		assert.ErrorIs(t, err, service.ErrInvalidDefinition)
		assert.Contains(t, err.Error(), "auto stage cycle")
	})

	t.Run("HumanLoopAllowed", func(t *testing.T) {
		// reject -> earlier stage is fine as long as a human acts each time.
		def := importReviewDefinition()
		def.Stages[1].Outcomes[models.OutcomeRequestChanges] = "review"
		assert.NoError(t, service.ValidateDefinition(def))
	})
}
