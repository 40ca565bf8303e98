package service

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/Balli0706/automotive-pim-dam/pkg/models"
	"github.com/Balli0706/automotive-pim-dam/pkg/storage"
)

// Logger defines the logging interface the services depend on.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// RegistryService validates and stores workflow definitions. Definitions are
// immutable once registered; there is no update-in-place so in-flight runs
// keep referencing the definition they were started with.
type RegistryService struct {
	store  storage.Store
	logger Logger
	mu     sync.RWMutex
	cache  map[string]models.WorkflowDefinition
}

func NewRegistryService(store storage.Store, logger Logger) *RegistryService {
	return &RegistryService{
		store:  store,
		logger: logger,
		cache:  make(map[string]models.WorkflowDefinition),
	}
}

// Register validates the stage graph and persists the definition.
func (r *RegistryService) Register(def models.WorkflowDefinition) (err error) {
	if err := ValidateDefinition(def); err != nil {
		return err
	}
	if _, err := r.Get(def.ID); err == nil {
		return errors.Wrapf(ErrDefinitionExists, "definition %q", def.ID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	txStore, err := r.store.Begin()
	if err != nil {
		return errors.Wrapf(ErrStorageUnavailable, "begin transaction: %v", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				r.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
		}
	}()

	if err = txStore.SaveDefinition(def); err != nil {
		return err
	}
	if err = txStore.Commit(); err != nil {
		err = errors.Wrapf(ErrStorageUnavailable, "commit: %v", err)
		return err
	}

	r.mu.Lock()
	r.cache[def.ID] = def
	r.mu.Unlock()
	r.logger.Infof("Registered workflow definition '%s' (version %d, %d stages)", def.ID, def.Version, len(def.Stages))
	return nil
}

// Get returns a registered definition, loading it from storage on a cache
// miss. Returns storage.ErrNotFound if absent.
func (r *RegistryService) Get(id string) (models.WorkflowDefinition, error) {
	r.mu.RLock()
	def, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return def, nil
	}
	def, err := r.store.GetDefinition(id)
	if err != nil {
		return models.WorkflowDefinition{}, err
	}
	r.mu.Lock()
	r.cache[def.ID] = def
	r.mu.Unlock()
	return def, nil
}

func (r *RegistryService) List() ([]models.WorkflowDefinition, error) {
	return r.store.ListDefinitions()
}

// ValidateDefinition checks the stage graph invariants: unique stage ids,
// resolvable next-stage references, every stage reachable from the first,
// and no cycle made of auto stages only (loops are allowed as long as a
// human action is required each time around).
func ValidateDefinition(def models.WorkflowDefinition) error {
	if def.ID == "" {
		return errors.Wrap(ErrInvalidDefinition, "empty definition id")
	}
	if len(def.Stages) == 0 {
		return errors.Wrapf(ErrInvalidDefinition, "definition %q has no stages", def.ID)
	}

	stages := make(map[string]models.Stage, len(def.Stages))
	for _, s := range def.Stages {
		if s.ID == "" {
			return errors.Wrapf(ErrInvalidDefinition, "definition %q contains a stage with empty id", def.ID)
		}
		if _, dup := stages[s.ID]; dup {
			return errors.Wrapf(ErrInvalidDefinition, "duplicate stage id %q", s.ID)
		}
		stages[s.ID] = s
	}

	for _, s := range def.Stages {
		switch {
		case s.Terminal:
			if s.Auto || s.Next != "" || len(s.Outcomes) > 0 {
				return errors.Wrapf(ErrInvalidDefinition, "terminal stage %q must not define next or outcomes", s.ID)
			}
		case s.Auto:
			if len(s.Outcomes) > 0 {
				return errors.Wrapf(ErrInvalidDefinition, "auto stage %q must not define outcomes", s.ID)
			}
			if _, ok := stages[s.Next]; !ok {
				return errors.Wrapf(ErrInvalidDefinition, "auto stage %q references unknown stage %q", s.ID, s.Next)
			}
		default:
			if s.Role == "" {
				return errors.Wrapf(ErrInvalidDefinition, "stage %q requires a role", s.ID)
			}
			if len(s.Outcomes) == 0 {
				return errors.Wrapf(ErrInvalidDefinition, "stage %q defines no outcomes", s.ID)
			}
			for outcome, next := range s.Outcomes {
				if !outcome.Human() {
					return errors.Wrapf(ErrInvalidDefinition, "stage %q allows unknown outcome %q", s.ID, outcome)
				}
				if _, ok := stages[next]; !ok {
					return errors.Wrapf(ErrInvalidDefinition, "stage %q outcome %q references unknown stage %q", s.ID, outcome, next)
				}
			}
		}
	}

	// Reachability from the initial stage.
	reachable := map[string]struct{}{}
	queue := []string{def.Stages[0].ID}
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		if _, seen := reachable[curr]; seen {
			continue
		}
		reachable[curr] = struct{}{}
		s := stages[curr]
		if s.Auto {
			queue = append(queue, s.Next)
		}
		for _, next := range s.Outcomes {
			queue = append(queue, next)
		}
	}
	for id := range stages {
		if _, ok := reachable[id]; !ok {
			return errors.Wrapf(ErrInvalidDefinition, "stage %q is unreachable", id)
		}
	}

	// A loop through auto stages only would advance forever without a human
	// action in between.
	for _, s := range def.Stages {
		if !s.Auto {
			continue
		}
		visited := map[string]struct{}{}
		curr := s
		for curr.Auto {
			if _, seen := visited[curr.ID]; seen {
				return errors.Wrapf(ErrInvalidDefinition, "auto stage cycle through %q", curr.ID)
			}
			visited[curr.ID] = struct{}{}
			curr = stages[curr.Next]
		}
	}

	return nil
}
