package service

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Balli0706/automotive-pim-dam/pkg/models"
)

// LoadDefinitionFile parses a single workflow definition from a YAML file.
func LoadDefinitionFile(path string) (models.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.WorkflowDefinition{}, errors.Wrapf(err, "read definition file %s", path)
	}
	var def models.WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return models.WorkflowDefinition{}, errors.Wrapf(err, "parse definition file %s", path)
	}
	return def, nil
}

// LoadDefinitionDir registers every *.yml/*.yaml definition found in dir.
// Definitions already registered under the same id are skipped so the call
// is safe on every boot.
func (r *RegistryService) LoadDefinitionDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "read definitions dir %s", dir)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		def, err := LoadDefinitionFile(path)
		if err != nil {
			return err
		}
		if err := r.Register(def); err != nil {
			if errors.Is(err, ErrDefinitionExists) {
				r.logger.Infof("Definition '%s' already registered, skipping %s", def.ID, entry.Name())
				continue
			}
			return errors.Wrapf(err, "register definition from %s", path)
		}
	}
	return nil
}
