package models

// Entity is the minimal view of a product or asset record the engine needs:
// the entity store owns the full records, the engine only checks existence
// before starting a run.
type Entity struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
