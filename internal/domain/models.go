package domain

// ServiceID is the aggregation API's model identifier, e.g.
// "meta-llama/llama-3-8b-instruct:free".
type ServiceID string

// ServiceRef identifies one probeable model. It is read-only to the prober.
type ServiceRef struct {
	ID            ServiceID `json:"id" yaml:"id"`
	Name          string    `json:"name" yaml:"name"`
	Provider      string    `json:"provider" yaml:"provider"`
	ContextLength string    `json:"context_length,omitempty" yaml:"context_length,omitempty"`
	Category      string    `json:"category,omitempty" yaml:"category,omitempty"`
	Description   string    `json:"description,omitempty" yaml:"description,omitempty"`
	Type          string    `json:"type,omitempty" yaml:"type,omitempty"`
}

// DisplayName falls back to the ID when the catalog has no name.
func (s ServiceRef) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return string(s.ID)
}
