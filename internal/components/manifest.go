// Package components holds what AppBuilder components share: the function-call
// manifest they advertise to tool-using agents.
package components

// Manifest describes a component as a callable tool.
type Manifest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

// Parameters is a JSON-schema object describing tool arguments.
type Parameters struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
	AnyOf      []Requirement       `json:"anyOf,omitempty"`
}

type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

// Requirement is one alternative set of required properties.
type Requirement struct {
	Required []string `json:"required"`
}
