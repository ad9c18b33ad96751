package types

import (
	"encoding/json"
	"fmt"
)

// ParamType represents the declared type of a skill input parameter.
type ParamType string

const (
	ParamTypeString  ParamType = "string"
	ParamTypeNumber  ParamType = "number"
	ParamTypeInteger ParamType = "integer"
	ParamTypeBoolean ParamType = "boolean"
)

// ParseParamType normalizes a parameter type label from manifest front matter.
func ParseParamType(s string) (ParamType, error) {
	switch ParamType(s) {
	case "", ParamTypeString:
		return ParamTypeString, nil
	case ParamTypeNumber, "float":
		return ParamTypeNumber, nil
	case ParamTypeInteger, "int":
		return ParamTypeInteger, nil
	case ParamTypeBoolean, "bool":
		return ParamTypeBoolean, nil
	default:
		return "", fmt.Errorf("unknown parameter type %q", s)
	}
}

// ParamSpec declares one allowed input parameter of a skill.
type ParamSpec struct {
	Type        ParamType `json:"type" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`

	// Enum restricts string parameters to a closed value set.
	Enum []string `json:"enum,omitempty" yaml:"enum,omitempty"`

	// Default is substituted when an optional parameter is absent.
	Default any `json:"default,omitempty" yaml:"default,omitempty"`
}

// InputSchema declares the allowed parameter names, types and enum values of
// a skill. A nil schema accepts any parameters.
type InputSchema struct {
	Params   map[string]*ParamSpec `json:"params,omitempty" yaml:"params,omitempty"`
	Required []string              `json:"required,omitempty" yaml:"required,omitempty"`
}

// NewInputSchema creates an empty input schema.
func NewInputSchema() *InputSchema {
	return &InputSchema{Params: make(map[string]*ParamSpec)}
}

// NewStringParam creates a string parameter spec.
func NewStringParam() *ParamSpec {
	return &ParamSpec{Type: ParamTypeString}
}

// NewNumberParam creates a number parameter spec.
func NewNumberParam() *ParamSpec {
	return &ParamSpec{Type: ParamTypeNumber}
}

// NewIntegerParam creates an integer parameter spec.
func NewIntegerParam() *ParamSpec {
	return &ParamSpec{Type: ParamTypeInteger}
}

// NewBooleanParam creates a boolean parameter spec.
func NewBooleanParam() *ParamSpec {
	return &ParamSpec{Type: ParamTypeBoolean}
}

// NewEnumParam creates a string parameter restricted to the given values.
func NewEnumParam(values ...string) *ParamSpec {
	return &ParamSpec{Type: ParamTypeString, Enum: values}
}

// WithDescription sets the description.
func (p *ParamSpec) WithDescription(desc string) *ParamSpec {
	p.Description = desc
	return p
}

// WithDefault sets the default value.
func (p *ParamSpec) WithDefault(v any) *ParamSpec {
	p.Default = v
	return p
}

// AddParam adds a parameter spec to the schema.
func (s *InputSchema) AddParam(name string, spec *ParamSpec) *InputSchema {
	if s.Params == nil {
		s.Params = make(map[string]*ParamSpec)
	}
	s.Params[name] = spec
	return s
}

// Require marks parameter names as required.
func (s *InputSchema) Require(names ...string) *InputSchema {
	s.Required = append(s.Required, names...)
	return s
}

// Param looks up a parameter spec by name.
func (s *InputSchema) Param(name string) (*ParamSpec, bool) {
	if s == nil || s.Params == nil {
		return nil, false
	}
	spec, ok := s.Params[name]
	return spec, ok
}

// IsRequired reports whether the named parameter is required.
func (s *InputSchema) IsRequired(name string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// ToJSON serializes the schema to JSON.
func (s *InputSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// SchemaFromJSON deserializes a schema from JSON.
func SchemaFromJSON(data []byte) (*InputSchema, error) {
	var schema InputSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input schema: %w", err)
	}
	return &schema, nil
}
