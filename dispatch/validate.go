package dispatch

import (
	"fmt"
	"math"
	"strconv"

	"github.com/BaSui01/skillflow/registry"
	"github.com/BaSui01/skillflow/types"
)

// ValidatedRequest is a request checked against the registry snapshot it
// will execute on, with defaults applied to its parameters.
type ValidatedRequest struct {
	Request *types.Request
	Agent   *types.AgentDescriptor
	Skill   *types.SkillDescriptor
	Params  map[string]any
}

// Validate checks a request against the agent's declared skill set and the
// skill's input schema. Pure: the same snapshot and request always produce
// the same outcome, and neither is mutated.
func Validate(snap *registry.Snapshot, req *types.Request) (*ValidatedRequest, error) {
	agent, err := snap.Agent(req.AgentID)
	if err != nil {
		return nil, err
	}

	skillName := req.SkillName
	if skillName == "" {
		skillName = agent.DefaultSkill
	}
	if skillName == "" {
		return nil, types.NewError(types.ErrMissingField,
			fmt.Sprintf("request names no skill and agent %q has no default", agent.ID)).
			WithAgent(agent.ID).
			WithHTTPStatus(400)
	}

	skill, err := snap.SkillOf(agent.ID, skillName)
	if err != nil {
		return nil, err
	}

	params, err := checkParams(skill, req.Params)
	if err != nil {
		return nil, err
	}

	return &ValidatedRequest{
		Request: req,
		Agent:   agent,
		Skill:   skill,
		Params:  params,
	}, nil
}

// checkParams validates the parameter map against the schema and returns a
// copy with defaults filled in. A nil schema accepts any parameters.
func checkParams(skill *types.SkillDescriptor, params map[string]any) (map[string]any, error) {
	schema := skill.Input
	out := make(map[string]any, len(params))

	if schema == nil {
		for k, v := range params {
			out[k] = v
		}
		return out, nil
	}

	for name, value := range params {
		spec, ok := schema.Param(name)
		if !ok {
			return nil, types.NewError(types.ErrTypeMismatch,
				fmt.Sprintf("parameter %q is not declared by skill %q", name, skill.Name)).
				WithAgent(skill.AgentID).
				WithSkill(skill.Name).
				WithHTTPStatus(400)
		}
		if err := checkValue(skill, name, spec, value); err != nil {
			return nil, err
		}
		out[name] = value
	}

	for name, spec := range schema.Params {
		if _, present := out[name]; present {
			continue
		}
		if schema.IsRequired(name) {
			return nil, types.NewError(types.ErrMissingField,
				fmt.Sprintf("required parameter %q is missing", name)).
				WithAgent(skill.AgentID).
				WithSkill(skill.Name).
				WithHTTPStatus(400)
		}
		if spec.Default != nil {
			out[name] = spec.Default
		}
	}

	return out, nil
}

func checkValue(skill *types.SkillDescriptor, name string, spec *types.ParamSpec, value any) error {
	mismatch := func(want string) error {
		return types.NewError(types.ErrTypeMismatch,
			fmt.Sprintf("parameter %q must be a %s, got %T", name, want, value)).
			WithAgent(skill.AgentID).
			WithSkill(skill.Name).
			WithHTTPStatus(400)
	}

	switch spec.Type {
	case types.ParamTypeString, "":
		s, ok := value.(string)
		if !ok {
			return mismatch("string")
		}
		if len(spec.Enum) > 0 {
			for _, allowed := range spec.Enum {
				if s == allowed {
					return nil
				}
			}
			return types.NewError(types.ErrInvalidEnumValue,
				fmt.Sprintf("parameter %q value %q is not one of %v", name, s, spec.Enum)).
				WithAgent(skill.AgentID).
				WithSkill(skill.Name).
				WithHTTPStatus(400)
		}
		return nil

	case types.ParamTypeNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return nil
		}
		return mismatch("number")

	case types.ParamTypeInteger:
		switch v := value.(type) {
		case int, int32, int64:
			return nil
		case float64:
			// JSON decodes every number to float64.
			if v == math.Trunc(v) {
				return nil
			}
		}
		return mismatch("integer")

	case types.ParamTypeBoolean:
		if _, ok := value.(bool); !ok {
			return mismatch("boolean")
		}
		return nil

	default:
		return types.NewError(types.ErrTypeMismatch,
			fmt.Sprintf("parameter %q has unsupported declared type %q", name, spec.Type)).
			WithAgent(skill.AgentID).
			WithSkill(skill.Name).
			WithHTTPStatus(400)
	}
}

// CoerceParams converts CLI-style string parameters into the types the
// schema declares, so Validate can stay purely type-checking. Unknown names
// pass through as strings and are rejected by Validate.
func CoerceParams(schema *types.InputSchema, raw map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for name, value := range raw {
		spec, ok := schema.Param(name)
		if !ok {
			out[name] = value
			continue
		}
		switch spec.Type {
		case types.ParamTypeString, "":
			out[name] = value
		case types.ParamTypeNumber:
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, types.NewError(types.ErrTypeMismatch,
					fmt.Sprintf("parameter %q: %q is not a number", name, value)).
					WithHTTPStatus(400)
			}
			out[name] = f
		case types.ParamTypeInteger:
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, types.NewError(types.ErrTypeMismatch,
					fmt.Sprintf("parameter %q: %q is not an integer", name, value)).
					WithHTTPStatus(400)
			}
			out[name] = int(n)
		case types.ParamTypeBoolean:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, types.NewError(types.ErrTypeMismatch,
					fmt.Sprintf("parameter %q: %q is not a boolean", name, value)).
					WithHTTPStatus(400)
			}
			out[name] = b
		default:
			out[name] = value
		}
	}
	return out, nil
}
