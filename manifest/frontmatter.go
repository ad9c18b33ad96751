package manifest

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/skillflow/types"
)

// agentMatter is the YAML front matter of an AGENT.md file.
type agentMatter struct {
	Name          string            `yaml:"name"`
	Domain        string            `yaml:"domain"`
	Description   string            `yaml:"description"`
	DefaultSkill  string            `yaml:"default_skill"`
	FallbackAgent string            `yaml:"fallback_agent"`
	ErrorPolicy   types.ErrorPolicy `yaml:"error_policy"`
}

// skillMatter is the YAML front matter of a SKILL.md file.
type skillMatter struct {
	Name         string                  `yaml:"name"`
	Description  string                  `yaml:"description"`
	BondType     string                  `yaml:"bond_type"`
	Priority     Priority                `yaml:"priority"`
	BondedSkills []string                `yaml:"bonded_skills"`
	Parameters   map[string]*paramMatter `yaml:"parameters"`
}

// paramMatter is the manifest form of one input parameter declaration.
type paramMatter struct {
	Type        string   `yaml:"type"`
	Description string   `yaml:"description"`
	Required    bool     `yaml:"required"`
	Values      []string `yaml:"values"`
	Default     any      `yaml:"default"`
}

// Priority unmarshals from either a bare integer or a label of the form
// "P<n>", the notation content packs use in their front matter.
type Priority int

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Priority) UnmarshalYAML(value *yaml.Node) error {
	var n int
	if err := value.Decode(&n); err == nil {
		if n < 0 {
			return fmt.Errorf("negative priority %d", n)
		}
		*p = Priority(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("priority must be an integer or a P<n> label")
	}
	n, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = Priority(n)
	return nil
}

// ParsePriority normalizes a priority label to its ordinal: "P2" and "2"
// both mean 2. An empty label means priority 0.
func ParsePriority(s string) (int, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return 0, nil
	}
	if len(v) > 1 && (v[0] == 'P' || v[0] == 'p') {
		v = v[1:]
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid priority label %q", s)
	}
	return n, nil
}

// ParseAgent parses AGENT.md content into an agent descriptor. The returned
// descriptor's ID is whatever the front matter names; the loader reconciles
// it with the directory name.
func ParseAgent(content []byte) (*types.AgentDescriptor, error) {
	front, err := splitFrontMatter(string(content))
	if err != nil {
		return nil, types.NewError(types.ErrManifestInvalid, err.Error())
	}
	var m agentMatter
	if err := yaml.Unmarshal([]byte(front), &m); err != nil {
		return nil, types.NewError(types.ErrManifestInvalid, "parse front matter").WithCause(err)
	}
	return &types.AgentDescriptor{
		ID:            m.Name,
		Domain:        m.Domain,
		Description:   m.Description,
		DefaultSkill:  m.DefaultSkill,
		FallbackAgent: m.FallbackAgent,
		ErrorPolicy:   m.ErrorPolicy,
	}, nil
}

// ParseSkill parses SKILL.md content into a skill descriptor. AgentID is left
// empty; the loader stamps it from the owning agent directory.
func ParseSkill(content []byte) (*types.SkillDescriptor, error) {
	front, err := splitFrontMatter(string(content))
	if err != nil {
		return nil, types.NewError(types.ErrManifestInvalid, err.Error())
	}
	var m skillMatter
	if err := yaml.Unmarshal([]byte(front), &m); err != nil {
		return nil, types.NewError(types.ErrManifestInvalid, "parse front matter").WithCause(err)
	}

	bondType, err := types.ParseBondType(m.BondType)
	if err != nil {
		return nil, types.NewError(types.ErrManifestInvalid, err.Error())
	}
	schema, err := m.schema()
	if err != nil {
		return nil, types.NewError(types.ErrManifestInvalid, err.Error())
	}

	return &types.SkillDescriptor{
		Name:        m.Name,
		Description: m.Description,
		BondType:    bondType,
		Priority:    int(m.Priority),
		Input:       schema,
		Bonds:       m.BondedSkills,
	}, nil
}

// schema converts the parameters block into an input schema. Parameter names
// sort alphabetically so the Required list is deterministic across loads.
func (m *skillMatter) schema() (*types.InputSchema, error) {
	if len(m.Parameters) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(m.Parameters))
	for name := range m.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	schema := types.NewInputSchema()
	for _, name := range names {
		pm := m.Parameters[name]
		spec, err := pm.spec()
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		schema.AddParam(name, spec)
		if pm != nil && pm.Required {
			schema.Require(name)
		}
	}
	return schema, nil
}

func (pm *paramMatter) spec() (*types.ParamSpec, error) {
	if pm == nil {
		return types.NewStringParam(), nil
	}

	var spec *types.ParamSpec
	switch {
	case pm.Type == "enum" || len(pm.Values) > 0:
		if len(pm.Values) == 0 {
			return nil, fmt.Errorf("enum parameter declares no values")
		}
		if pm.Type != "" && pm.Type != "enum" && pm.Type != "string" {
			return nil, fmt.Errorf("values are only valid on string parameters, not %q", pm.Type)
		}
		spec = types.NewEnumParam(pm.Values...)
	default:
		pt, err := types.ParseParamType(pm.Type)
		if err != nil {
			return nil, err
		}
		spec = &types.ParamSpec{Type: pt}
	}

	if pm.Description != "" {
		spec.WithDescription(pm.Description)
	}
	if pm.Default != nil {
		spec.WithDefault(pm.Default)
	}
	return spec, nil
}

// splitFrontMatter extracts the YAML front matter block, which must open the
// file and be delimited by "---" lines. The markdown body after the closing
// delimiter is lesson content and is not needed here.
func splitFrontMatter(content string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(content))

	opened := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "---" {
			opened = true
			break
		}
		if line != "" {
			return "", fmt.Errorf("manifest must start with YAML front matter (---)")
		}
	}
	if !opened {
		return "", fmt.Errorf("manifest must start with YAML front matter (---)")
	}

	var lines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			closed = true
			break
		}
		lines = append(lines, line)
	}
	if !closed {
		return "", fmt.Errorf("front matter is not closed (missing ---)")
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("front matter is empty")
	}
	return strings.Join(lines, "\n"), nil
}
