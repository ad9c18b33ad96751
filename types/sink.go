package types

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SinkKind discriminates the escalation sink variants.
type SinkKind string

const (
	// SinkNone means no escalation path is configured.
	SinkNone SinkKind = ""
	// SinkAgent routes exhausted failures to another agent.
	SinkAgent SinkKind = "agent"
	// SinkHumanReview parks exhausted failures for human review.
	SinkHumanReview SinkKind = "human-review"
	// SinkDrop discards exhausted failures.
	SinkDrop SinkKind = "drop"
)

// EscalationSink is a closed variant: Agent(id) | HumanReview | Drop.
// The zero value means "not configured".
type EscalationSink struct {
	Kind    SinkKind `json:"kind" yaml:"kind"`
	AgentID string   `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
}

// AgentSink returns a sink routing to the given agent.
func AgentSink(agentID string) EscalationSink {
	return EscalationSink{Kind: SinkAgent, AgentID: agentID}
}

// HumanReviewSink returns the terminal human-review sink.
func HumanReviewSink() EscalationSink {
	return EscalationSink{Kind: SinkHumanReview}
}

// DropSink returns the terminal drop sink.
func DropSink() EscalationSink {
	return EscalationSink{Kind: SinkDrop}
}

// IsZero reports whether no sink is configured.
func (s EscalationSink) IsZero() bool {
	return s.Kind == SinkNone
}

// Terminal reports whether the sink ends automated escalation.
func (s EscalationSink) Terminal() bool {
	return s.Kind == SinkHumanReview || s.Kind == SinkDrop
}

// String renders the manifest form: "agent:<id>", "human-review", "drop" or "".
func (s EscalationSink) String() string {
	if s.Kind == SinkAgent {
		return "agent:" + s.AgentID
	}
	return string(s.Kind)
}

// MarshalText implements encoding.TextMarshaler for JSON and YAML output.
func (s EscalationSink) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so manifest front matter
// and config files can use the compact string form.
func (s *EscalationSink) UnmarshalText(text []byte) error {
	sink, err := ParseEscalationSink(string(text))
	if err != nil {
		return err
	}
	*s = sink
	return nil
}

// MarshalYAML renders the compact string form.
func (s EscalationSink) MarshalYAML() (any, error) {
	return s.String(), nil
}

// UnmarshalYAML accepts the compact string form. yaml.v3 does not consult
// encoding.TextUnmarshaler, so this must be spelled out.
func (s *EscalationSink) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return s.UnmarshalText([]byte(raw))
}

// ParseEscalationSink parses the manifest form of a sink.
func ParseEscalationSink(raw string) (EscalationSink, error) {
	v := strings.TrimSpace(raw)
	switch strings.ToLower(v) {
	case "":
		return EscalationSink{}, nil
	case "human-review", "human_review":
		return HumanReviewSink(), nil
	case "drop", "none":
		return DropSink(), nil
	}
	if id, ok := strings.CutPrefix(v, "agent:"); ok {
		id = strings.TrimSpace(id)
		if id == "" {
			return EscalationSink{}, fmt.Errorf("escalation sink %q names no agent", raw)
		}
		return AgentSink(id), nil
	}
	return EscalationSink{}, fmt.Errorf("unknown escalation sink %q", raw)
}
