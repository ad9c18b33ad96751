package types

import (
	"fmt"
	"strings"
)

// BondType describes how strongly a skill is bonded to its parent.
type BondType string

const (
	// BondPrimary marks a must-run-before dependency whose failure is fatal.
	BondPrimary BondType = "PRIMARY"
	// BondSecondary marks an optional dependency whose failure is non-fatal.
	BondSecondary BondType = "SECONDARY"
)

// ParseBondType normalizes a bond type label from manifest front matter.
func ParseBondType(s string) (BondType, error) {
	switch strings.ToUpper(strings.TrimSuffix(strings.TrimSpace(s), "_BOND")) {
	case "PRIMARY", "":
		return BondPrimary, nil
	case "SECONDARY":
		return BondSecondary, nil
	default:
		return "", fmt.Errorf("unknown bond type %q", s)
	}
}

// RetryStrategy selects how a step's failures are handled before escalation.
type RetryStrategy string

const (
	// StrategyRetryWithBackoff retries with exponential backoff up to MaxRetries.
	StrategyRetryWithBackoff RetryStrategy = "retry_with_backoff"
	// StrategyFailFast disables retries; the first failure exhausts the budget.
	StrategyFailFast RetryStrategy = "fail_fast"
)

// ErrorPolicy declares an agent's failure handling: retry budget and escalation.
type ErrorPolicy struct {
	Strategy       RetryStrategy  `json:"strategy" yaml:"strategy"`
	MaxRetries     int            `json:"max_retries" yaml:"max_retries"`
	EscalationPath EscalationSink `json:"escalation_path,omitempty" yaml:"escalation_path,omitempty"`
}

// Budget returns the number of retries the policy allows after the first attempt.
func (p ErrorPolicy) Budget() int {
	if p.Strategy == StrategyFailFast || p.MaxRetries < 0 {
		return 0
	}
	return p.MaxRetries
}

// AgentDescriptor is the immutable registration record for an agent.
// The registry owns descriptors after Build; callers must not mutate them.
type AgentDescriptor struct {
	ID            string      `json:"id" yaml:"id"`
	Domain        string      `json:"domain,omitempty" yaml:"domain,omitempty"`
	Description   string      `json:"description,omitempty" yaml:"description,omitempty"`
	DefaultSkill  string      `json:"default_skill,omitempty" yaml:"default_skill,omitempty"`
	FallbackAgent string      `json:"fallback_agent,omitempty" yaml:"fallback_agent,omitempty"`
	ErrorPolicy   ErrorPolicy `json:"error_policy" yaml:"error_policy"`
}

// Validate checks the descriptor's structural fields.
func (a *AgentDescriptor) Validate() error {
	if a.ID == "" {
		return NewError(ErrMissingField, "agent id is required")
	}
	if a.FallbackAgent == a.ID && a.ID != "" && a.FallbackAgent != "" {
		return NewError(ErrInvalidDescriptor, fmt.Sprintf("agent %q lists itself as fallback", a.ID))
	}
	switch a.ErrorPolicy.Strategy {
	case "", StrategyRetryWithBackoff, StrategyFailFast:
	default:
		return NewError(ErrInvalidDescriptor, fmt.Sprintf("agent %q: unknown retry strategy %q", a.ID, a.ErrorPolicy.Strategy))
	}
	return nil
}

// SkillDescriptor is the immutable registration record for a skill.
// Bonds lists the names of the skill's direct dependencies in declaration order.
type SkillDescriptor struct {
	Name        string       `json:"name" yaml:"name"`
	AgentID     string       `json:"agent_id" yaml:"agent_id"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	BondType    BondType     `json:"bond_type" yaml:"bond_type"`
	Priority    int          `json:"priority" yaml:"priority"`
	Input       *InputSchema `json:"input,omitempty" yaml:"input,omitempty"`
	Bonds       []string     `json:"bonds,omitempty" yaml:"bonds,omitempty"`
}

// Validate checks the descriptor's structural fields.
func (s *SkillDescriptor) Validate() error {
	if s.Name == "" {
		return NewError(ErrMissingField, "skill name is required")
	}
	if s.AgentID == "" {
		return NewError(ErrMissingField, fmt.Sprintf("skill %q: owning agent id is required", s.Name))
	}
	switch s.BondType {
	case "", BondPrimary, BondSecondary:
	default:
		return NewError(ErrInvalidDescriptor, fmt.Sprintf("skill %q: unknown bond type %q", s.Name, s.BondType))
	}
	if s.Priority < 0 {
		return NewError(ErrInvalidDescriptor, fmt.Sprintf("skill %q: negative priority %d", s.Name, s.Priority))
	}
	for _, b := range s.Bonds {
		if b == s.Name {
			return NewError(ErrCyclicBond, fmt.Sprintf("skill %q bonds itself", s.Name))
		}
	}
	return nil
}

// EffectiveBondType returns the declared bond type, defaulting to PRIMARY.
func (s *SkillDescriptor) EffectiveBondType() BondType {
	if s.BondType == "" {
		return BondPrimary
	}
	return s.BondType
}
