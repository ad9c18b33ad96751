package registry

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/types"
)

// snapshotVersion numbers every snapshot built in this process.
var snapshotVersion atomic.Int64

// Builder assembles a registry during the load phase. Registration errors
// (duplicates, unknown owners, cycles) surface here, never at request time:
// a registry that fails to build is never frozen.
type Builder struct {
	agents     map[string]*types.AgentDescriptor
	agentOrder []string
	graph      *bondGraph
	logger     *zap.Logger
}

// NewBuilder creates an empty registry builder.
func NewBuilder() *Builder {
	return &Builder{
		agents: make(map[string]*types.AgentDescriptor),
		graph:  newBondGraph(),
		logger: zap.NewNop(),
	}
}

// WithLogger sets a custom logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	if logger != nil {
		b.logger = logger.With(zap.String("component", "registry_builder"))
	}
	return b
}

// AddAgent registers an agent descriptor.
func (b *Builder) AddAgent(agent *types.AgentDescriptor) error {
	if err := agent.Validate(); err != nil {
		return err
	}
	if _, exists := b.agents[agent.ID]; exists {
		return types.NewError(types.ErrDuplicateAgent,
			fmt.Sprintf("agent %q is already registered", agent.ID)).
			WithAgent(agent.ID)
	}
	b.agents[agent.ID] = agent
	b.agentOrder = append(b.agentOrder, agent.ID)
	b.logger.Debug("agent registered",
		zap.String("agent_id", agent.ID),
		zap.String("domain", agent.Domain),
	)
	return nil
}

// AddSkill registers a skill descriptor under its owning agent's namespace.
// The owning agent must already be registered; bond names may reference
// skills registered later and are resolved at Build.
func (b *Builder) AddSkill(skill *types.SkillDescriptor) error {
	if err := skill.Validate(); err != nil {
		return err
	}
	if _, ok := b.agents[skill.AgentID]; !ok {
		return types.NewError(types.ErrAgentNotFound,
			fmt.Sprintf("skill %q names unregistered agent %q", skill.Name, skill.AgentID)).
			WithAgent(skill.AgentID).
			WithSkill(skill.Name).
			WithHTTPStatus(503)
	}
	if agentSkills, ok := b.graph.byAgent[skill.AgentID]; ok {
		if _, dup := agentSkills[skill.Name]; dup {
			return types.NewError(types.ErrDuplicateSkill,
				fmt.Sprintf("skill %q is already registered for agent %q", skill.Name, skill.AgentID)).
				WithAgent(skill.AgentID).
				WithSkill(skill.Name)
		}
	}
	b.graph.add(skill)
	b.logger.Debug("skill registered",
		zap.String("skill", skill.Name),
		zap.String("agent_id", skill.AgentID),
		zap.String("bond_type", string(skill.EffectiveBondType())),
		zap.Int("priority", skill.Priority),
	)
	return nil
}

// Build resolves bonds, verifies the graph is a DAG via topological sort, and
// freezes the result as a read-only versioned snapshot.
func (b *Builder) Build() (*Snapshot, error) {
	for _, id := range b.agentOrder {
		agent := b.agents[id]
		if agent.FallbackAgent != "" {
			if _, ok := b.agents[agent.FallbackAgent]; !ok {
				return nil, types.NewError(types.ErrAgentNotFound,
					fmt.Sprintf("agent %q names unregistered fallback %q", id, agent.FallbackAgent)).
					WithAgent(id)
			}
		}
		if path := agent.ErrorPolicy.EscalationPath; path.Kind == types.SinkAgent {
			if _, ok := b.agents[path.AgentID]; !ok {
				return nil, types.NewError(types.ErrAgentNotFound,
					fmt.Sprintf("agent %q escalation path names unregistered agent %q", id, path.AgentID)).
					WithAgent(id)
			}
		}
		if agent.DefaultSkill != "" {
			if _, ok := b.graph.resolve(id, agent.DefaultSkill); !ok {
				return nil, types.NewError(types.ErrUnknownSkill,
					fmt.Sprintf("agent %q default skill %q is not registered", id, agent.DefaultSkill)).
					WithAgent(id).
					WithSkill(agent.DefaultSkill)
			}
		}
	}

	if err := b.graph.link(); err != nil {
		return nil, fmt.Errorf("registry build failed: %w", err)
	}
	if err := b.graph.checkAcyclic(); err != nil {
		return nil, fmt.Errorf("registry build failed: %w", err)
	}

	snap := &Snapshot{
		version:    snapshotVersion.Add(1),
		loadedAt:   time.Now(),
		agents:     b.agents,
		agentOrder: b.agentOrder,
		graph:      b.graph,
	}

	b.logger.Info("registry built",
		zap.Int64("version", snap.version),
		zap.Int("agents", len(b.agents)),
		zap.Int("skills", len(b.graph.nodes)),
	)

	// The builder must not be reused: the snapshot now owns the maps.
	b.agents = nil
	b.graph = nil
	return snap, nil
}
