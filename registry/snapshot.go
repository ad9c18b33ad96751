package registry

import (
	"fmt"
	"time"

	"github.com/BaSui01/skillflow/types"
)

// Snapshot is a frozen, versioned view of the registry. It is safe for
// unlimited concurrent reads; nothing mutates it after Build.
type Snapshot struct {
	version    int64
	loadedAt   time.Time
	agents     map[string]*types.AgentDescriptor
	agentOrder []string
	graph      *bondGraph
}

// Version returns the snapshot's monotonically increasing version.
func (s *Snapshot) Version() int64 {
	return s.version
}

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// Agent looks up an agent descriptor by id.
func (s *Snapshot) Agent(id string) (*types.AgentDescriptor, error) {
	agent, ok := s.agents[id]
	if !ok {
		return nil, types.NewError(types.ErrAgentNotFound,
			fmt.Sprintf("agent %q is not registered", id)).
			WithAgent(id).
			WithHTTPStatus(503)
	}
	return agent, nil
}

// Skill looks up the earliest-registered skill of the given name.
func (s *Snapshot) Skill(name string) (*types.SkillDescriptor, error) {
	if idxs := s.graph.byName[name]; len(idxs) > 0 {
		return s.graph.nodes[idxs[0]].desc, nil
	}
	return nil, types.NewError(types.ErrUnknownSkill,
		fmt.Sprintf("skill %q is not registered", name)).
		WithSkill(name).
		WithHTTPStatus(404)
}

// SkillOf looks up a skill within an agent's namespace.
func (s *Snapshot) SkillOf(agentID, name string) (*types.SkillDescriptor, error) {
	if agentSkills, ok := s.graph.byAgent[agentID]; ok {
		if idx, ok := agentSkills[name]; ok {
			return s.graph.nodes[idx].desc, nil
		}
	}
	return nil, types.NewError(types.ErrUnknownSkill,
		fmt.Sprintf("agent %q declares no skill %q", agentID, name)).
		WithAgent(agentID).
		WithSkill(name).
		WithHTTPStatus(404)
}

// AgentSkills returns the skills owned by an agent, in registration order.
func (s *Snapshot) AgentSkills(agentID string) []*types.SkillDescriptor {
	agentSkills, ok := s.graph.byAgent[agentID]
	if !ok {
		return nil
	}
	out := make([]*types.SkillDescriptor, 0, len(agentSkills))
	for i := range s.graph.nodes {
		if s.graph.nodes[i].desc.AgentID == agentID {
			out = append(out, s.graph.nodes[i].desc)
		}
	}
	return out
}

// Bonds returns the immediate bonded descriptors of the named skill in
// declaration order. Bonds are one level deep, never transitive.
func (s *Snapshot) Bonds(skillName string) ([]*types.SkillDescriptor, error) {
	idxs := s.graph.byName[skillName]
	if len(idxs) == 0 {
		return nil, types.NewError(types.ErrUnknownSkill,
			fmt.Sprintf("skill %q is not registered", skillName)).
			WithSkill(skillName).
			WithHTTPStatus(404)
	}
	return s.bondsAt(idxs[0]), nil
}

// Resolve returns the arena index of a skill: the agent's own namespace
// first, then the earliest-registered skill of that name.
func (s *Snapshot) Resolve(agentID, skillName string) (int, bool) {
	return s.graph.resolve(agentID, skillName)
}

// Len returns the number of skills in the arena.
func (s *Snapshot) Len() int {
	return len(s.graph.nodes)
}

// SkillAt returns the descriptor at an arena index.
func (s *Snapshot) SkillAt(idx int) *types.SkillDescriptor {
	return s.graph.nodes[idx].desc
}

// BondsAt returns the arena indices bonded to the skill at idx, in
// declaration order. The returned slice must not be mutated.
func (s *Snapshot) BondsAt(idx int) []int {
	return s.graph.nodes[idx].bonds
}

func (s *Snapshot) bondsAt(idx int) []*types.SkillDescriptor {
	bonds := s.graph.nodes[idx].bonds
	out := make([]*types.SkillDescriptor, len(bonds))
	for i, b := range bonds {
		out[i] = s.graph.nodes[b].desc
	}
	return out
}

// Agents returns every registered agent descriptor in registration order.
func (s *Snapshot) Agents() []*types.AgentDescriptor {
	out := make([]*types.AgentDescriptor, 0, len(s.agents))
	for _, id := range s.agentOrder {
		out = append(out, s.agents[id])
	}
	return out
}
