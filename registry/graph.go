package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/skillflow/types"
)

// skillNode is one arena entry of the bond graph. Adjacency is stored as
// arena indices so snapshots can be compared and fuzzed without pointer
// identity concerns.
type skillNode struct {
	desc  *types.SkillDescriptor
	bonds []int // direct dependencies, declaration order
}

// bondGraph is the mutable arena the builder assembles before freezing.
type bondGraph struct {
	nodes   []skillNode
	byName  map[string][]int          // skill name -> arena indices, registration order
	byAgent map[string]map[string]int // agent id -> skill name -> arena index
}

func newBondGraph() *bondGraph {
	return &bondGraph{
		byName:  make(map[string][]int),
		byAgent: make(map[string]map[string]int),
	}
}

// add appends a node for the descriptor and indexes it. Bond edges are
// resolved later, once every descriptor is present.
func (g *bondGraph) add(desc *types.SkillDescriptor) int {
	idx := len(g.nodes)
	g.nodes = append(g.nodes, skillNode{desc: desc})
	g.byName[desc.Name] = append(g.byName[desc.Name], idx)
	agentSkills, ok := g.byAgent[desc.AgentID]
	if !ok {
		agentSkills = make(map[string]int)
		g.byAgent[desc.AgentID] = agentSkills
	}
	agentSkills[desc.Name] = idx
	return idx
}

// resolve finds the arena index for a bond target: the owning agent's own
// namespace first, then the earliest-registered skill of that name.
func (g *bondGraph) resolve(ownerAgent, name string) (int, bool) {
	if agentSkills, ok := g.byAgent[ownerAgent]; ok {
		if idx, ok := agentSkills[name]; ok {
			return idx, true
		}
	}
	if idxs := g.byName[name]; len(idxs) > 0 {
		return idxs[0], true
	}
	return 0, false
}

// link resolves every node's declared bond names into arena indices.
func (g *bondGraph) link() error {
	for i := range g.nodes {
		desc := g.nodes[i].desc
		bonds := make([]int, 0, len(desc.Bonds))
		for _, name := range desc.Bonds {
			idx, ok := g.resolve(desc.AgentID, name)
			if !ok {
				return types.NewError(types.ErrUnknownSkill,
					fmt.Sprintf("skill %q bonds unregistered skill %q", desc.Name, name)).
					WithAgent(desc.AgentID).
					WithSkill(desc.Name)
			}
			if idx == i {
				return types.NewError(types.ErrCyclicBond,
					fmt.Sprintf("skill %q bonds itself", desc.Name)).
					WithAgent(desc.AgentID).
					WithSkill(desc.Name)
			}
			bonds = append(bonds, idx)
		}
		g.nodes[i].bonds = bonds
	}
	return nil
}

// checkAcyclic runs a Kahn topological sort over the whole graph. Nodes left
// unprocessed form the cycle; their names are reported sorted.
func (g *bondGraph) checkAcyclic() error {
	n := len(g.nodes)
	remaining := make([]int, n) // unprocessed dependency count per node
	dependents := make([][]int, n)
	for i := range g.nodes {
		remaining[i] = len(g.nodes[i].bonds)
		for _, dep := range g.nodes[i].bonds {
			dependents[dep] = append(dependents[dep], i)
		}
	}

	queue := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if remaining[i] == 0 {
			queue = append(queue, i)
		}
	}

	processed := 0
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		processed++
		for _, dep := range dependents[idx] {
			remaining[dep]--
			if remaining[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if processed == n {
		return nil
	}

	cycle := make([]string, 0, n-processed)
	for i := 0; i < n; i++ {
		if remaining[i] > 0 {
			cycle = append(cycle, g.nodes[i].desc.Name)
		}
	}
	sort.Strings(cycle)
	return types.NewError(types.ErrCyclicBond,
		fmt.Sprintf("bond cycle detected involving: %s", strings.Join(cycle, ", ")))
}
