package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/skillflow/internal/pool"
	"github.com/BaSui01/skillflow/registry"
	"github.com/BaSui01/skillflow/types"
)

// Planner scratch state is pooled: plans are built on every dispatch and the
// traversal bookkeeping never escapes.
var (
	plannerPlaced = pool.NewMapPool[int, int](16)
	plannerFlags  = pool.NewSlicePool[bool](64)
	plannerPath   = pool.NewSlicePool[int](16)
)

// BuildPlan flattens the bond closure of the validated skill into a linear
// execution plan: every bonded skill before its dependent, the root last,
// each skill at most once. Pure: the same snapshot and request always yield
// the same plan.
func BuildPlan(snap *registry.Snapshot, vr *ValidatedRequest) (*types.ExecutionPlan, error) {
	rootIdx, ok := snap.Resolve(vr.Agent.ID, vr.Skill.Name)
	if !ok {
		return nil, types.NewError(types.ErrUnknownSkill,
			fmt.Sprintf("skill %q vanished from snapshot v%d", vr.Skill.Name, snap.Version())).
			WithAgent(vr.Agent.ID).
			WithSkill(vr.Skill.Name).
			WithHTTPStatus(404)
	}

	// A failed visit leaves stale flags behind, so the in-stack markers are
	// cleared on Get rather than trusted from the pool.
	inStack := plannerFlags.Get()
	if cap(inStack) < snap.Len() {
		inStack = make([]bool, snap.Len())
	} else {
		inStack = inStack[:snap.Len()]
		clear(inStack)
	}

	r := &planner{
		snap:    snap,
		rootIdx: rootIdx,
		placed:  plannerPlaced.Get(),
		inStack: inStack,
		path:    plannerPath.Get(),
	}
	defer func() {
		plannerPlaced.Put(r.placed)
		plannerFlags.Put(r.inStack)
		plannerPath.Put(r.path)
	}()

	if err := r.visit(rootIdx); err != nil {
		return nil, err
	}

	return &types.ExecutionPlan{
		TraceID:         vr.Request.TraceID,
		AgentID:         vr.Agent.ID,
		RootSkill:       vr.Skill.Name,
		Steps:           r.steps,
		SnapshotVersion: snap.Version(),
	}, nil
}

type planner struct {
	snap    *registry.Snapshot
	rootIdx int

	placed  map[int]int // arena index -> plan position
	inStack []bool
	path    []int
	steps   []types.PlanStep
}

// visit emits the subtree rooted at idx in post order. A skill already in
// the plan is skipped: its subtree was emitted on first encounter, and the
// earlier position keeps dependencies ahead of every dependent.
func (r *planner) visit(idx int) error {
	if _, done := r.placed[idx]; done {
		return nil
	}
	if r.inStack[idx] {
		return r.cycleError(idx)
	}
	r.inStack[idx] = true
	r.path = append(r.path, idx)

	for _, child := range r.orderedBonds(idx) {
		if err := r.visit(child); err != nil {
			return err
		}
	}

	r.inStack[idx] = false
	r.path = r.path[:len(r.path)-1]
	r.place(idx)
	return nil
}

// orderedBonds returns the bonds of idx in execution order: PRIMARY before
// SECONDARY, then ascending priority, declaration order breaking ties.
func (r *planner) orderedBonds(idx int) []int {
	bonds := r.snap.BondsAt(idx)
	if len(bonds) < 2 {
		return bonds
	}
	ordered := make([]int, len(bonds))
	copy(ordered, bonds)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := r.snap.SkillAt(ordered[i]), r.snap.SkillAt(ordered[j])
		ra, rb := bondRank(a), bondRank(b)
		if ra != rb {
			return ra < rb
		}
		return a.Priority < b.Priority
	})
	return ordered
}

func bondRank(d *types.SkillDescriptor) int {
	if d.EffectiveBondType() == types.BondPrimary {
		return 0
	}
	return 1
}

func (r *planner) place(idx int) {
	desc := r.snap.SkillAt(idx)
	bonds := r.snap.BondsAt(idx)
	var deps []int
	if len(bonds) > 0 {
		deps = make([]int, len(bonds))
		for i, b := range bonds {
			deps[i] = r.placed[b]
		}
		sort.Ints(deps)
	}
	r.placed[idx] = len(r.steps)
	r.steps = append(r.steps, types.PlanStep{
		SkillName: desc.Name,
		AgentID:   desc.AgentID,
		BondType:  desc.EffectiveBondType(),
		Priority:  desc.Priority,
		Required:  idx == r.rootIdx || desc.EffectiveBondType() == types.BondPrimary,
		DependsOn: deps,
	})
}

// cycleError reports the bond cycle closing at idx. The registry rejects
// cyclic bonds at build time, so this only fires on a corrupted snapshot.
func (r *planner) cycleError(idx int) error {
	start := 0
	for i, p := range r.path {
		if p == idx {
			start = i
			break
		}
	}
	names := make([]string, 0, len(r.path)-start+1)
	for _, p := range r.path[start:] {
		names = append(names, r.snap.SkillAt(p).Name)
	}
	names = append(names, r.snap.SkillAt(idx).Name)
	return types.NewError(types.ErrCyclicBond,
		fmt.Sprintf("bond cycle: %s", strings.Join(names, " -> "))).
		WithSkill(r.snap.SkillAt(idx).Name).
		WithHTTPStatus(500)
}
