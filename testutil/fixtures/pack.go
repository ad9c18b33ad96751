// =============================================================================
// 📦 测试数据工厂 - 标准学习内容包
// =============================================================================
// 提供跨套件共用的内容包样例：四个 agent、七个 skill，覆盖 bonded
// skill 展开、跨 agent 绑定、fallback 升级链与 human-review 终点。
// =============================================================================
package fixtures

import (
	"path/filepath"
	"testing"

	"github.com/BaSui01/skillflow/registry"
	"github.com/BaSui01/skillflow/testutil"
	"github.com/BaSui01/skillflow/types"
)

// Pack dimensions, asserted by loader-level tests.
const (
	LearningPackAgents = 4
	LearningPackSkills = 7
)

// =============================================================================
// 📁 磁盘形式
// =============================================================================

// WriteLearningPack lays the canonical learning pack out under dir in the
// AGENT.md / SKILL.md on-disk form. The content mirrors LearningSnapshot, so
// suites can compare a loaded pack against the code-built registry.
func WriteLearningPack(t *testing.T, dir string) {
	t.Helper()

	testutil.WriteFile(t, filepath.Join(dir, "react-agent", "AGENT.md"), `---
name: react-agent
domain: react
default_skill: react-hooks
error_policy:
  strategy: retry_with_backoff
  max_retries: 2
---
# React Agent

Hooks, components and rendering patterns.
`)
	testutil.WriteFile(t, filepath.Join(dir, "react-agent", "react-hooks", "SKILL.md"), `---
name: react-hooks
bond_type: PRIMARY
priority: P0
parameters:
  topic:
    type: string
    required: true
  depth:
    type: string
    values: [intro, deep]
    default: intro
---
## React Hooks

useState, useEffect and the rules of hooks.
`)
	testutil.WriteFile(t, filepath.Join(dir, "react-agent", "context-api-patterns", "SKILL.md"), `---
name: context-api-patterns
bond_type: PRIMARY
priority: P1
---
## Context API Patterns
`)
	testutil.WriteFile(t, filepath.Join(dir, "react-agent", "performance-profiling", "SKILL.md"), `---
name: performance-profiling
bond_type: SECONDARY
priority: P2
---
## Performance Profiling
`)

	testutil.WriteFile(t, filepath.Join(dir, "state-agent", "AGENT.md"), `---
name: state-agent
domain: state-management
fallback_agent: react-agent
error_policy:
  strategy: retry_with_backoff
  max_retries: 1
  escalation_path: human-review
---
# State Agent
`)
	testutil.WriteFile(t, filepath.Join(dir, "state-agent", "redux-fundamentals", "SKILL.md"), `---
name: redux-fundamentals
bond_type: PRIMARY
priority: P0
---
## Redux Fundamentals
`)
	testutil.WriteFile(t, filepath.Join(dir, "state-agent", "redux-state-management", "SKILL.md"), `---
name: redux-state-management
bond_type: PRIMARY
priority: P0
bonded_skills:
  - redux-fundamentals
  - context-api-patterns
---
## Redux State Management
`)

	testutil.WriteFile(t, filepath.Join(dir, "advanced-topics", "AGENT.md"), `---
name: advanced-topics
domain: architecture
fallback_agent: frameworks-agent
error_policy:
  strategy: retry_with_backoff
  max_retries: 3
  escalation_path: human-review
---
# Advanced Topics
`)
	testutil.WriteFile(t, filepath.Join(dir, "advanced-topics", "ssr-ssg-frameworks", "SKILL.md"), `---
name: ssr-ssg-frameworks
bond_type: PRIMARY
priority: P0
---
## SSR and SSG
`)

	testutil.WriteFile(t, filepath.Join(dir, "frameworks-agent", "AGENT.md"), `---
name: frameworks-agent
domain: frameworks
error_policy:
  strategy: fail_fast
---
# Frameworks Agent
`)
	testutil.WriteFile(t, filepath.Join(dir, "frameworks-agent", "ssr-ssg-frameworks", "SKILL.md"), `---
name: ssr-ssg-frameworks
bond_type: PRIMARY
priority: P0
---
## SSR and SSG, framework edition
`)
}

// =============================================================================
// 🏗️ 代码形式
// =============================================================================

// LearningSnapshot builds the same registry as WriteLearningPack without
// touching disk. Benchmarks and engine-level suites use this form.
func LearningSnapshot(t testing.TB) *registry.Snapshot {
	t.Helper()

	b := registry.NewBuilder()
	mustAdd := func(err error) {
		if err != nil {
			t.Fatalf("fixture registry: %v", err)
		}
	}

	mustAdd(b.AddAgent(&types.AgentDescriptor{
		ID:           "react-agent",
		Domain:       "react",
		DefaultSkill: "react-hooks",
		ErrorPolicy: types.ErrorPolicy{
			Strategy:   types.StrategyRetryWithBackoff,
			MaxRetries: 2,
		},
	}))
	mustAdd(b.AddAgent(&types.AgentDescriptor{
		ID:            "state-agent",
		Domain:        "state-management",
		FallbackAgent: "react-agent",
		ErrorPolicy: types.ErrorPolicy{
			Strategy:       types.StrategyRetryWithBackoff,
			MaxRetries:     1,
			EscalationPath: types.HumanReviewSink(),
		},
	}))
	mustAdd(b.AddAgent(&types.AgentDescriptor{
		ID:            "advanced-topics",
		Domain:        "architecture",
		FallbackAgent: "frameworks-agent",
		ErrorPolicy: types.ErrorPolicy{
			Strategy:       types.StrategyRetryWithBackoff,
			MaxRetries:     3,
			EscalationPath: types.HumanReviewSink(),
		},
	}))
	mustAdd(b.AddAgent(&types.AgentDescriptor{
		ID:     "frameworks-agent",
		Domain: "frameworks",
		ErrorPolicy: types.ErrorPolicy{
			Strategy: types.StrategyFailFast,
		},
	}))

	mustAdd(b.AddSkill(&types.SkillDescriptor{
		Name:     "react-hooks",
		AgentID:  "react-agent",
		BondType: types.BondPrimary,
		Priority: 0,
		Input: types.NewInputSchema().
			AddParam("topic", types.NewStringParam()).
			AddParam("depth", types.NewEnumParam("intro", "deep").WithDefault("intro")).
			Require("topic"),
	}))
	mustAdd(b.AddSkill(&types.SkillDescriptor{
		Name:     "context-api-patterns",
		AgentID:  "react-agent",
		BondType: types.BondPrimary,
		Priority: 1,
	}))
	mustAdd(b.AddSkill(&types.SkillDescriptor{
		Name:     "performance-profiling",
		AgentID:  "react-agent",
		BondType: types.BondSecondary,
		Priority: 2,
	}))
	mustAdd(b.AddSkill(&types.SkillDescriptor{
		Name:     "redux-fundamentals",
		AgentID:  "state-agent",
		BondType: types.BondPrimary,
		Priority: 0,
	}))
	mustAdd(b.AddSkill(&types.SkillDescriptor{
		Name:     "redux-state-management",
		AgentID:  "state-agent",
		BondType: types.BondPrimary,
		Priority: 0,
		Bonds:    []string{"redux-fundamentals", "context-api-patterns"},
	}))
	mustAdd(b.AddSkill(&types.SkillDescriptor{
		Name:     "ssr-ssg-frameworks",
		AgentID:  "advanced-topics",
		BondType: types.BondPrimary,
		Priority: 0,
	}))
	mustAdd(b.AddSkill(&types.SkillDescriptor{
		Name:     "ssr-ssg-frameworks",
		AgentID:  "frameworks-agent",
		BondType: types.BondPrimary,
		Priority: 0,
	}))

	snap, err := b.Build()
	if err != nil {
		t.Fatalf("fixture registry build: %v", err)
	}
	return snap
}
