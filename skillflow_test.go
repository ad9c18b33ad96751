package skillflow_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/skillflow"
	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/dispatch"
	"github.com/BaSui01/skillflow/history"
	"github.com/BaSui01/skillflow/registry"
	"github.com/BaSui01/skillflow/types"
)

func buildSnapshot(t *testing.T) *registry.Snapshot {
	t.Helper()
	b := registry.NewBuilder()
	require.NoError(t, b.AddAgent(&types.AgentDescriptor{
		ID:           "react-agent",
		DefaultSkill: "render-component",
	}))
	require.NoError(t, b.AddSkill(&types.SkillDescriptor{
		Name:    "render-component",
		AgentID: "react-agent",
		Bonds:   []string{"resolve-props"},
	}))
	require.NoError(t, b.AddSkill(&types.SkillDescriptor{
		Name:        "resolve-props",
		AgentID:     "react-agent",
		Description: "Resolves component props before rendering",
	}))
	snap, err := b.Build()
	require.NoError(t, err)
	return snap
}

func TestNew_RequiresSnapshotOrPack(t *testing.T) {
	_, err := skillflow.New(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content pack")
}

func TestDispatcher_InvokeRegisteredHandler(t *testing.T) {
	var calls []string
	handler := dispatch.HandlerFunc(func(_ context.Context, step *dispatch.StepContext) (*dispatch.StepOutcome, error) {
		calls = append(calls, step.Skill.Name)
		return &dispatch.StepOutcome{}, nil
	})

	d, err := skillflow.New(nil,
		skillflow.WithSnapshot(buildSnapshot(t)),
		skillflow.WithHandler("render-component", handler),
		skillflow.WithHandler("resolve-props", handler),
		skillflow.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	defer d.Close()

	result, err := d.Invoke(context.Background(), &types.Request{
		AgentID:   "react-agent",
		SkillName: "render-component",
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusSuccess, result.Status)
	require.Len(t, result.Steps, 2)
	// bonded dependency runs before its dependent
	assert.Equal(t, []string{"resolve-props", "render-component"}, calls)
}

func TestDispatcher_AnnounceFallback(t *testing.T) {
	d, err := skillflow.New(nil,
		skillflow.WithSnapshot(buildSnapshot(t)),
		skillflow.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	defer d.Close()

	// No handler registered anywhere: the announce fallback still completes
	// the plan so callers see the resolved execution order.
	result, err := d.Invoke(context.Background(), &types.Request{AgentID: "react-agent"})
	require.NoError(t, err)

	assert.Equal(t, types.StatusSuccess, result.Status)
	for _, step := range result.Steps {
		assert.Equal(t, types.StepSuccess, step.Status)
	}
}

func TestDispatcher_ArchivesToHistory(t *testing.T) {
	store := history.NewMemoryStore(8)
	var archiveErrs []error

	d, err := skillflow.New(nil,
		skillflow.WithSnapshot(buildSnapshot(t)),
		skillflow.WithHistory(store),
		skillflow.WithArchiveObserver(func(err error) { archiveErrs = append(archiveErrs, err) }),
	)
	require.NoError(t, err)
	defer d.Close()

	result, err := d.Invoke(context.Background(), &types.Request{
		AgentID: "react-agent",
		TraceID: "trace-archive",
	})
	require.NoError(t, err)
	require.Equal(t, types.StatusSuccess, result.Status)

	archived, err := store.ByTraceID(context.Background(), "trace-archive")
	require.NoError(t, err)
	assert.Equal(t, result.Status, archived.Status)
	assert.Len(t, archived.Steps, len(result.Steps))

	require.Len(t, archiveErrs, 1)
	assert.NoError(t, archiveErrs[0])

	assert.Same(t, store, d.History())
}

func TestDispatcher_HistoryFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.History.Enabled = true
	cfg.History.Backend = "memory"
	cfg.History.MemoryCapacity = 4

	d, err := skillflow.New(cfg, skillflow.WithSnapshot(buildSnapshot(t)))
	require.NoError(t, err)
	defer d.Close()

	require.NotNil(t, d.History())

	_, err = d.Invoke(context.Background(), &types.Request{
		AgentID: "react-agent",
		TraceID: "trace-cfg",
	})
	require.NoError(t, err)

	_, err = d.History().ByTraceID(context.Background(), "trace-cfg")
	assert.NoError(t, err)
}

func TestDispatcher_HistoryDisabled(t *testing.T) {
	d, err := skillflow.New(nil,
		skillflow.WithSnapshot(buildSnapshot(t)),
		skillflow.WithHistory(nil),
	)
	require.NoError(t, err)
	defer d.Close()

	assert.Nil(t, d.History())

	_, err = d.Invoke(context.Background(), &types.Request{AgentID: "react-agent"})
	assert.NoError(t, err)
}

func TestDispatcher_ReloadPackWithoutDir(t *testing.T) {
	d, err := skillflow.New(nil, skillflow.WithSnapshot(buildSnapshot(t)))
	require.NoError(t, err)
	defer d.Close()

	err = d.ReloadPack(context.Background())
	require.Error(t, err)
}

func TestNew_LoadsContentPack(t *testing.T) {
	dir := t.TempDir()
	agentDir := filepath.Join(dir, "go-agent")
	require.NoError(t, os.MkdirAll(filepath.Join(agentDir, "write-service"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(agentDir, "AGENT.md"), []byte(`---
name: go-agent
default_skill: write-service
---
# Go Agent
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(agentDir, "write-service", "SKILL.md"), []byte(`---
name: write-service
description: Scaffolds an HTTP service
priority: P1
---
## Write Service
`), 0o644))

	cfg := config.DefaultConfig()
	cfg.Registry.PackDir = dir

	d, err := skillflow.New(cfg, skillflow.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer d.Close()

	result, err := d.Invoke(context.Background(), &types.Request{AgentID: "go-agent"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, result.Status)
	assert.Equal(t, "write-service", result.RootSkill)

	// ReloadPack succeeds against the same directory.
	require.NoError(t, d.ReloadPack(context.Background()))
	assert.EqualValues(t, 1, d.Registry().Snapshot().Len())
}

func TestDispatcher_UnknownAgent(t *testing.T) {
	d, err := skillflow.New(nil, skillflow.WithSnapshot(buildSnapshot(t)))
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Invoke(context.Background(), &types.Request{AgentID: "missing-agent"})
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentNotFound, types.GetErrorCode(err))
}

func TestDispatcher_LateHandlerRegistration(t *testing.T) {
	d, err := skillflow.New(nil, skillflow.WithSnapshot(buildSnapshot(t)))
	require.NoError(t, err)
	defer d.Close()

	called := false
	d.Handlers().Handle("resolve-props", dispatch.HandlerFunc(
		func(context.Context, *dispatch.StepContext) (*dispatch.StepOutcome, error) {
			called = true
			return &dispatch.StepOutcome{}, nil
		}))

	_, err = d.Invoke(context.Background(), &types.Request{
		AgentID:   "react-agent",
		SkillName: "resolve-props",
	})
	require.NoError(t, err)
	assert.True(t, called)
}
