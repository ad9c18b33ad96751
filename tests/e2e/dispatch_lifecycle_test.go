// 调度生命周期端到端测试。
//
// 覆盖完整持久化链路：调度、SQLite 归档、Redis 读穿缓存、
// 跨连接的 trace 去重、升级链落库与进程重启后的可见性。
//go:build e2e

package e2e

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/skillflow"
	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/testutil/fixtures"
	"github.com/BaSui01/skillflow/testutil/mocks"
	"github.com/BaSui01/skillflow/types"
)

// --- 归档与缓存 ---

// TestLifecycle_ArchiveWritesThroughCache 验证执行结束即写库并直写缓存
func TestLifecycle_ArchiveWritesThroughCache(t *testing.T) {
	env := NewTestEnv(t)

	// 1. 调度一条绑定链
	req := types.NewRequest("state-agent", "redux-state-management", nil)
	req.TraceID = "e2e-archive"
	result, err := env.Dispatcher.Invoke(env.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, result.Status)
	require.Len(t, result.Steps, 3)

	// 2. Save 直写缓存：键随归档立即出现
	assert.True(t, env.Redis.Exists("skillflow:exec:e2e-archive"))

	// 3. 读回与调度结果一致
	got, err := env.Dispatcher.History().ByTraceID(env.Context(), "e2e-archive")
	require.NoError(t, err)
	assert.Equal(t, "e2e-archive", got.TraceID)
	assert.Len(t, got.Steps, 3)
	assert.Equal(t, types.StatusSuccess, got.Status)
}

// TestLifecycle_CacheRepopulatesFromDatabase 验证缓存丢失后读库回填
func TestLifecycle_CacheRepopulatesFromDatabase(t *testing.T) {
	env := NewTestEnv(t)

	req := types.NewRequest("react-agent", "react-hooks", map[string]any{"topic": "useMemo"})
	req.TraceID = "e2e-repop"
	_, err := env.Dispatcher.Invoke(env.Context(), req)
	require.NoError(t, err)

	// 1. 清空 Redis：缓存键消失，SQLite 归档仍在
	env.Redis.FlushAll()
	assert.False(t, env.Redis.Exists("skillflow:exec:e2e-repop"))

	// 2. 读穿命中数据库
	got, err := env.Dispatcher.History().ByTraceID(env.Context(), "e2e-repop")
	require.NoError(t, err)
	assert.Equal(t, "e2e-repop", got.TraceID)
	assert.Equal(t, "react-hooks", got.RootSkill)

	// 3. 读过一次后缓存回填
	assert.True(t, env.Redis.Exists("skillflow:exec:e2e-repop"))
}

// --- trace 去重 ---

// TestLifecycle_DuplicateTraceRejectedWhileInFlight 验证 Redis 租约
// 挡住并发的同 trace 调度，执行结束后租约释放。
func TestLifecycle_DuplicateTraceRejectedWhileInFlight(t *testing.T) {
	env := NewTestEnv(t)

	// 慢 handler 把第一次调度钉在飞行中
	env.Dispatcher.Handlers().Handle("react-hooks",
		mocks.NewStubHandler().WithDelay(400*time.Millisecond))

	first := types.NewRequest("react-agent", "react-hooks", map[string]any{"topic": "useState"})
	first.TraceID = "e2e-dup"

	done := make(chan error, 1)
	go func() {
		_, err := env.Dispatcher.Invoke(env.Context(), first)
		done <- err
	}()

	// 1. 等待租约键出现
	AssertEventually(t, func() bool {
		return env.Redis.Exists("skillflow:trace:e2e-dup")
	}, 2*time.Second)

	// 2. 同 trace 的并发调度被拒绝
	dup := types.NewRequest("react-agent", "react-hooks", map[string]any{"topic": "useState"})
	dup.TraceID = "e2e-dup"
	_, err := env.Dispatcher.Invoke(env.Context(), dup)
	require.Error(t, err)
	assert.Equal(t, types.ErrDuplicateTrace, types.GetErrorCode(err))

	// 3. 第一次正常完成
	require.NoError(t, <-done)

	// 4. 租约随执行结束释放，同一 trace 可再次运行
	rerun := types.NewRequest("react-agent", "react-hooks", map[string]any{"topic": "useState"})
	rerun.TraceID = "e2e-dup"
	_, err = env.Dispatcher.Invoke(env.Context(), rerun)
	require.NoError(t, err)
}

// --- 升级链 ---

// TestLifecycle_EscalationChainPersisted 验证升级子结果随根执行落库，
// 缓存丢失后仍能从数据库重组完整链条。
func TestLifecycle_EscalationChainPersisted(t *testing.T) {
	env := NewTestEnv(t)

	scoped := mocks.NewAgentScopedHandler(mocks.NewStubHandler())
	scoped.ForAgent("advanced-topics", mocks.NewStubHandler().WithError(errors.New("primary down")))
	env.Dispatcher.Handlers().Handle("ssr-ssg-frameworks", scoped)

	req := types.NewRequest("advanced-topics", "ssr-ssg-frameworks", nil)
	req.TraceID = "e2e-escalated"
	result, err := env.Dispatcher.Invoke(env.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusEscalated, result.Status)
	require.NotNil(t, result.Escalation)
	assert.Equal(t, "frameworks-agent", result.Escalation.AgentID)

	// 缓存清空后从 SQLite 重组升级链
	env.Redis.FlushAll()
	got, err := env.Dispatcher.History().ByTraceID(env.Context(), "e2e-escalated")
	require.NoError(t, err)
	assert.Equal(t, types.StatusEscalated, got.Status)
	require.NotNil(t, got.Escalation)
	assert.Equal(t, "frameworks-agent", got.Escalation.AgentID)
	assert.Equal(t, types.StatusSuccess, got.Escalation.Status)
}

// --- 重启与列表 ---

// TestLifecycle_ArchiveSurvivesRestart 验证归档跨调度器实例可见
func TestLifecycle_ArchiveSurvivesRestart(t *testing.T) {
	env := NewTestEnv(t)

	req := types.NewRequest("state-agent", "redux-fundamentals", nil)
	req.TraceID = "e2e-restart"
	_, err := env.Dispatcher.Invoke(env.Context(), req)
	require.NoError(t, err)

	// 1. 重启：新调度器挂到同一 SQLite 文件与 Redis 上
	env.Reopen(t)
	env.Redis.FlushAll()

	// 2. 旧执行依然可查
	got, err := env.Dispatcher.History().ByTraceID(env.Context(), "e2e-restart")
	require.NoError(t, err)
	assert.Equal(t, "e2e-restart", got.TraceID)
	assert.Equal(t, "redux-fundamentals", got.RootSkill)

	// 3. 新调度器照常服务
	result, err := env.Dispatcher.Invoke(env.Context(),
		types.NewRequest("react-agent", "", map[string]any{"topic": "hydration"}))
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, result.Status)
}

// TestLifecycle_RecentListsNewestFirst 验证归档列表按时间倒序
func TestLifecycle_RecentListsNewestFirst(t *testing.T) {
	env := NewTestEnv(t)

	for _, trace := range []string{"e2e-recent-1", "e2e-recent-2", "e2e-recent-3"} {
		req := types.NewRequest("react-agent", "react-hooks", map[string]any{"topic": trace})
		req.TraceID = trace
		_, err := env.Dispatcher.Invoke(env.Context(), req)
		require.NoError(t, err)
	}

	recent, err := env.Dispatcher.History().Recent(env.Context(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "e2e-recent-3", recent[0].TraceID)
	assert.Equal(t, "e2e-recent-2", recent[1].TraceID)
}

// --- 可选的真实 PostgreSQL ---

// TestLifecycle_PostgresBackend 在配置了真实 PostgreSQL 时跑一遍
// 归档往返，验证 postgres 驱动路径。
func TestLifecycle_PostgresBackend(t *testing.T) {
	SkipIfNoPostgres(t)

	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)

	packDir := t.TempDir()
	fixtures.WriteLearningPack(t, packDir)
	cfg.Registry.PackDir = packDir
	cfg.Redis.Enabled = false
	cfg.History.Enabled = true
	cfg.History.Backend = "database"
	cfg.Database.Driver = "postgres"

	d, err := skillflow.New(cfg, skillflow.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	// 数据库后端必须真正接上，而不是降级到内存
	require.NotNil(t, d.Database(), "database history backend did not engage")

	trace := "e2e-pg-" + uuid.NewString()
	req := types.NewRequest("state-agent", "redux-state-management", nil)
	req.TraceID = trace
	result, err := d.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, result.Status)

	got, err := d.History().ByTraceID(context.Background(), trace)
	require.NoError(t, err)
	assert.Equal(t, trace, got.TraceID)
	assert.Len(t, got.Steps, 3)
}
