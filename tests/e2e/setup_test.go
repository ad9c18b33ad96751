// 端到端测试环境与通用辅助函数。
//
// 在进程内装配完整持久化栈：miniredis 承担 trace 去重与归档缓存，
// SQLite 临时库承担执行归档，内容包从磁盘加载。
//go:build e2e

package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/skillflow"
	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/testutil"
	"github.com/BaSui01/skillflow/testutil/fixtures"
	"github.com/BaSui01/skillflow/testutil/mocks"
)

// --- 测试环境 ---

// TestEnv 是一套自足的端到端环境：调度器 + Redis + SQLite 归档
type TestEnv struct {
	Config     *config.Config
	Logger     *zap.Logger
	Dispatcher *skillflow.Dispatcher
	Redis      *miniredis.Miniredis
	Recorder   *mocks.RecordingRecorder
	PackDir    string

	ctx    context.Context
	cancel context.CancelFunc
}

// --- 环境设置 ---

// NewTestEnv 创建新的测试环境：内容包落盘、miniredis 启动、
// SQLite 归档建表，全部随测试结束自动清理。
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)

	mr, err := miniredis.Run()
	require.NoError(t, err)

	packDir := t.TempDir()
	fixtures.WriteLearningPack(t, packDir)

	cfg := config.DefaultConfig()
	cfg.Registry.PackDir = packDir
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()
	cfg.History.Enabled = true
	cfg.History.Backend = "database"
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = filepath.Join(t.TempDir(), "history.db")

	logger := zaptest.NewLogger(t)
	rec := mocks.NewRecordingRecorder()

	d, err := skillflow.New(cfg,
		skillflow.WithLogger(logger),
		skillflow.WithRecorder(rec),
	)
	require.NoError(t, err)

	env := &TestEnv{
		Config:     cfg,
		Logger:     logger,
		Dispatcher: d,
		Redis:      mr,
		Recorder:   rec,
		PackDir:    packDir,
		ctx:        ctx,
		cancel:     cancel,
	}

	t.Cleanup(func() {
		env.Cleanup()
	})

	return env
}

// Context 返回测试上下文
func (e *TestEnv) Context() context.Context {
	return e.ctx
}

// Cleanup 清理测试环境
func (e *TestEnv) Cleanup() {
	e.cancel()
	if e.Dispatcher != nil {
		_ = e.Dispatcher.Close()
	}
	if e.Redis != nil {
		e.Redis.Close()
	}
}

// Reset 重置事件记录与 Redis 键空间，SQLite 归档保持不动
func (e *TestEnv) Reset() {
	e.Recorder.Reset()
	e.Redis.FlushAll()
}

// Reopen 模拟进程重启：关闭当前调度器，在同一配置（同一 SQLite
// 文件、同一 Redis）上装配一个新的。
func (e *TestEnv) Reopen(t *testing.T) {
	t.Helper()

	require.NoError(t, e.Dispatcher.Close())

	d, err := skillflow.New(e.Config,
		skillflow.WithLogger(e.Logger),
		skillflow.WithRecorder(e.Recorder),
	)
	require.NoError(t, err)
	e.Dispatcher = d
}

// --- 环境检查 ---

// SkipIfNoPostgres 如果没有 PostgreSQL 则跳过测试
func SkipIfNoPostgres(t *testing.T) {
	t.Helper()
	if os.Getenv("SKILLFLOW_DATABASE_HOST") == "" {
		t.Skip("Skipping test: PostgreSQL not configured (set SKILLFLOW_DATABASE_HOST)")
	}
}

// SkipIfShort 如果是短测试模式则跳过
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping long-running test in short mode")
	}
}

// --- 测试辅助 ---

// AssertEventually 断言条件最终满足
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	testutil.AssertEventuallyTrue(t, condition, timeout)
}
