package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/BaSui01/skillflow"
	"github.com/BaSui01/skillflow/api/handlers"
	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/internal/metrics"
	"github.com/BaSui01/skillflow/internal/server"
	"github.com/BaSui01/skillflow/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 SkillFlow 调度服务的运行时：调度器、HTTP 服务与后台组件
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	// 调度器门面：注册表、执行引擎、历史归档
	dispatcher *skillflow.Dispatcher

	// 服务器管理器
	httpManager *server.Manager

	// 指标收集器（Metrics.Enabled 时非空）
	collector *metrics.Collector

	// OpenTelemetry providers（Telemetry.Enabled 时非空）
	otel *telemetry.Providers

	// 配置热重载
	reloadManager *config.ReloadManager

	// 内容包文件监听（Registry.WatchPack 时非空）
	packWatcher *config.FileWatcher

	// 后台 goroutine 生命周期管理
	backgroundCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.backgroundCancel = cancel

	// 1. 初始化指标收集器
	if s.cfg.Metrics.Enabled {
		s.collector = metrics.NewCollector(s.cfg.Metrics.Namespace, s.logger)
	}

	// 2. 初始化 OpenTelemetry
	if s.cfg.Telemetry.Enabled {
		providers, err := telemetry.Init(s.cfg.Telemetry, s.logger)
		if err != nil {
			return fmt.Errorf("failed to init telemetry: %w", err)
		}
		s.otel = providers
	}

	// 3. 构建调度器
	if err := s.initDispatcher(); err != nil {
		return fmt.Errorf("failed to init dispatcher: %w", err)
	}

	// 4. 初始化配置热重载
	if err := s.initReloadManager(ctx); err != nil {
		return fmt.Errorf("failed to init reload manager: %w", err)
	}

	// 5. 监听内容包变更
	if s.cfg.Registry.WatchPack && s.cfg.Registry.PackDir != "" {
		if err := s.startPackWatcher(ctx); err != nil {
			return fmt.Errorf("failed to start pack watcher: %w", err)
		}
	}

	// 6. SIGHUP 触发内容包重载
	s.startSignalReload(ctx)

	// 7. 启动 HTTP 服务器
	if err := s.startHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.recordRegistrySize()

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Bool("metrics_enabled", s.cfg.Metrics.Enabled),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
		zap.Bool("pack_watch_enabled", s.packWatcher != nil),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initDispatcher 构建调度器门面，并接入指标与追踪记录器
func (s *Server) initDispatcher() error {
	opts := []skillflow.Option{skillflow.WithLogger(s.logger)}
	if s.collector != nil {
		opts = append(opts,
			skillflow.WithRecorder(s.collector),
			skillflow.WithArchiveObserver(s.collector.RecordArchive),
		)
	}
	if s.otel != nil {
		opts = append(opts, skillflow.WithRecorder(telemetry.NewSpanRecorder(s.otel.TracerProvider())))
	}

	dispatcher, err := skillflow.New(s.cfg, opts...)
	if err != nil {
		return err
	}
	s.dispatcher = dispatcher

	s.logger.Info("Dispatcher initialized",
		zap.String("pack_dir", s.cfg.Registry.PackDir),
		zap.Bool("history_enabled", s.dispatcher.History() != nil),
	)
	return nil
}

// initReloadManager 初始化配置热重载管理器
func (s *Server) initReloadManager(ctx context.Context) error {
	opts := []config.ReloadOption{
		config.WithReloadLogger(s.logger),
		config.WithValidateFunc(func(newConfig *config.Config) error {
			return newConfig.Validate()
		}),
	}
	if s.configPath != "" {
		opts = append(opts, config.WithReloadPath(s.configPath))
	}

	s.reloadManager = config.NewReloadManager(s.cfg, opts...)

	// 配置变更仅记录日志；Server/Database/Redis 等段需要重启才生效
	s.reloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("Configuration reloaded")
		s.cfg = newConfig
	})

	if err := s.reloadManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reload manager: %w", err)
	}
	return nil
}

// startPackWatcher 监听内容包清单文件，变更后重建注册表快照
func (s *Server) startPackWatcher(ctx context.Context) error {
	paths, err := manifestPaths(s.cfg.Registry.PackDir)
	if err != nil {
		return fmt.Errorf("failed to scan pack dir: %w", err)
	}

	watcher, err := config.NewFileWatcher(paths,
		config.WithWatcherLogger(s.logger),
		config.WithDebounceDelay(time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to create pack watcher: %w", err)
	}

	watcher.OnChange(func(event config.FileEvent) {
		s.logger.Info("content pack changed",
			zap.String("path", event.Path),
			zap.String("op", event.Op.String()))
		s.reloadPack("pack_watch")

		// 重载后重新扫描，新增的清单文件纳入监听
		if fresh, err := manifestPaths(s.cfg.Registry.PackDir); err == nil {
			for _, p := range fresh {
				_ = watcher.AddPath(p)
			}
		}
	})

	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pack watcher: %w", err)
	}
	s.packWatcher = watcher
	return nil
}

// manifestPaths 收集内容包下的清单文件与目录。目录的 mtime 在增删条目时
// 变化，因此监听目录可以发现新增的 agent/skill。
func manifestPaths(packDir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(packDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != packDir && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				return fs.SkipDir
			}
			paths = append(paths, path)
			return nil
		}
		if name == "AGENT.md" || name == "SKILL.md" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// startSignalReload 监听 SIGHUP，收到后重载内容包
func (s *Server) startSignalReload(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				s.logger.Info("SIGHUP received, reloading content pack")
				s.reloadPack("sighup")
			}
		}
	}()
}

// reloadPack 重建注册表快照并更新指标。重载失败时保留当前快照。
func (s *Server) reloadPack(source string) {
	err := s.dispatcher.ReloadPack(context.Background())
	if s.collector != nil {
		s.collector.RecordRegistryReload(err)
	}
	if err != nil {
		s.logger.Error("content pack reload failed",
			zap.String("source", source), zap.Error(err))
		return
	}

	s.recordRegistrySize()
	snap := s.dispatcher.Registry().Snapshot()
	s.logger.Info("content pack reloaded",
		zap.String("source", source),
		zap.Int("agents", len(snap.Agents())),
		zap.Int("skills", snap.Len()),
		zap.Int64("version", snap.Version()))
}

func (s *Server) recordRegistrySize() {
	if s.collector == nil {
		return
	}
	if snap := s.dispatcher.Registry().Snapshot(); snap != nil {
		s.collector.SetRegistrySize(len(snap.Agents()), snap.Len())
	}
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 注册路由、构建中间件链并启动 HTTP 服务器
func (s *Server) startHTTPServer(ctx context.Context) error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	healthHandler := handlers.NewHealthHandler(s.logger)
	healthHandler.RegisterCheck(handlers.NewRegistrySnapshotCheck(func() bool {
		return s.dispatcher.Registry().Snapshot() != nil
	}))
	if pool := s.dispatcher.Database(); pool != nil {
		healthHandler.RegisterCheck(handlers.NewPingHealthCheck("database", pool.Ping))
	}
	if client := s.dispatcher.Redis(); client != nil {
		healthHandler.RegisterCheck(handlers.NewPingHealthCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
	}

	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", healthHandler.HandleReady)
	mux.HandleFunc("GET /version", healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// API 路由
	// ========================================
	invokeHandler := handlers.NewInvokeHandler(s.dispatcher, s.logger)
	mux.HandleFunc("POST /api/v1/invoke", invokeHandler.HandleInvoke)

	if store := s.dispatcher.History(); store != nil {
		executionsHandler := handlers.NewExecutionsHandler(store, s.cfg.History.RecentLimit, s.logger)
		mux.HandleFunc("GET /api/v1/executions", executionsHandler.HandleList)
		mux.HandleFunc("GET /api/v1/executions/{trace_id}", executionsHandler.HandleGet)
	} else {
		s.logger.Info("execution history disabled, /api/v1/executions not registered")
	}

	// ========================================
	// Metrics 端点（与业务端口共用，置于认证白名单）
	// ========================================
	if s.cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	// ========================================
	// 构建中间件链
	// ========================================
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
	}
	if s.otel != nil {
		middlewares = append(middlewares, OTelTracing())
	}
	if s.collector != nil {
		middlewares = append(middlewares, MetricsMiddleware(s.collector))
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))
	}
	if s.cfg.Server.Auth.Enabled {
		skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
		middlewares = append(middlewares,
			JWTAuth(s.cfg.Server.Auth.JWTSecret, skipAuthPaths, s.logger))
	}
	handler := Chain(mux, middlewares...)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout, // 2x ReadTimeout
		MaxHeaderBytes:  1 << 20,                      // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	// 使用 httpManager 的 WaitForShutdown（它会监听信号）
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	// 执行清理
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 0. 停止后台 goroutine（rate limiter 清理、SIGHUP 监听、pack watcher）
	if s.backgroundCancel != nil {
		s.backgroundCancel()
	}
	if s.packWatcher != nil {
		if err := s.packWatcher.Stop(); err != nil {
			s.logger.Error("Pack watcher shutdown error", zap.Error(err))
		}
	}

	// 1. 停止配置热重载
	if s.reloadManager != nil {
		if err := s.reloadManager.Stop(); err != nil {
			s.logger.Error("Reload manager shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 HTTP 服务器（排空进行中的请求）
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭调度器（引擎 worker 池、Redis、数据库连接）
	if s.dispatcher != nil {
		if err := s.dispatcher.Close(); err != nil {
			s.logger.Error("Dispatcher shutdown error", zap.Error(err))
		}
	}

	// 4. 刷出未导出的 trace
	if s.otel != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
		if err := s.otel.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
		cancel()
	}

	// 5. 等待所有 goroutine 完成
	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
