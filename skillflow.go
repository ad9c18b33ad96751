// Package skillflow assembles a capability dispatcher from configuration:
// registry snapshot (from a content pack or provided directly), handler mux,
// trace guard, recorder fan-out, execution engine, and optional history store.
//
// Usage:
//
//	import "github.com/BaSui01/skillflow"
//
//	d, err := skillflow.New(cfg,
//		skillflow.WithHandler("render-component", myHandler),
//		skillflow.WithLogger(logger),
//	)
//	result, err := d.Invoke(ctx, &types.Request{AgentID: "react-agent"})
//
// The zero-dependency path works too: skillflow.New(nil, skillflow.WithSnapshot(snap))
// dispatches against a snapshot built in code, guards traces in memory, and keeps
// history in a ring buffer.
package skillflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/dispatch"
	"github.com/BaSui01/skillflow/history"
	"github.com/BaSui01/skillflow/internal/cache"
	"github.com/BaSui01/skillflow/internal/database"
	"github.com/BaSui01/skillflow/manifest"
	"github.com/BaSui01/skillflow/registry"
	"github.com/BaSui01/skillflow/types"
)

// Dispatcher bundles the execution engine with the stores it runs against.
// Create one with New, dispatch with Invoke, release resources with Close.
type Dispatcher struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *registry.Store
	handlers *dispatch.HandlerMux
	engine   *dispatch.Engine
	history  history.Store

	// owned connections, closed by Close
	redisClient *redis.Client
	dbPool      *database.PoolManager
	cacheMgr    *cache.Manager

	onArchive func(error)
}

// Option configures the dispatcher created by New.
type Option func(*options)

type handlerReg struct {
	agentID string
	skill   string
	handler dispatch.Handler
}

type options struct {
	logger     *zap.Logger
	snapshot   *registry.Snapshot
	handlers   []handlerReg
	fallback   dispatch.Handler
	recorders  []dispatch.Recorder
	history    history.Store
	historySet bool
	guard      dispatch.TraceGuard
	onArchive  func(error)
}

// WithLogger sets the logger for every assembled component.
// Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSnapshot dispatches against a snapshot built in code instead of
// loading a content pack from cfg.Registry.PackDir.
func WithSnapshot(snap *registry.Snapshot) Option {
	return func(o *options) { o.snapshot = snap }
}

// WithHandler registers a handler for every skill of the given name.
func WithHandler(skillName string, h dispatch.Handler) Option {
	return func(o *options) {
		o.handlers = append(o.handlers, handlerReg{skill: skillName, handler: h})
	}
}

// WithAgentHandler registers a handler for one agent's skill, shadowing
// WithHandler registrations of the same skill name.
func WithAgentHandler(agentID, skillName string, h dispatch.Handler) Option {
	return func(o *options) {
		o.handlers = append(o.handlers, handlerReg{agentID: agentID, skill: skillName, handler: h})
	}
}

// WithFallbackHandler sets the handler used when no registration matches.
// Defaults to AnnounceHandler.
func WithFallbackHandler(h dispatch.Handler) Option {
	return func(o *options) { o.fallback = h }
}

// WithRecorder adds a recorder to the fan-out. Structured event logging via
// the dispatcher's logger is always included.
func WithRecorder(r dispatch.Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorders = append(o.recorders, r)
		}
	}
}

// WithHistory sets the execution archive, overriding cfg.History.
// Pass nil to disable archiving entirely.
func WithHistory(s history.Store) Option {
	return func(o *options) {
		o.history = s
		o.historySet = true
	}
}

// WithTraceGuard sets the in-flight trace guard, overriding cfg.Redis.
func WithTraceGuard(g dispatch.TraceGuard) Option {
	return func(o *options) { o.guard = g }
}

// WithArchiveObserver registers a callback invoked after each archive
// attempt with the write error, nil on success.
func WithArchiveObserver(fn func(error)) Option {
	return func(o *options) { o.onArchive = fn }
}

// AnnounceHandler returns the default skill handler: it succeeds
// immediately, surfacing the skill's description as the step detail and the
// resolved (agent, skill) pair as output. A dispatcher serving a content
// pack without registered implementations still yields meaningful results —
// the execution order and parameters of every activated skill.
func AnnounceHandler() dispatch.Handler {
	return dispatch.HandlerFunc(func(_ context.Context, step *dispatch.StepContext) (*dispatch.StepOutcome, error) {
		out := map[string]any{
			"agent": step.Agent.ID,
			"skill": step.Skill.Name,
		}
		if len(step.Params) > 0 {
			out["params"] = step.Params
		}
		return &dispatch.StepOutcome{Output: out, Detail: step.Skill.Description}, nil
	})
}

// New assembles a Dispatcher. A nil cfg uses config.DefaultConfig; note the
// defaults name no pack directory, so nil cfg requires WithSnapshot.
func New(cfg *config.Config, opts ...Option) (*Dispatcher, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	d := &Dispatcher{
		cfg:       cfg,
		logger:    o.logger,
		onArchive: o.onArchive,
	}

	// Registry snapshot: provided directly or loaded from the content pack.
	snap := o.snapshot
	if snap == nil {
		loaded, err := d.loadPack(context.Background())
		if err != nil {
			return nil, err
		}
		snap = loaded
	}
	d.store = registry.NewStore(snap, o.logger)

	// Handler mux: explicit registrations over the announce fallback.
	d.handlers = dispatch.NewHandlerMux()
	for _, reg := range o.handlers {
		if reg.agentID != "" {
			d.handlers.HandleAgent(reg.agentID, reg.skill, reg.handler)
		} else {
			d.handlers.Handle(reg.skill, reg.handler)
		}
	}
	if o.fallback != nil {
		d.handlers.Fallback(o.fallback)
	} else {
		d.handlers.Fallback(AnnounceHandler())
	}

	guard, err := d.buildTraceGuard(o)
	if err != nil {
		return nil, err
	}

	if o.historySet {
		d.history = o.history
	} else {
		d.history = d.buildHistory()
	}

	recorders := dispatch.MultiRecorder{dispatch.NewZapRecorder(o.logger)}
	recorders = append(recorders, o.recorders...)

	d.engine = dispatch.NewEngine(d.store, d.handlers, engineConfig(cfg.Engine),
		dispatch.WithTraceGuard(guard),
		dispatch.WithRecorder(recorders),
		dispatch.WithLogger(o.logger),
	)

	return d, nil
}

// Invoke dispatches one request and archives the completed execution.
func (d *Dispatcher) Invoke(ctx context.Context, req *types.Request) (*types.ExecutionResult, error) {
	result, err := d.engine.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	d.archive(ctx, result)
	return result, nil
}

func (d *Dispatcher) archive(ctx context.Context, result *types.ExecutionResult) {
	if d.history == nil || result == nil {
		return
	}
	// The request context may already be expired when the run finished on a
	// timeout; the archive write must still go through.
	saveErr := d.history.Save(context.WithoutCancel(ctx), result)
	if saveErr != nil {
		d.logger.Warn("execution archive failed",
			zap.String("trace_id", result.TraceID),
			zap.Error(saveErr),
		)
	}
	if d.onArchive != nil {
		d.onArchive(saveErr)
	}
}

// History returns the execution archive, nil when archiving is disabled.
func (d *Dispatcher) History() history.Store {
	return d.history
}

// Registry returns the snapshot store serving dispatches.
func (d *Dispatcher) Registry() *registry.Store {
	return d.store
}

// Handlers returns the handler mux for late registrations. The mux is safe
// for concurrent use; new registrations apply to subsequent dispatches.
func (d *Dispatcher) Handlers() *dispatch.HandlerMux {
	return d.handlers
}

// Database returns the connection pool behind the database history backend,
// nil when history runs in memory. Useful for health checks and pool stats.
func (d *Dispatcher) Database() *database.PoolManager {
	return d.dbPool
}

// Redis returns the client behind the Redis trace guard, nil when trace
// dedup runs in memory.
func (d *Dispatcher) Redis() *redis.Client {
	return d.redisClient
}

// ReloadPack rebuilds the registry snapshot from the configured content pack
// and swaps it in. In-flight executions keep the snapshot they started with.
func (d *Dispatcher) ReloadPack(ctx context.Context) error {
	if d.cfg.Registry.PackDir == "" {
		return fmt.Errorf("reload: no content pack directory configured")
	}
	return d.store.Reload(func() (*registry.Snapshot, error) {
		return d.loadPack(ctx)
	})
}

// Close releases the engine's worker pool and every connection the
// dispatcher owns. Stores passed in via options are the caller's to close.
func (d *Dispatcher) Close() error {
	d.engine.Close()

	var errs []error
	if d.cacheMgr != nil {
		if err := d.cacheMgr.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if d.dbPool != nil {
		if err := d.dbPool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// assembly helpers
// =============================================================================

func (d *Dispatcher) loadPack(ctx context.Context) (*registry.Snapshot, error) {
	dir := d.cfg.Registry.PackDir
	if dir == "" {
		return nil, fmt.Errorf("registry: no content pack directory configured and no snapshot provided")
	}
	loader := manifest.NewLoader(
		manifest.WithLogger(d.logger),
		manifest.WithConcurrency(d.cfg.Registry.LoadConcurrency),
	)
	snap, err := loader.LoadSnapshot(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("load content pack %s: %w", dir, err)
	}
	return snap, nil
}

func (d *Dispatcher) buildTraceGuard(o *options) (dispatch.TraceGuard, error) {
	if o.guard != nil {
		return o.guard, nil
	}
	if !d.cfg.Redis.Enabled {
		return dispatch.NewMemoryTraceGuard(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         d.cfg.Redis.Addr,
		Password:     d.cfg.Redis.Password,
		DB:           d.cfg.Redis.DB,
		PoolSize:     d.cfg.Redis.PoolSize,
		MinIdleConns: d.cfg.Redis.MinIdleConns,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis trace guard: %w", err)
	}

	d.redisClient = client
	return dispatch.NewRedisTraceGuard(client, "skillflow:trace:", d.cfg.Redis.TraceTTL, d.logger), nil
}

// buildHistory resolves the archive from cfg.History. A broken database
// backend degrades to the in-memory ring so dispatching keeps working.
func (d *Dispatcher) buildHistory() history.Store {
	hc := d.cfg.History
	if !hc.Enabled {
		return nil
	}

	if hc.Backend == "database" {
		store, err := d.openDatabaseHistory()
		if err == nil {
			return d.wrapHistoryCache(store)
		}
		d.logger.Warn("database history unavailable, falling back to memory",
			zap.Error(err),
		)
	}

	return history.NewMemoryStore(hc.MemoryCapacity)
}

// wrapHistoryCache fronts the database archive with a Redis read-through
// cache when the trace guard already holds a client. The memory backend is
// never wrapped: it is already cheaper than a Redis round-trip.
func (d *Dispatcher) wrapHistoryCache(store history.Store) history.Store {
	ttl := d.cfg.Redis.CacheTTL
	if d.redisClient == nil || ttl <= 0 {
		return store
	}
	// No background ping: the server health checks the shared client already.
	d.cacheMgr = cache.NewManager(d.redisClient, cache.Config{DefaultTTL: ttl}, d.logger)
	return history.NewCachedStore(store, d.cacheMgr, ttl, d.logger)
}

func (d *Dispatcher) openDatabaseHistory() (history.Store, error) {
	db, err := database.Open(d.cfg.Database, d.logger)
	if err != nil {
		return nil, err
	}
	pool, err := database.NewPoolManager(db, d.cfg.Database, d.logger)
	if err != nil {
		return nil, err
	}
	if err := history.AutoMigrate(pool.DB()); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}
	d.dbPool = pool
	return history.NewGormStore(pool.DB(), d.logger), nil
}

func engineConfig(ec config.EngineConfig) dispatch.EngineConfig {
	cfg := dispatch.DefaultEngineConfig()
	if ec.MaxWorkers > 0 {
		cfg.MaxWorkers = ec.MaxWorkers
	}
	if ec.QueueSize > 0 {
		cfg.QueueSize = ec.QueueSize
	}
	if ec.StepTimeout > 0 {
		cfg.StepTimeout = ec.StepTimeout
	}
	if ec.RetryBaseDelay > 0 {
		cfg.Retry.BaseDelay = ec.RetryBaseDelay
	}
	if ec.RetryMaxDelay > 0 {
		cfg.Retry.MaxDelay = ec.RetryMaxDelay
	}
	return cfg
}
