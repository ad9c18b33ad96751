package config

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// sensitivePaths lists config fields whose values are redacted in change
// logs.
var sensitivePaths = map[string]bool{
	"Server.Auth.JWTSecret": true,
	"Database.Password":     true,
	"Redis.Password":        true,
}

// restartPrefixes lists sections whose changes only take effect after a
// process restart; applying them logs a warning.
var restartPrefixes = []string{"Server.", "Database.", "Redis.", "Telemetry."}

// ConfigChange records one field-level difference between two applied
// configurations.
type ConfigChange struct {
	Timestamp time.Time `json:"timestamp"`
	// Source names where the change came from: file, env, or api.
	Source string `json:"source"`
	// Path is the struct path of the changed field, e.g. "Log.Level".
	Path     string `json:"path"`
	OldValue any    `json:"old_value,omitempty"`
	NewValue any    `json:"new_value,omitempty"`
	// RequiresRestart marks changes the running process cannot absorb.
	RequiresRestart bool `json:"requires_restart"`
}

// ValidateFunc vets a new configuration before it is applied.
type ValidateFunc func(newConfig *Config) error

// ReloadCallback runs after a new configuration has been applied.
type ReloadCallback func(oldConfig, newConfig *Config)

// ReloadManager re-reads the configuration file when it changes, validates
// the result, and swaps it in. A callback failure rolls back to the previous
// configuration.
type ReloadManager struct {
	mu sync.RWMutex

	config     *Config
	configPath string
	previous   *Config

	validateFunc ValidateFunc
	callbacks    []ReloadCallback
	changeLog    []ConfigChange

	watcher *FileWatcher
	logger  *zap.Logger

	running bool
	cancel  context.CancelFunc
}

// ReloadOption configures the ReloadManager.
type ReloadOption func(*ReloadManager)

// WithReloadLogger sets the logger.
func WithReloadLogger(logger *zap.Logger) ReloadOption {
	return func(m *ReloadManager) {
		m.logger = logger
	}
}

// WithReloadPath sets the configuration file to watch and re-read.
func WithReloadPath(path string) ReloadOption {
	return func(m *ReloadManager) {
		m.configPath = path
	}
}

// WithValidateFunc sets a validation hook run before applying a new
// configuration.
func WithValidateFunc(fn ValidateFunc) ReloadOption {
	return func(m *ReloadManager) {
		m.validateFunc = fn
	}
}

// NewReloadManager creates a manager holding the given initial configuration.
func NewReloadManager(config *Config, opts ...ReloadOption) *ReloadManager {
	m := &ReloadManager{
		config:    config,
		callbacks: make([]ReloadCallback, 0),
		changeLog: make([]ConfigChange, 0, 64),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the live configuration.
func (m *ReloadManager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnReload registers a callback invoked after each applied configuration.
func (m *ReloadManager) OnReload(cb ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Changes returns a copy of the recorded change log.
func (m *ReloadManager) Changes() []ConfigChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ConfigChange, len(m.changeLog))
	copy(out, m.changeLog)
	return out
}

// Start watches the configuration file. Without a path it is a no-op, which
// keeps Apply and Reload usable for SIGHUP-driven reloads.
func (m *ReloadManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("reload manager already running")
	}

	ctx, m.cancel = context.WithCancel(ctx)

	if m.configPath != "" {
		watcher, err := NewFileWatcher(
			[]string{m.configPath},
			WithWatcherLogger(m.logger),
			WithDebounceDelay(500*time.Millisecond),
		)
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}

		watcher.OnChange(func(event FileEvent) {
			if event.Op != FileOpWrite && event.Op != FileOpCreate {
				return
			}
			if err := m.Reload(); err != nil {
				m.logger.Error("config reload failed, keeping current config",
					zap.Error(err), zap.String("path", event.Path))
			}
		})

		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start file watcher: %w", err)
		}
		m.watcher = watcher
	}

	m.running = true
	m.logger.Info("config reload manager started",
		zap.String("config_path", m.configPath))
	return nil
}

// Stop halts file watching.
func (m *ReloadManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	if m.watcher != nil {
		if err := m.watcher.Stop(); err != nil {
			m.logger.Error("failed to stop file watcher", zap.Error(err))
		}
	}
	m.running = false
	return nil
}

// Reload re-reads the configuration file and applies it. The current
// configuration is kept when loading or validation fails.
func (m *ReloadManager) Reload() error {
	if m.configPath == "" {
		return fmt.Errorf("no config path set")
	}

	newConfig, err := NewLoader().WithConfigPath(m.configPath).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return m.Apply(newConfig, "file")
}

// Apply validates and swaps in a new configuration. Validation, the swap,
// and change-log updates happen under one lock; callbacks run outside it and
// a callback failure rolls the swap back.
func (m *ReloadManager) Apply(newConfig *Config, source string) error {
	m.mu.Lock()

	oldConfig := m.config

	if m.validateFunc != nil {
		if err := m.validateFunc(newConfig); err != nil {
			m.mu.Unlock()
			m.logger.Warn("config validation hook rejected new config",
				zap.Error(err), zap.String("source", source))
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	changes := diffConfigs(oldConfig, newConfig)
	now := time.Now()
	requiresRestart := false
	for i := range changes {
		changes[i].Timestamp = now
		changes[i].Source = source
		if sensitivePaths[changes[i].Path] {
			changes[i].OldValue = "[REDACTED]"
			changes[i].NewValue = "[REDACTED]"
		}
		if restartOnly(changes[i].Path) {
			changes[i].RequiresRestart = true
			requiresRestart = true
		}
	}

	// Configs are swapped whole and never mutated in place, so holding the
	// old pointer is enough for rollback.
	m.previous = oldConfig
	m.config = newConfig
	m.changeLog = append(m.changeLog, changes...)
	if len(m.changeLog) > 1000 {
		m.changeLog = m.changeLog[len(m.changeLog)-1000:]
	}

	callbacks := append([]ReloadCallback(nil), m.callbacks...)
	m.mu.Unlock()

	if err := runCallbacks(callbacks, oldConfig, newConfig); err != nil {
		m.mu.Lock()
		// Roll back unless a concurrent Apply already replaced the config.
		if m.config == newConfig {
			m.config = m.previous
			m.logger.Error("reload callback failed, rolled back",
				zap.Error(err))
		}
		m.mu.Unlock()
		return fmt.Errorf("config applied but callback failed: %w", err)
	}

	if requiresRestart {
		m.logger.Warn("some configuration changes require a restart to take effect")
	}
	m.logger.Info("configuration reloaded",
		zap.String("source", source),
		zap.Int("changes", len(changes)))
	return nil
}

// runCallbacks invokes the callbacks, converting a panic into an error so a
// broken subscriber cannot take down the reload path.
func runCallbacks(callbacks []ReloadCallback, oldConfig, newConfig *Config) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("reload callback panicked: %v", r)
		}
	}()
	for _, cb := range callbacks {
		cb(oldConfig, newConfig)
	}
	return nil
}

func restartOnly(path string) bool {
	for _, prefix := range restartPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// diffConfigs walks both trees and records leaf fields that differ.
func diffConfigs(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changes)
	return changes
}

func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	if oldVal.Kind() != reflect.Struct || newVal.Kind() != reflect.Struct {
		return
	}

	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldPath := field.Name
		if prefix != "" {
			fieldPath = prefix + "." + field.Name
		}

		oldField := oldVal.Field(i)
		newField := newVal.Field(i)

		if oldField.Kind() == reflect.Struct {
			compareStructs(fieldPath, oldField, newField, changes)
			continue
		}
		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:     fieldPath,
				OldValue: oldField.Interface(),
				NewValue: newField.Interface(),
			})
		}
	}
}
