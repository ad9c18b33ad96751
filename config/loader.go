package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full SkillFlow configuration tree.
//
// Precedence: defaults, then YAML file, then environment variables. Every env
// key is the section path joined with underscores under the loader prefix,
// e.g. SKILLFLOW_ENGINE_MAX_WORKERS.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER" json:"server"`
	Engine    EngineConfig    `yaml:"engine" env:"ENGINE" json:"engine"`
	Registry  RegistryConfig  `yaml:"registry" env:"REGISTRY" json:"registry"`
	History   HistoryConfig   `yaml:"history" env:"HISTORY" json:"history"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE" json:"database"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS" json:"redis"`
	Log       LogConfig       `yaml:"log" env:"LOG" json:"log"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS" json:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY" json:"telemetry"`
}

// ServerConfig shapes the HTTP API server.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT" json:"http_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" json:"shutdown_timeout"`

	// RateLimitRPS/Burst bound requests per client IP; 0 disables limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS" json:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST" json:"rate_limit_burst"`

	Auth AuthConfig `yaml:"auth" env:"AUTH" json:"auth"`
}

// AuthConfig shapes bearer-token auth on the API.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED" json:"enabled"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" json:"-"`
}

// EngineConfig mirrors dispatch.EngineConfig with env-tagged fields.
type EngineConfig struct {
	MaxWorkers  int           `yaml:"max_workers" env:"MAX_WORKERS" json:"max_workers"`
	QueueSize   int           `yaml:"queue_size" env:"QUEUE_SIZE" json:"queue_size"`
	StepTimeout time.Duration `yaml:"step_timeout" env:"STEP_TIMEOUT" json:"step_timeout"`

	RetryBaseDelay time.Duration `yaml:"retry_base_delay" env:"RETRY_BASE_DELAY" json:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" env:"RETRY_MAX_DELAY" json:"retry_max_delay"`
}

// RegistryConfig shapes content-pack loading.
type RegistryConfig struct {
	// PackDir is the content-pack root (one agent directory per agent).
	PackDir string `yaml:"pack_dir" env:"PACK_DIR" json:"pack_dir"`
	// WatchPack reloads the registry when manifests change on disk.
	WatchPack bool `yaml:"watch_pack" env:"WATCH_PACK" json:"watch_pack"`
	// LoadConcurrency bounds parallel agent-directory loads.
	LoadConcurrency int `yaml:"load_concurrency" env:"LOAD_CONCURRENCY" json:"load_concurrency"`
}

// HistoryConfig shapes execution archiving.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED" json:"enabled"`
	// Backend selects the store: memory or database.
	Backend string `yaml:"backend" env:"BACKEND" json:"backend"`
	// MemoryCapacity bounds the in-memory ring buffer.
	MemoryCapacity int `yaml:"memory_capacity" env:"MEMORY_CAPACITY" json:"memory_capacity"`
	// RecentLimit is the default page size for execution listings.
	RecentLimit int `yaml:"recent_limit" env:"RECENT_LIMIT" json:"recent_limit"`
}

// DatabaseConfig shapes the history database connection.
type DatabaseConfig struct {
	// Driver selects the backend: postgres or sqlite.
	Driver   string `yaml:"driver" env:"DRIVER" json:"driver"`
	Host     string `yaml:"host" env:"HOST" json:"host"`
	Port     int    `yaml:"port" env:"PORT" json:"port"`
	User     string `yaml:"user" env:"USER" json:"user"`
	Password string `yaml:"password" env:"PASSWORD" json:"-"`
	// Name is the database name, or the file path for sqlite.
	Name    string `yaml:"name" env:"NAME" json:"name"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE" json:"ssl_mode"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME" json:"conn_max_lifetime"`
}

// RedisConfig shapes the Redis-backed trace guard.
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED" json:"enabled"`
	Addr         string `yaml:"addr" env:"ADDR" json:"addr"`
	Password     string `yaml:"password" env:"PASSWORD" json:"-"`
	DB           int    `yaml:"db" env:"DB" json:"db"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE" json:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS" json:"min_idle_conns"`
	// TraceTTL expires abandoned in-flight trace reservations.
	TraceTTL time.Duration `yaml:"trace_ttl" env:"TRACE_TTL" json:"trace_ttl"`
	// CacheTTL bounds read-through cached execution results; <= 0 disables
	// the archive cache.
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL" json:"cache_ttl"`
}

// LogConfig shapes the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL" json:"level"`
	// Format: json or console.
	Format           string   `yaml:"format" env:"FORMAT" json:"format"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS" json:"output_paths"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER" json:"enable_caller"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE" json:"enable_stacktrace"`
}

// MetricsConfig shapes the Prometheus recorder.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED" json:"enabled"`
	Namespace string `yaml:"namespace" env:"NAMESPACE" json:"namespace"`
}

// TelemetryConfig shapes OTLP export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT" json:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME" json:"service_name"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE" json:"sample_rate"`
}

// Loader loads configuration with defaults -> YAML file -> env precedence.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the SKILLFLOW env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "SKILLFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file to load. A missing file is not an error;
// defaults and env vars still apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the struct and overrides env-tagged fields from
// PREFIX_TAG variables, recursing into nested sections.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration wants "500ms"-style values.
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated string slices.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads the configuration or panics. Intended for main().
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv resolves the configuration from defaults and env vars only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks every section and joins the failures.
func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.Engine.validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.History.validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.Database.validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.Log.validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (s *ServerConfig) validate() error {
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server: invalid HTTP port %d", s.HTTPPort)
	}
	if s.RateLimitRPS < 0 {
		return fmt.Errorf("server: rate_limit_rps must not be negative")
	}
	if s.Auth.Enabled && s.Auth.JWTSecret == "" {
		return fmt.Errorf("server: auth enabled without jwt_secret")
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if e.MaxWorkers <= 0 {
		return fmt.Errorf("engine: max_workers must be positive")
	}
	if e.QueueSize <= 0 {
		return fmt.Errorf("engine: queue_size must be positive")
	}
	if e.RetryBaseDelay < 0 || e.RetryMaxDelay < 0 {
		return fmt.Errorf("engine: retry delays must not be negative")
	}
	if e.RetryMaxDelay > 0 && e.RetryBaseDelay > e.RetryMaxDelay {
		return fmt.Errorf("engine: retry_base_delay exceeds retry_max_delay")
	}
	return nil
}

func (h *HistoryConfig) validate() error {
	switch h.Backend {
	case "", "memory", "database":
	default:
		return fmt.Errorf("history: unknown backend %q", h.Backend)
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	switch d.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("database: unsupported driver %q", d.Driver)
	}
	return nil
}

func (l *LogConfig) validate() error {
	switch l.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", l.Level)
	}
	switch l.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log: unknown format %q", l.Format)
	}
	return nil
}

// DSN returns the database connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
