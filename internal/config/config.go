// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the reservation manager's configuration with
// ENV > file > defaults precedence, and hot-reloads the file half of
// that precedence chain via fsnotify.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the fully resolved configuration the daemon wires its
// components from.
type AppConfig struct {
	Manager   ManagerConfig   `yaml:"manager"`
	Store     StoreConfig     `yaml:"store"`
	Notify    NotifyConfig    `yaml:"notify"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	RPC       RPCConfig       `yaml:"rpc"`
	LogLevel  string          `yaml:"logLevel"`
}

// ManagerConfig holds the scheduler/executor/orchestrator knobs.
type ManagerConfig struct {
	Plugins               []string      `yaml:"plugins"`
	MinutesBeforeEndLease  int           `yaml:"minutesBeforeEndLease"`
	EventMaxRetries        int           `yaml:"eventMaxRetries"`
	EventInterval          time.Duration `yaml:"eventInterval"`
	SchedulerConcurrency   int64         `yaml:"schedulerConcurrency"`
	PluginTimeout          time.Duration `yaml:"pluginTimeout"`
	PluginRate             float64       `yaml:"pluginRate"`
	PluginBurst            int           `yaml:"pluginBurst"`
	CheckpointPath         string        `yaml:"checkpointPath"`
}

// StoreConfig configures the sqlite-backed persistence gateway.
type StoreConfig struct {
	DSN          string        `yaml:"dsn"`
	BusyTimeout  time.Duration `yaml:"busyTimeout"`
	MaxOpenConns int           `yaml:"maxOpenConns"`
}

// NotifyConfig configures the notification bus and its idempotency
// ledger.
type NotifyConfig struct {
	RedisAddr string        `yaml:"redisAddr"`
	Channel   string        `yaml:"channel"`
	LedgerDir string        `yaml:"ledgerDir"`
	LedgerTTL time.Duration `yaml:"ledgerTTL"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// RPCConfig configures the HTTP RPC dispatcher surface.
type RPCConfig struct {
	ListenAddr       string        `yaml:"listenAddr"`
	RateLimitPerMin  int           `yaml:"rateLimitPerMin"`
	RateLimitWindow  time.Duration `yaml:"rateLimitWindow"`
}

// Defaults returns the built-in configuration defaults before any
// file or environment override is applied.
func Defaults() AppConfig {
	return AppConfig{
		Manager: ManagerConfig{
			Plugins:              []string{"dummy"},
			MinutesBeforeEndLease: 60,
			EventMaxRetries:      1,
			EventInterval:        10 * time.Second,
			SchedulerConcurrency: 16,
			PluginTimeout:        0,
			PluginRate:           50,
			PluginBurst:          100,
		},
		Store: StoreConfig{
			DSN:          "file:leasecore.db",
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 1,
		},
		Notify: NotifyConfig{
			RedisAddr: "",
			Channel:   "lease.events",
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "",
			SamplingRate: 1.0,
		},
		RPC: RPCConfig{
			ListenAddr:      ":8080",
			RateLimitPerMin: 300,
			RateLimitWindow: time.Minute,
		},
		LogLevel: "info",
	}
}

// FileConfig mirrors AppConfig's YAML shape for decoding the config
// file. Its sections are pointers so that a section absent from the
// file leaves AppConfig's section untouched. loadFile seeds every
// section with the defaults before decoding, so keys set in the file
// overlay the defaults and keys left out keep their default values.
type FileConfig struct {
	Manager   *ManagerConfig   `yaml:"manager,omitempty"`
	Store     *StoreConfig     `yaml:"store,omitempty"`
	Notify    *NotifyConfig    `yaml:"notify,omitempty"`
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
	RPC       *RPCConfig       `yaml:"rpc,omitempty"`
	LogLevel  string           `yaml:"logLevel,omitempty"`
}

// Loader loads configuration with ENV > file > defaults precedence.
type Loader struct {
	configPath string
}

// NewLoader constructs a Loader. configPath may be empty, in which
// case configuration comes from defaults and the environment only.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load resolves the final configuration: defaults, then the file (if
// configured), then environment variable overrides.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		file, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("config: load file: %w", err)
		}
		mergeFile(&cfg, file)
	}

	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config: validate: %w", err)
	}

	return cfg, nil
}

func (l *Loader) loadFile(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err == nil {
		// Decode on top of the defaults so a section present in the
		// file only overrides the keys it actually sets.
		d := Defaults()
		fc = FileConfig{Manager: &d.Manager, Store: &d.Store, Notify: &d.Notify, Telemetry: &d.Telemetry, RPC: &d.RPC}
	}
	if err != nil {
		if os.IsNotExist(err) {
			return fc, nil
		}
		return fc, err
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse yaml: %w", err)
	}
	return fc, nil
}

func mergeFile(cfg *AppConfig, file FileConfig) {
	if file.Manager != nil {
		cfg.Manager = *file.Manager
	}
	if file.Store != nil {
		cfg.Store = *file.Store
	}
	if file.Notify != nil {
		cfg.Notify = *file.Notify
	}
	if file.Telemetry != nil {
		cfg.Telemetry = *file.Telemetry
	}
	if file.RPC != nil {
		cfg.RPC = *file.RPC
	}
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
}

// applyEnv overrides cfg with any LEASECORE_* environment variable
// set, taking precedence over both defaults and the file.
func applyEnv(cfg *AppConfig) {
	envString("LEASECORE_STORE_DSN", &cfg.Store.DSN)
	envDuration("LEASECORE_STORE_BUSY_TIMEOUT", &cfg.Store.BusyTimeout)
	envInt("LEASECORE_STORE_MAX_OPEN_CONNS", &cfg.Store.MaxOpenConns)

	envInt("LEASECORE_MANAGER_MINUTES_BEFORE_END_LEASE", &cfg.Manager.MinutesBeforeEndLease)
	envInt("LEASECORE_MANAGER_EVENT_MAX_RETRIES", &cfg.Manager.EventMaxRetries)
	envDuration("LEASECORE_MANAGER_EVENT_INTERVAL", &cfg.Manager.EventInterval)
	envInt64("LEASECORE_MANAGER_SCHEDULER_CONCURRENCY", &cfg.Manager.SchedulerConcurrency)
	envDuration("LEASECORE_MANAGER_PLUGIN_TIMEOUT", &cfg.Manager.PluginTimeout)
	envFloat("LEASECORE_MANAGER_PLUGIN_RATE", &cfg.Manager.PluginRate)
	envInt("LEASECORE_MANAGER_PLUGIN_BURST", &cfg.Manager.PluginBurst)
	envString("LEASECORE_MANAGER_CHECKPOINT_PATH", &cfg.Manager.CheckpointPath)
	if v, ok := os.LookupEnv("LEASECORE_MANAGER_PLUGINS"); ok {
		cfg.Manager.Plugins = splitCSV(v)
	}

	envString("LEASECORE_NOTIFY_REDIS_ADDR", &cfg.Notify.RedisAddr)
	envString("LEASECORE_NOTIFY_CHANNEL", &cfg.Notify.Channel)
	envString("LEASECORE_NOTIFY_LEDGER_DIR", &cfg.Notify.LedgerDir)
	envDuration("LEASECORE_NOTIFY_LEDGER_TTL", &cfg.Notify.LedgerTTL)

	envString("LEASECORE_TELEMETRY_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	envFloat("LEASECORE_TELEMETRY_SAMPLING_RATE", &cfg.Telemetry.SamplingRate)

	envString("LEASECORE_RPC_LISTEN_ADDR", &cfg.RPC.ListenAddr)
	envInt("LEASECORE_RPC_RATE_LIMIT_PER_MIN", &cfg.RPC.RateLimitPerMin)
	envDuration("LEASECORE_RPC_RATE_LIMIT_WINDOW", &cfg.RPC.RateLimitWindow)

	envString("LEASECORE_LOG_LEVEL", &cfg.LogLevel)
}

func splitCSV(v string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate rejects a configuration that cannot be wired into a
// running daemon.
func Validate(cfg AppConfig) error {
	if cfg.Manager.SchedulerConcurrency <= 0 {
		return fmt.Errorf("config: manager.schedulerConcurrency must be positive")
	}
	if cfg.Manager.EventInterval <= 0 {
		return fmt.Errorf("config: manager.eventInterval must be positive")
	}
	if cfg.Store.DSN == "" {
		return fmt.Errorf("config: store.dsn must not be empty")
	}
	if cfg.RPC.ListenAddr == "" {
		return fmt.Errorf("config: rpc.listenAddr must not be empty")
	}
	return nil
}
