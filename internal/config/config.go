// Package config loads and validates the Abraxas TOML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root Abraxas runtime configuration.
type Config struct {
	General     General     `toml:"general"`
	CAS         CASConfig   `toml:"cas"`
	Tuning      TuningCfg   `toml:"tuning"`
	Retention   RetentionCfg `toml:"retention"`
	Acquisition Acquisition `toml:"acquisition"`
	Temporal    TemporalCfg `toml:"temporal"`
}

// General holds the ambient tick-runner settings.
type General struct {
	TickInterval   Duration `toml:"tick_interval"`
	Schedule       string   `toml:"schedule"` // optional cron expression; parsed but not used to drive firing
	ArtifactsDir   string   `toml:"artifacts_dir"`
	LogLevel       string   `toml:"log_level"`
	StateDB        string   `toml:"state_db"` // path to the derived SQLite query index
	Mode           string   `toml:"mode"`      // free-form run mode tag embedded in RunHeader.v0
}

// CASConfig configures the content-addressed store.
type CASConfig struct {
	BaseDir string `toml:"base_dir"`
}

// TuningCfg points at the on-disk ACTIVE-pointer tuning base directory.
// This is distinct from the ambient General config: it governs values whose
// identity is part of a run's reproducible artifact content.
type TuningCfg struct {
	BaseDir string `toml:"base_dir"`
}

// RetentionCfg seeds the on-disk RetentionPolicy.v0 if it does not exist yet.
type RetentionCfg struct {
	Enabled        bool  `toml:"enabled"`
	KeepLastTicks  int   `toml:"keep_last_ticks"`
	MaxBytesPerRun int64 `toml:"max_bytes_per_run"`
}

// Acquisition configures the manifest/bulk transport layer.
type Acquisition struct {
	AllowDecodo      bool     `toml:"allow_decodo"`
	UserAgent        string   `toml:"user_agent"`
	RequestTimeout   Duration `toml:"request_timeout"`
	DockerSandbox    bool     `toml:"docker_sandbox"` // gate the optional docker-sandboxed surgical fetcher
	OTLPEndpoint     string   `toml:"otlp_endpoint"`  // empty disables tracing (no-op tracer)
}

// TemporalCfg optionally points the tick orchestrator at a Temporal server
// for workflow-hosted execution. Empty HostPort means "plain RunTick only".
type TemporalCfg struct {
	HostPort  string `toml:"host_port"`
	Namespace string `toml:"namespace"`
	TaskQueue string `toml:"task_queue"`
}

// Clone returns a deep copy so callers under config.Manager never share state.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

func applyDefaults(cfg *Config) {
	if cfg.General.TickInterval.Duration == 0 {
		cfg.General.TickInterval = Duration{30 * time.Second}
	}
	if cfg.General.ArtifactsDir == "" {
		cfg.General.ArtifactsDir = "artifacts"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.StateDB == "" {
		cfg.General.StateDB = "artifacts/abraxas.index.db"
	}
	if cfg.General.Mode == "" {
		cfg.General.Mode = "live"
	}
	if cfg.CAS.BaseDir == "" {
		cfg.CAS.BaseDir = "cas"
	}
	if cfg.Tuning.BaseDir == "" {
		cfg.Tuning.BaseDir = "data/tuning"
	}
	if cfg.Retention.KeepLastTicks == 0 {
		cfg.Retention.KeepLastTicks = 200
	}
	if cfg.Acquisition.UserAgent == "" {
		cfg.Acquisition.UserAgent = "abraxas-fetch/1.0"
	}
	if cfg.Acquisition.RequestTimeout.Duration == 0 {
		cfg.Acquisition.RequestTimeout = Duration{20 * time.Second}
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "abraxas-tick"
	}
}

func validate(cfg *Config) error {
	if cfg.General.TickInterval.Duration <= 0 {
		return fmt.Errorf("general.tick_interval must be positive")
	}
	if cfg.Retention.KeepLastTicks < 0 {
		return fmt.Errorf("retention.keep_last_ticks must not be negative")
	}
	return nil
}

// Load reads and validates an Abraxas TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a Config populated entirely from defaults, for callers
// that run without a config file (e.g. the seal CLI's scratch directories).
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Reload reads and validates a config file. It mirrors Load but is
// intentionally named to reflect runtime refresh paths.
func Reload(path string) (*Config, error) {
	return Load(path)
}

// LoadManager reads config from path and returns an RWMutex-backed
// thread-safe manager.
func LoadManager(path string) (ConfigManager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}

	cfg, err := Reload(path)
	if err != nil {
		return nil, err
	}
	return NewRWMutexManager(cfg), nil
}

// ValidateRuntimeConfigReload rejects hot-reloads that change settings
// requiring a process restart (CAS base directory, state DB path).
func ValidateRuntimeConfigReload(oldCfg, newCfg *Config) error {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	if oldCfg.CAS.BaseDir != newCfg.CAS.BaseDir {
		return fmt.Errorf("cas.base_dir cannot be changed without a restart")
	}
	if oldCfg.General.StateDB != newCfg.General.StateDB {
		return fmt.Errorf("general.state_db cannot be changed without a restart")
	}
	return nil
}
