package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cuemby/paramd/pkg/log"
	"github.com/cuemby/paramd/pkg/security"
	"github.com/cuemby/paramd/pkg/types"
	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the config file when no path is passed to Load
const EnvConfigFile = "PARAMD_CONFIG"

// Config represents the complete configuration for the paramd daemon
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	API       APIConfig       `yaml:"api"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Security  SecurityConfig  `yaml:"security"`
	Log       LogConfig       `yaml:"log"`

	// DataDir holds the persistent parameter journal
	DataDir string `yaml:"dataDir"`
	// Sources are loaded in order at startup
	Sources []types.Source `yaml:"sources"`
}

// WorkspaceConfig holds shared memory settings
type WorkspaceConfig struct {
	Path string `yaml:"path"`
	// Capacity is the number of node slots, the root included
	Capacity uint32 `yaml:"capacity"`
}

// APIConfig holds gRPC API settings
type APIConfig struct {
	Socket   string `yaml:"socket"`
	ReadOnly bool   `yaml:"readOnly"`
}

// WatcherConfig holds watcher socket settings
type WatcherConfig struct {
	Socket string `yaml:"socket"`
}

// MetricsConfig holds the health and metrics HTTP endpoint. An empty
// address disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// SecurityConfig selects the permission checkers
type SecurityConfig struct {
	DACFile      string `yaml:"dacFile"`
	LabelBackend string `yaml:"labelBackend"`
	PolicyFile   string `yaml:"policyFile"`
	Recovery     bool   `yaml:"recovery"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"`
}

// Load builds the configuration from defaults, the YAML file at path (or
// $PARAMD_CONFIG), and PARAMD_* environment overrides, then validates it.
// A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
			}
			log.Logger.Warn().Str("path", path).Msg("config file not found, using defaults")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Path:     "/dev/shm/paramd/workspace",
			Capacity: 4096,
		},
		API: APIConfig{
			Socket: "/run/paramd/api.sock",
		},
		Watcher: WatcherConfig{
			Socket: "/run/paramd/watcher.sock",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9095",
		},
		Security: SecurityConfig{
			DACFile:      "/etc/paramd/dac.conf",
			LabelBackend: security.PolicyFileBackend,
			PolicyFile:   "/etc/paramd/policy.yaml",
		},
		Log: LogConfig{
			Level: string(log.InfoLevel),
		},
		DataDir: "/var/lib/paramd",
		Sources: []types.Source{
			{Path: "/etc/paramd/ohos_const", Mode: types.LoadOverride},
			{Path: "/vendor/etc/param", Mode: types.LoadOverride},
			{Path: "/system/etc/param", Mode: types.LoadAddOnly},
		},
	}
}

// loadFromFile loads configuration from a YAML file over cfg
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PARAMD_WORKSPACE"); v != "" {
		cfg.Workspace.Path = v
	}
	if v := os.Getenv("PARAMD_WORKSPACE_CAPACITY"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Workspace.Capacity = uint32(n)
		}
	}
	if v := os.Getenv("PARAMD_API_SOCKET"); v != "" {
		cfg.API.Socket = v
	}
	if v := os.Getenv("PARAMD_WATCHER_SOCKET"); v != "" {
		cfg.Watcher.Socket = v
	}
	if v, ok := os.LookupEnv("PARAMD_METRICS_ADDR"); ok {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("PARAMD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PARAMD_DAC_FILE"); v != "" {
		cfg.Security.DACFile = v
	}
	if v := os.Getenv("PARAMD_POLICY_FILE"); v != "" {
		cfg.Security.PolicyFile = v
	}
	if v := os.Getenv("PARAMD_RECOVERY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Security.Recovery = b
		}
	}
	if v := os.Getenv("PARAMD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("PARAMD_LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Log.JSON = b
		}
	}
}

// Validate checks the configuration for values the daemon cannot run with
func (c *Config) Validate() error {
	if c.Workspace.Path == "" {
		return fmt.Errorf("workspace path is required")
	}
	if c.Workspace.Capacity < 2 {
		return fmt.Errorf("workspace capacity %d is below the 2 slot minimum", c.Workspace.Capacity)
	}
	if c.API.Socket == "" {
		return fmt.Errorf("api socket is required")
	}
	if c.Watcher.Socket == "" {
		return fmt.Errorf("watcher socket is required")
	}
	if c.API.Socket == c.Watcher.Socket {
		return fmt.Errorf("api and watcher sockets must differ")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	for i, src := range c.Sources {
		if src.Path == "" {
			return fmt.Errorf("source %d has no path", i)
		}
		switch src.Mode {
		case "", types.LoadOverride, types.LoadAddOnly:
		default:
			return fmt.Errorf("source %s: invalid mode %q, must be %q or %q",
				src.Path, src.Mode, types.LoadOverride, types.LoadAddOnly)
		}
	}
	return nil
}

// LogSettings converts the log settings for log.Init
func (c *Config) LogSettings() log.Config {
	return log.Config{
		Level:      log.Level(c.Log.Level),
		JSONOutput: c.Log.JSON,
		File:       c.Log.File,
	}
}
