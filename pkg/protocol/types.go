package protocol

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the root configuration of pocketnode.
type Config struct {
	Version       string              `yaml:"version"`
	Node          NodeConfig          `yaml:"node"`
	RPC           RPCConfig           `yaml:"rpc"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Supervisor    SupervisorConfig    `yaml:"supervisor"`
	BatterySaver  BatterySaverConfig  `yaml:"battery_saver"`
	Store         StoreConfig         `yaml:"store"`
	Feed          FeedConfig          `yaml:"feed"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type NodeConfig struct {
	BinaryPath     string   `yaml:"binary_path"`
	DataDir        string   `yaml:"data_dir"`
	ConfPath       string   `yaml:"conf_path"`
	ExtraArgs      []string `yaml:"extra_args"`
	LibraryPath    string   `yaml:"library_path"`     // Native library search path for the daemon
	LibraryPathEnv string   `yaml:"library_path_env"` // Env var carrying LibraryPath
	Env            []string `yaml:"env"`
}

type RPCConfig struct {
	URL        string        `yaml:"url"`
	User       string        `yaml:"user"`
	Password   string        `yaml:"password"` // Empty means cookie auth from the data dir
	CookiePath string        `yaml:"cookie_path"`
	Timeout    time.Duration `yaml:"timeout"`
}

type SchedulerConfig struct {
	LowInterval        time.Duration `yaml:"low_interval"`
	AwayInterval       time.Duration `yaml:"away_interval"`
	BurstTimeout       time.Duration `yaml:"burst_timeout"`
	SyncPollInterval   time.Duration `yaml:"sync_poll_interval"`
	WalletIndicatorTTL time.Duration `yaml:"wallet_indicator_ttl"`
	LowBatteryPercent  int           `yaml:"low_battery_percent"`
}

type SupervisorConfig struct {
	LivenessInterval  time.Duration `yaml:"liveness_interval"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	ReadinessInterval time.Duration `yaml:"readiness_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	StopPollInterval  time.Duration `yaml:"stop_poll_interval"`
}

type BatterySaverConfig struct {
	ThresholdPercent int `yaml:"threshold_percent"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type FeedConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Load reads and parses a YAML config file, then applies defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "Load", "cannot read config", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, then applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "Load", "cannot parse config", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every zero field with its default.
func (c *Config) ApplyDefaults() {
	setDur := func(d *time.Duration, def time.Duration) {
		if *d <= 0 {
			*d = def
		}
	}

	if c.Node.LibraryPathEnv == "" {
		c.Node.LibraryPathEnv = consts.DefaultLibraryPathEnv
	}
	if c.Node.ConfPath == "" && c.Node.DataDir != "" {
		c.Node.ConfPath = filepath.Join(c.Node.DataDir, "bitcoin.conf")
	}

	if c.RPC.URL == "" {
		c.RPC.URL = fmt.Sprintf("http://127.0.0.1:%d/", consts.DefaultRPCPort)
	}
	if c.RPC.User == "" && c.RPC.Password != "" {
		c.RPC.User = consts.DefaultRPCUser
	}
	if c.RPC.CookiePath == "" && c.Node.DataDir != "" {
		c.RPC.CookiePath = filepath.Join(c.Node.DataDir, consts.DaemonCookieFile)
	}
	setDur(&c.RPC.Timeout, consts.DefaultRPCTimeout)

	setDur(&c.Scheduler.LowInterval, consts.DefaultLowInterval)
	setDur(&c.Scheduler.AwayInterval, consts.DefaultAwayInterval)
	setDur(&c.Scheduler.BurstTimeout, consts.DefaultBurstTimeout)
	setDur(&c.Scheduler.SyncPollInterval, consts.DefaultSyncPollInterval)
	setDur(&c.Scheduler.WalletIndicatorTTL, consts.DefaultWalletIndicatorTTL)
	if c.Scheduler.LowBatteryPercent <= 0 {
		c.Scheduler.LowBatteryPercent = consts.DefaultLowBatteryPercent
	}

	setDur(&c.Supervisor.LivenessInterval, consts.DefaultLivenessInterval)
	setDur(&c.Supervisor.ProbeTimeout, consts.DefaultProbeTimeout)
	setDur(&c.Supervisor.ReadinessInterval, consts.DefaultReadinessInterval)
	setDur(&c.Supervisor.ShutdownTimeout, consts.DefaultShutdownTimeout)
	setDur(&c.Supervisor.StopPollInterval, consts.DefaultStopPollInterval)

	if c.BatterySaver.ThresholdPercent <= 0 {
		c.BatterySaver.ThresholdPercent = consts.DefaultSaverThreshold
	}

	if c.Store.Path == "" && c.Node.DataDir != "" {
		c.Store.Path = filepath.Join(c.Node.DataDir, consts.DefaultStoreFileName)
	}
	if c.Feed.SocketPath == "" && c.Node.DataDir != "" {
		c.Feed.SocketPath = filepath.Join(c.Node.DataDir, consts.DefaultFeedSocketName)
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
}

// Validate checks the fields that have no sensible default.
func (c *Config) Validate() error {
	switch {
	case c.Node.BinaryPath == "":
		return errors.New(errors.ErrCodeConfigInvalid, "Validate", "node.binary_path is required", nil)
	case c.Node.DataDir == "":
		return errors.New(errors.ErrCodeConfigInvalid, "Validate", "node.data_dir is required", nil)
	case c.BatterySaver.ThresholdPercent > 100:
		return errors.New(errors.ErrCodeConfigInvalid, "Validate", "battery_saver.threshold_percent must be <= 100", nil)
	case c.Scheduler.BurstTimeout >= c.Scheduler.LowInterval:
		return errors.New(errors.ErrCodeConfigInvalid, "Validate", "scheduler.burst_timeout must be shorter than low_interval", nil)
	}
	return nil
}

// Personal.AI order the ending
