// Package config defines the agent's Configuration tree and loads it
// from flags, environment variables and an optional config file via
// spf13/viper + spf13/pflag, with struct-tag defaults applied by
// creasty/defaults — the teacher's internal/config approach, minus the
// optgen code-generation step (see DESIGN.md).
package config

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host    string `mapstructure:"host" default:"0.0.0.0"`
	Port    int    `mapstructure:"port" default:"8080"`
	TLSCert string `mapstructure:"tls_cert"`
	TLSKey  string `mapstructure:"tls_key"`
}

// StoreConfig controls the DuckDB-backed Store.
type StoreConfig struct {
	Path string `mapstructure:"path" default:"/var/lib/zoneweaver/zoneweaver.db"`
}

// EngineConfig controls the Task Engine's dispatcher and worker pool.
type EngineConfig struct {
	Workers        int           `mapstructure:"workers" default:"8"`
	PollInterval   time.Duration `mapstructure:"poll_interval" default:"200ms"`
	MaxAttempts    int           `mapstructure:"max_attempts" default:"5"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" default:"2s"`
}

// CollectorsConfig controls per-domain collector intervals and the
// self-disable policy (§4.6).
type CollectorsConfig struct {
	NetworkInterval      time.Duration `mapstructure:"network_interval" default:"20s"`
	CPUInterval          time.Duration `mapstructure:"cpu_interval" default:"60s"`
	MemoryInterval       time.Duration `mapstructure:"memory_interval" default:"60s"`
	SwapInterval         time.Duration `mapstructure:"swap_interval" default:"60s"`
	StorageInterval      time.Duration `mapstructure:"storage_interval" default:"30s"`
	ArcInterval          time.Duration `mapstructure:"arc_interval" default:"60s"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors" default:"5"`
	IdleResetWindow      time.Duration `mapstructure:"idle_reset_window" default:"10m"`
	RetentionSweep       time.Duration `mapstructure:"retention_sweep_interval" default:"1h"`
	RetentionDays        int           `mapstructure:"retention_days" default:"14"`
}

// ConsoleConfig holds per-subscriber backpressure settings for the
// Console Multiplexer (§4.5). NewMultiplexer does not take them: the
// multiplexer uses its own built-in queue length and replay size.
type ConsoleConfig struct {
	SubscriberQueueLen int `mapstructure:"subscriber_queue_len" default:"256"`
	ReplayBufferBytes  int `mapstructure:"replay_buffer_bytes" default:"65536"`
}

// Configuration is the agent's single immutable configuration value,
// populated once at startup and passed explicitly to every constructor
// (§9: "plain records plus free functions that consume them").
type Configuration struct {
	Host       string           `mapstructure:"host" default:"localhost"`
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Collectors CollectorsConfig `mapstructure:"collectors"`
	Console    ConsoleConfig    `mapstructure:"console"`
}

// BindFlags registers the subset of Configuration exposed as CLI flags
// onto fs, mirroring the teacher's cobra/pflag wiring.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a configuration file")
	fs.String("server.host", "", "HTTP listen host")
	fs.Int("server.port", 0, "HTTP listen port")
	fs.String("store.path", "", "DuckDB database file path")
	fs.Int("engine.workers", 0, "Task Engine worker pool size")
}

// Load builds a Configuration from fs's bound flags, the ZONEWEAVER_*
// environment namespace, and an optional file passed via --config,
// applying creasty/defaults for any field left unset.
func Load(fs *pflag.FlagSet) (*Configuration, error) {
	v := viper.New()
	v.SetEnvPrefix("ZONEWEAVER")
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	// Unmarshal first: viper reports an unset bound flag as the flag's own
	// zero default, so defaults.Set runs afterwards to fill every field
	// still left at its zero value.
	cfg := &Configuration{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config: apply defaults: %w", err)
	}

	return cfg, nil
}
