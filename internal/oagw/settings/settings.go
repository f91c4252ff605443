// Package settings loads process configuration from an optional YAML
// file layered under environment variables, which always win (AMBIENT
// stack, SPEC_FULL.md "Configuration"). It mirrors the teacher's own
// split between spf13/viper file configuration and
// kelseyhightower/envconfig-tagged environment overrides.
package settings

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Settings is the full set of process-level knobs the core packages
// need at startup; nothing here is per-tenant or per-request.
type Settings struct {
	ListenAddr    string        `mapstructure:"listen_addr" envconfig:"LISTEN_ADDR"`
	MetricsAddr   string        `mapstructure:"metrics_addr" envconfig:"METRICS_ADDR"`
	CacheL1Size   int           `mapstructure:"cache_l1_size" envconfig:"CACHE_L1_SIZE"`
	CacheL2Size   int           `mapstructure:"cache_l2_size" envconfig:"CACHE_L2_SIZE"`
	CacheL2TTL    time.Duration `mapstructure:"cache_l2_ttl" envconfig:"CACHE_L2_TTL"`
	PluginGCTTL   time.Duration `mapstructure:"plugin_gc_ttl" envconfig:"PLUGIN_GC_TTL"`
	SandboxBudget time.Duration `mapstructure:"sandbox_budget" envconfig:"SANDBOX_BUDGET"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
}

// Defaults returns conservative, always-valid process defaults, applied
// before the file and environment layers overlay onto them.
func Defaults() Settings {
	return Settings{
		ListenAddr:     ":8080",
		MetricsAddr:    ":9090",
		CacheL1Size:    10_000,
		CacheL2Size:    0,
		CacheL2TTL:     0,
		PluginGCTTL:    24 * time.Hour,
		SandboxBudget:  50 * time.Millisecond,
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 60 * time.Second,
		IdleTimeout:    90 * time.Second,
	}
}

// Load builds Settings by overlaying, in order: built-in defaults, an
// optional YAML file at path (skipped entirely if path is empty; a path
// that cannot be read is an error), then OAGW_*-prefixed environment variables,
// which always win over both prior layers.
func Load(path string) (Settings, error) {
	s := Defaults()

	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return s, fmt.Errorf("settings: reading config file %s: %w", path, err)
		}
		if err := v.Unmarshal(&s); err != nil {
			return s, fmt.Errorf("settings: decoding config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process("oagw", &s); err != nil {
		return s, fmt.Errorf("settings: processing OAGW_* environment variables: %w", err)
	}
	return s, nil
}
