// Package config loads server and optimization settings from a YAML file
// and environment variables via viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/voltdesk/dispatch-backend/pkg/types"
)

// Config is the full application configuration.
type Config struct {
	Server  types.ServerConfig  `mapstructure:"server"`
	Battery types.BatteryParams `mapstructure:"battery"`

	Optimizer struct {
		PopulationSize   int     `mapstructure:"population_size"`
		MaxGenerations   int     `mapstructure:"max_generations"`
		MutationFactor   float64 `mapstructure:"mutation_factor"`
		CrossoverProb    float64 `mapstructure:"crossover_prob"`
		StallGenerations int     `mapstructure:"stall_generations"`
		Seed             int64   `mapstructure:"seed"`
	} `mapstructure:"optimizer"`

	HMM struct {
		MaxIterations int     `mapstructure:"max_iterations"`
		Tolerance     float64 `mapstructure:"tolerance"`
	} `mapstructure:"hmm"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from the given path (empty means defaults only)
// and overlays DISPATCH_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocket_path", "/api/v1/ws")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.max_connections", 256)
	v.SetDefault("server.enable_metrics", true)

	v.SetDefault("battery.pMax", 5.0)
	v.SetDefault("battery.socMin", 0.0)
	v.SetDefault("battery.socMax", 20.0)
	v.SetDefault("battery.efficiency", 0.9)
	v.SetDefault("battery.initialSoc", 10.0)

	v.SetDefault("optimizer.population_size", 40)
	v.SetDefault("optimizer.max_generations", 150)
	v.SetDefault("optimizer.mutation_factor", 0.8)
	v.SetDefault("optimizer.crossover_prob", 0.9)
	v.SetDefault("optimizer.stall_generations", 25)
	v.SetDefault("optimizer.seed", 0)

	v.SetDefault("hmm.max_iterations", 100)
	v.SetDefault("hmm.tolerance", 1e-4)

	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Battery.Validate(); err != nil {
		return nil, fmt.Errorf("battery config: %w", err)
	}
	return &cfg, nil
}
