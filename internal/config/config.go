package config

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/loykin/cmdash/internal/logger"
	"github.com/spf13/viper"
)

// BuildSystem selects which CMake generator family to prefer.
type BuildSystem string

const (
	BuildSystemAuto  BuildSystem = "auto"
	BuildSystemNinja BuildSystem = "ninja"
	BuildSystemMake  BuildSystem = "make"
)

// Jobs is the -j value passed to the build tool: "auto" or a positive integer.
type Jobs string

const JobsAuto Jobs = "auto"

// Count resolves the job count, using the machine CPU count for "auto".
func (j Jobs) Count() int {
	if j == "" || j == JobsAuto {
		return runtime.NumCPU()
	}
	n, err := strconv.Atoi(string(j))
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Dashboard configures one independent group of module roots and targets.
type Dashboard struct {
	Name            string   `toml:"name" mapstructure:"name"`
	Roots           []string `toml:"roots" mapstructure:"roots"`
	ExcludedModules []string `toml:"excluded_modules" mapstructure:"excluded_modules"`
	Targets         []string `toml:"targets" mapstructure:"targets"`
}

// HistoryConfig selects an optional run-history sink.
type HistoryConfig struct {
	Type string `toml:"type" mapstructure:"type"` // sqlite | postgres | clickhouse
	DSN  string `toml:"dsn" mapstructure:"dsn"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// Config is the top-level TOML structure.
type Config struct {
	BuildSystem     BuildSystem    `toml:"build_system" mapstructure:"build_system"`
	Jobs            Jobs           `toml:"jobs" mapstructure:"jobs"`
	MaxParallel     int            `toml:"max_parallel" mapstructure:"max_parallel"`
	RefreshSchedule string         `toml:"refresh_schedule" mapstructure:"refresh_schedule"`
	WatchRoots      bool           `toml:"watch_roots" mapstructure:"watch_roots"`
	Log             *logger.Config `toml:"log" mapstructure:"log"`
	History         *HistoryConfig `toml:"history" mapstructure:"history"`
	Server          *ServerConfig  `toml:"server" mapstructure:"server"`
	Dashboards      []Dashboard    `toml:"dashboards" mapstructure:"dashboards"`
}

// Load reads and validates a TOML config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	applyDefaults(&c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func applyDefaults(c *Config) {
	if c.BuildSystem == "" {
		c.BuildSystem = BuildSystemAuto
	}
	if c.Jobs == "" {
		c.Jobs = JobsAuto
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 2
	}
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8720"
	}
}

// Validate checks structural constraints. Defaults must be applied first.
func (c *Config) Validate() error {
	switch c.BuildSystem {
	case BuildSystemAuto, BuildSystemNinja, BuildSystemMake:
	default:
		return fmt.Errorf("build_system must be auto, ninja or make, got %q", c.BuildSystem)
	}
	if c.Jobs != JobsAuto {
		if n, err := strconv.Atoi(string(c.Jobs)); err != nil || n <= 0 {
			return fmt.Errorf("jobs must be \"auto\" or a positive integer, got %q", c.Jobs)
		}
	}
	if c.MaxParallel <= 0 {
		return fmt.Errorf("max_parallel must be positive, got %d", c.MaxParallel)
	}
	if len(c.Dashboards) == 0 {
		return fmt.Errorf("at least one dashboard is required")
	}
	seen := make(map[string]struct{}, len(c.Dashboards))
	for _, d := range c.Dashboards {
		if d.Name == "" {
			return fmt.Errorf("dashboard requires a name")
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("duplicate dashboard name %q", d.Name)
		}
		seen[d.Name] = struct{}{}
		if len(d.Roots) == 0 {
			return fmt.Errorf("dashboard %s requires at least one module root", d.Name)
		}
		if len(d.Roots) > 2 {
			return fmt.Errorf("dashboard %s supports at most two module roots", d.Name)
		}
		if len(d.Targets) == 0 {
			return fmt.Errorf("dashboard %s requires at least one target", d.Name)
		}
		for _, t := range d.Targets {
			if strings.TrimSpace(t) == "" {
				return fmt.Errorf("dashboard %s has an empty target name", d.Name)
			}
		}
	}
	if c.History != nil && c.History.Type != "" {
		switch c.History.Type {
		case "sqlite", "postgres", "clickhouse":
		default:
			return fmt.Errorf("unknown history type %q", c.History.Type)
		}
		if c.History.DSN == "" {
			return fmt.Errorf("history.%s requires dsn", c.History.Type)
		}
	}
	return nil
}
