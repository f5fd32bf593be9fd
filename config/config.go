// Package config loads the application configuration: a yaml file with a kind/def envelope,
// overridden by GRIDSIM_ environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Kind is the expected kind of the config envelope.
const Kind = "gridsim"

// EnvPrefix prefixes environment overrides, e.g. GRIDSIM_ENGINE_URL for engine.url.
const EnvPrefix = "GRIDSIM"

// ErrInvalid is returned for configurations that fail validation.
var ErrInvalid = errors.New("invalid configuration")

// OuterConfig is the envelope of every config file. Def holds the kind-specific definition.
type OuterConfig struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

// AppConfig is the complete application configuration.
type AppConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Store   StoreConfig   `yaml:"store"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// PublishInterval throttles snapshot publication to websocket clients.
	PublishInterval time.Duration `yaml:"publish_interval"`
}

type EngineConfig struct {
	// URL is the engine's websocket endpoint. Ignored when Stub is set.
	URL         string        `yaml:"url"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	RunTimeout  time.Duration `yaml:"run_timeout"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// Stub selects the in-memory engine, for demos and offline use.
	Stub        bool          `yaml:"stub"`
	StubLatency time.Duration `yaml:"stub_latency"`
}

type StoreConfig struct {
	// Path of the SQLite history database; empty disables history.
	Path string `yaml:"path"`
}

type SessionConfig struct {
	RunDelay         time.Duration `yaml:"run_delay"`
	DefaultPreset    string        `yaml:"default_preset"`
	PresetFiles      []string      `yaml:"preset_files"`
	CumulativeWindow int           `yaml:"cumulative_window"`
	EpisodicWindow   int           `yaml:"episodic_window"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:            ":8080",
			PublishInterval: 50 * time.Millisecond,
		},
		Engine: EngineConfig{
			URL:         "ws://localhost:8765/engine",
			CallTimeout: 30 * time.Second,
			RunTimeout:  10 * time.Minute,
			DialTimeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Path: filepath.Join(".gridsim", "history.db"),
		},
		Session: SessionConfig{
			RunDelay:         200 * time.Millisecond,
			DefaultPreset:    "initial",
			CumulativeWindow: 5000,
			EpisodicWindow:   1000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load returns the configuration of the file at path, or the defaults if path is empty, with
// environment overrides applied, validated.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = FromYaml(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromYaml reads the file at path. Fields absent from the file keep their defaults.
func FromYaml(path string) (*AppConfig, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	if err := vp.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	outerConfig := &OuterConfig{}
	if err := vp.Unmarshal(outerConfig); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if outerConfig.Kind != Kind {
		return nil, fmt.Errorf("%w: %s has kind %q, expected %q", ErrInvalid, path, outerConfig.Kind, Kind)
	}

	// Round trip the definition through yaml, since viper's decoder knows nothing of durations
	// written as strings.
	def, err := yaml.Marshal(outerConfig.Def)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode config %s: %w", path, err)
	}
	cfg := Default()
	if err = yaml.Unmarshal(def, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from GRIDSIM_ environment variables, named after the yaml keys,
// e.g. GRIDSIM_SERVER_ADDR or GRIDSIM_SESSION_RUN_DELAY.
func (cfg *AppConfig) ApplyEnv() (err error) {
	env := viper.New()
	env.SetEnvPrefix(EnvPrefix)
	env.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	env.AutomaticEnv()

	str := func(key string, dst *string) {
		if env.IsSet(key) {
			*dst = env.GetString(key)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if err != nil || !env.IsSet(key) {
			return
		}
		var d time.Duration
		if d, err = time.ParseDuration(env.GetString(key)); err != nil {
			err = fmt.Errorf("%w: %s_%s: %v", ErrInvalid, EnvPrefix, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), err)
			return
		}
		*dst = d
	}

	str("server.addr", &cfg.Server.Addr)
	dur("server.publish_interval", &cfg.Server.PublishInterval)
	str("engine.url", &cfg.Engine.URL)
	dur("engine.call_timeout", &cfg.Engine.CallTimeout)
	dur("engine.run_timeout", &cfg.Engine.RunTimeout)
	dur("engine.dial_timeout", &cfg.Engine.DialTimeout)
	if env.IsSet("engine.stub") {
		cfg.Engine.Stub = env.GetBool("engine.stub")
	}
	str("store.path", &cfg.Store.Path)
	dur("session.run_delay", &cfg.Session.RunDelay)
	str("session.default_preset", &cfg.Session.DefaultPreset)
	str("log.level", &cfg.Log.Level)
	return err
}

// Validate checks the configuration for values that can never work.
func (cfg *AppConfig) Validate() error {
	var problems []string
	if cfg.Server.Addr == "" {
		problems = append(problems, "server.addr is required")
	}
	if !cfg.Engine.Stub && cfg.Engine.URL == "" {
		problems = append(problems, "engine.url is required unless engine.stub is set")
	}
	for key, d := range map[string]time.Duration{
		"engine.call_timeout": cfg.Engine.CallTimeout,
		"engine.run_timeout":  cfg.Engine.RunTimeout,
		"engine.dial_timeout": cfg.Engine.DialTimeout,
		"session.run_delay":   cfg.Session.RunDelay,
	} {
		if d <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive", key))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(sortedCopy(problems), "; "))
	}
	return nil
}

func sortedCopy(items []string) []string {
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)
	return sorted
}
