package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AgentKind selects the learning rule the engine uses for the agent.
type AgentKind string

// Agent variants; the string values are the engine's wire names.
const (
	EXPECTED_SARSA AgentKind = "expected_sarsa"
	Q_LEARNING     AgentKind = "q_learning"
	SARSA          AgentKind = "sarsa"
)

// ParseAgentKind accepts the wire names, case-insensitively, with '-' in place of '_'.
func ParseAgentKind(s string) (AgentKind, error) {
	kind := AgentKind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch kind {
	case EXPECTED_SARSA, Q_LEARNING, SARSA:
		return kind, nil
	}
	return "", invalidf("unknown agent type %q", s)
}

// AgentConfig holds the agent hyperparameters.
type AgentConfig struct {
	Kind AgentKind `json:"agent_type" yaml:"agent_type"`
	// LearningRate is in (0,1].
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	// Discount is gamma, in [0,1].
	Discount float64 `json:"discount" yaml:"discount"`
	// Epsilon is the exploration rate of the epsilon-greedy policy, in [0,1].
	Epsilon float64 `json:"epsilon" yaml:"epsilon"`
}

// DefaultAgentConfig returns the engine's defaults.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Kind:         EXPECTED_SARSA,
		LearningRate: 0.1,
		Discount:     1.0,
		Epsilon:      0.1,
	}
}

// NewAgentConfig returns a validated agent config.
func NewAgentConfig(kind AgentKind, learningRate, discount, epsilon float64) (AgentConfig, error) {
	cfg := AgentConfig{
		Kind:         kind,
		LearningRate: learningRate,
		Discount:     discount,
		Epsilon:      epsilon,
	}
	if err := cfg.Validate(); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

// Validate checks the parameter ranges.
func (cfg AgentConfig) Validate() error {
	if _, err := ParseAgentKind(string(cfg.Kind)); err != nil {
		return err
	}
	if !(cfg.LearningRate > 0 && cfg.LearningRate <= 1) {
		return invalidf("learning rate %v outside (0,1]", cfg.LearningRate)
	}
	if cfg.Discount < 0 || cfg.Discount > 1 {
		return invalidf("discount %v outside [0,1]", cfg.Discount)
	}
	if cfg.Epsilon < 0 || cfg.Epsilon > 1 {
		return invalidf("epsilon %v outside [0,1]", cfg.Epsilon)
	}
	return nil
}

func (cfg AgentConfig) String() string {
	return fmt.Sprintf("%s(lr=%g,discount=%g,epsilon=%g)", cfg.Kind, cfg.LearningRate, cfg.Discount, cfg.Epsilon)
}

// UnmarshalJSON fills unspecified fields with defaults, then validates.
func (cfg *AgentConfig) UnmarshalJSON(data []byte) error {
	type plain AgentConfig
	parsed := plain(DefaultAgentConfig())
	if err := json.Unmarshal(data, &parsed); err != nil {
		return invalidf("agent config: %v", err)
	}
	if kind, err := ParseAgentKind(string(parsed.Kind)); err != nil {
		return err
	} else {
		parsed.Kind = kind
	}
	if err := AgentConfig(parsed).Validate(); err != nil {
		return err
	}
	*cfg = AgentConfig(parsed)
	return nil
}

// ExperimentConfig bounds the experiment: episodes to run, and the step limit per episode.
type ExperimentConfig struct {
	Episodes int `json:"n_episodes" yaml:"n_episodes"`
	MaxSteps int `json:"max_steps" yaml:"max_steps"`
}

// DefaultExperimentConfig returns the engine's defaults.
func DefaultExperimentConfig() ExperimentConfig {
	return ExperimentConfig{
		Episodes: 500,
		MaxSteps: 200,
	}
}

// NewExperimentConfig returns a validated experiment config.
func NewExperimentConfig(episodes, maxSteps int) (ExperimentConfig, error) {
	cfg := ExperimentConfig{Episodes: episodes, MaxSteps: maxSteps}
	if err := cfg.Validate(); err != nil {
		return ExperimentConfig{}, err
	}
	return cfg, nil
}

// Validate checks that both bounds are positive.
func (cfg ExperimentConfig) Validate() error {
	if cfg.Episodes <= 0 {
		return invalidf("episode count must be positive, got %d", cfg.Episodes)
	}
	if cfg.MaxSteps <= 0 {
		return invalidf("max steps must be positive, got %d", cfg.MaxSteps)
	}
	return nil
}

// UnmarshalJSON fills unspecified fields with defaults, then validates.
func (cfg *ExperimentConfig) UnmarshalJSON(data []byte) error {
	type plain ExperimentConfig
	parsed := plain(DefaultExperimentConfig())
	if err := json.Unmarshal(data, &parsed); err != nil {
		return invalidf("experiment config: %v", err)
	}
	if err := ExperimentConfig(parsed).Validate(); err != nil {
		return err
	}
	*cfg = ExperimentConfig(parsed)
	return nil
}
