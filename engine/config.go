// Package engine orchestrates comparison runs: it drives every selected
// endpoint through the chosen test cases, evaluates the transcripts and
// aggregates the cross-endpoint summary.
package engine

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mdwoicke/dentix-ortho-sub013/judge"
	"github.com/mdwoicke/dentix-ortho-sub013/logger"
	"github.com/mdwoicke/dentix-ortho-sub013/model"
)

// ===== ENGINE CONFIG =====

// EndpointsConfig holds the three fixed endpoint slots. A slot with an
// empty URL is simply not configured.
type EndpointsConfig struct {
	Production model.EndpointConfig `yaml:"production" json:"production"`
	SandboxA   model.EndpointConfig `yaml:"sandbox_a" json:"sandboxA"`
	SandboxB   model.EndpointConfig `yaml:"sandbox_b" json:"sandboxB"`
}

// Get returns the slot for an endpoint key.
func (e EndpointsConfig) Get(key model.EndpointKey) model.EndpointConfig {
	switch key {
	case model.EndpointProduction:
		return e.Production
	case model.EndpointSandboxA:
		return e.SandboxA
	case model.EndpointSandboxB:
		return e.SandboxB
	}
	return model.EndpointConfig{}
}

// Settings tunes execution.
type Settings struct {
	StoreRoot    string `yaml:"store_root" json:"storeRoot" validate:"required"`
	StepTimeout  string `yaml:"step_timeout,omitempty" json:"stepTimeout,omitempty"`
	JudgeTimeout string `yaml:"judge_timeout,omitempty" json:"judgeTimeout,omitempty"`
	Seed         uint64 `yaml:"seed,omitempty" json:"seed,omitempty"`
}

// StepTimeoutDuration parses the configured step timeout, zero when unset.
func (s Settings) StepTimeoutDuration() time.Duration {
	return parseOptionalDuration(s.StepTimeout)
}

// JudgeTimeoutDuration parses the configured judge timeout, zero when unset.
func (s Settings) JudgeTimeoutDuration() time.Duration {
	return parseOptionalDuration(s.JudgeTimeout)
}

func parseOptionalDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// Config is the engine's YAML configuration file.
type Config struct {
	Endpoints EndpointsConfig      `yaml:"endpoints" json:"endpoints"`
	Judge     judge.ProviderConfig `yaml:"judge,omitempty" json:"judge,omitempty"`
	Settings  Settings             `yaml:"settings" json:"settings"`
}

var validate = validator.New()

// LoadConfig reads and validates an engine config file. Environment
// variables referenced as ${NAME} in string values are expanded first.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.Expand(string(data), func(name string) string {
		return os.Getenv(name)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Settings.StoreRoot == "" {
		cfg.Settings.StoreRoot = "data"
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	for _, key := range model.EndpointOrder {
		ep := cfg.Endpoints.Get(key)
		if err := validate.Struct(&ep); err != nil {
			return nil, fmt.Errorf("invalid %s endpoint: %w", key, err)
		}
	}

	logger.Logger.Info("Config loaded",
		"path", path,
		"store_root", cfg.Settings.StoreRoot,
		"endpoints", strings.Join(configuredEndpoints(cfg.Endpoints), ","))
	return &cfg, nil
}

func configuredEndpoints(eps EndpointsConfig) []string {
	var names []string
	for _, key := range model.EndpointOrder {
		if eps.Get(key).URL != "" {
			names = append(names, string(key))
		}
	}
	return names
}
