package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig                 `yaml:"app"`
	Gateways  map[string]GatewayConfig  `yaml:"gateways"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Memory    MemoryConfig              `yaml:"memory"`
	Safety    SafetyConfig              `yaml:"safety"`
	Sandbox   SandboxConfig             `yaml:"sandbox"`
	Agent     AgentConfig               `yaml:"agent"`
}

type AppConfig struct {
	Name      string `yaml:"name"`
	Workspace string `yaml:"workspace"`
}

type GatewayConfig struct {
	Token   string `yaml:"token"`
	Enabled bool   `yaml:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
	Enabled bool   `yaml:"enabled"`
}

type MemoryConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// SafetyConfig controls command and filesystem gating.
type SafetyConfig struct {
	AllowedPaths        []string `yaml:"allowed_paths"`
	DeniedPaths         []string `yaml:"denied_paths"`
	RequireConfirmation bool     `yaml:"require_confirmation"`
	ConfirmTimeoutSecs  int      `yaml:"confirm_timeout_seconds"`
}

// ConfirmTimeout returns the confirmation wait bound, defaulting to 60s.
func (s SafetyConfig) ConfirmTimeout() time.Duration {
	if s.ConfirmTimeoutSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.ConfirmTimeoutSecs) * time.Second
}

// SandboxConfig selects and tunes the script execution backend.
type SandboxConfig struct {
	Backend     string `yaml:"backend"` // "host" (default) or "docker"
	Image       string `yaml:"image"`
	TimeoutSecs int    `yaml:"timeout_seconds"`
	MemoryLimit string `yaml:"memory_limit"`
	CPULimit    string `yaml:"cpu_limit"`
	PidsLimit   int    `yaml:"pids_limit"`
}

func (s SandboxConfig) Timeout() time.Duration {
	if s.TimeoutSecs <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(s.TimeoutSecs) * time.Second
}

type AgentConfig struct {
	MaxIterations int `yaml:"max_iterations"`
	// ReadOnlyCommands tunes the "stuck in a search loop" heuristic.
	ReadOnlyCommands []string `yaml:"read_only_commands"`
	PromptsDir       string   `yaml:"prompts_dir"`
}

func LoadConfig(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Fatalf("failed to decode config file: %v", err)
	}

	return &cfg
}

// GetDefaultProvider returns the first enabled provider
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	for name, p := range c.Providers {
		if p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetGateway returns the named gateway config if it is enabled
func (c *Config) GetGateway(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled {
		return g, true
	}
	return GatewayConfig{}, false
}
