package config

import "time"

// Config represents the complete sharedstate configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	LLM      LLMConfig      `yaml:"llm"`
	Agent    AgentConfig    `yaml:"agent"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig defines SQLite settings for the run journal.
// ":memory:" keeps the journal in process memory.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen                  string        `yaml:"listen"`
	StreamHeartbeatInterval time.Duration `yaml:"stream_heartbeat_interval"`
}

// LLMConfig defines the LLM provider settings.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url,omitempty"`
	MaxTokens int    `yaml:"max_tokens"`
}

// AgentConfig defines run behaviour shared by all agents.
type AgentConfig struct {
	RunTimeout time.Duration `yaml:"run_timeout"`
	// Reconcile is "client" (the request's snapshot is the baseline) or
	// "server" (in-memory state wins).
	Reconcile  string `yaml:"reconcile"`
	PolicyFile string `yaml:"policy_file,omitempty"`
}
