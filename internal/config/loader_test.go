package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyDefaultsSetsOperationalValues(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	if cfg.API.StreamHeartbeatInterval != 15*time.Second {
		t.Fatalf("stream heartbeat default = %v, want %v", cfg.API.StreamHeartbeatInterval, 15*time.Second)
	}
	if cfg.API.Listen != "0.0.0.0:8888" {
		t.Fatalf("listen default = %q", cfg.API.Listen)
	}
	if cfg.Database.Path != ":memory:" {
		t.Fatalf("database default = %q, want in-memory", cfg.Database.Path)
	}
	if cfg.LLM.MaxTokens != 4096 {
		t.Fatalf("llm.max_tokens default = %d, want 4096", cfg.LLM.MaxTokens)
	}
	if cfg.Agent.RunTimeout != 5*time.Minute {
		t.Fatalf("agent.run_timeout default = %v", cfg.Agent.RunTimeout)
	}
	if cfg.Agent.Reconcile != "client" {
		t.Fatalf("agent.reconcile default = %q, want client", cfg.Agent.Reconcile)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		field  string
		mutate func(*Config)
	}{
		{"service.log_level", func(c *Config) { c.Service.LogLevel = "trace" }},
		{"api.stream_heartbeat_interval", func(c *Config) { c.API.StreamHeartbeatInterval = -time.Second }},
		{"llm.provider", func(c *Config) { c.LLM.Provider = "" }},
		{"llm.provider", func(c *Config) { c.LLM.Provider = "bedrock" }},
		{"llm.api_key", func(c *Config) { c.LLM.APIKey = "" }},
		{"llm.api_key", func(c *Config) { c.LLM.APIKey = "${MISSING_KEY}" }},
		{"llm.model", func(c *Config) { c.LLM.Model = "" }},
		{"llm.max_tokens", func(c *Config) { c.LLM.MaxTokens = -1 }},
		{"agent.run_timeout", func(c *Config) { c.Agent.RunTimeout = -time.Second }},
		{"agent.reconcile", func(c *Config) { c.Agent.Reconcile = "merge" }},
	}
	for _, tc := range cases {
		cfg := validTestConfig()
		tc.mutate(cfg)
		if err := validate(cfg); err == nil || !strings.Contains(err.Error(), tc.field) {
			t.Fatalf("expected %s validation error, got %v", tc.field, err)
		}
	}
}

func TestValidateOllamaNeedsNoKey(t *testing.T) {
	cfg := validTestConfig()
	cfg.LLM.Provider = "ollama"
	cfg.LLM.APIKey = ""
	if err := validate(cfg); err != nil {
		t.Fatalf("ollama without key should validate: %v", err)
	}
}

func TestLoadInterpolatesEnv(t *testing.T) {
	t.Setenv("SHAREDSTATE_TEST_KEY", "sk-test")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
llm:
  provider: openai
  model: gpt-4o-mini
  api_key: ${SHAREDSTATE_TEST_KEY}
agent:
  run_timeout: 90s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("api_key = %q, want interpolated value", cfg.LLM.APIKey)
	}
	if cfg.Agent.RunTimeout != 90*time.Second {
		t.Fatalf("run_timeout = %v", cfg.Agent.RunTimeout)
	}
}

func TestRepositoryConfigParses(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load("../../config.yaml")
	if err != nil {
		t.Fatalf("load config.yaml: %v", err)
	}
	if cfg.Service.Name != "sharedstate" {
		t.Fatalf("service.name = %q", cfg.Service.Name)
	}
}

func validTestConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			LogLevel: "info",
		},
		API: APIConfig{
			StreamHeartbeatInterval: 15 * time.Second,
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			APIKey:    "key",
			MaxTokens: 4096,
		},
		Agent: AgentConfig{
			RunTimeout: time.Minute,
			Reconcile:  "client",
		},
	}
}
