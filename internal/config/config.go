// Package config loads the typed runtime Config (SPEC_FULL.md A1) from
// environment variables, applying defaults for anything unset.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration, loaded once at startup.
type Config struct {
	LLM        LLMConfig
	Controller ControllerConfig
	STT        STTConfig
	Workspace  WorkspaceConfig
	HTTP       HTTPConfig
	Logging    LoggingConfig
	Tracing    TracingConfig
}

// TracingConfig configures the optional OTLP/gRPC trace exporter. An empty
// Endpoint disables export entirely; Start still returns working no-op
// spans in that case.
type TracingConfig struct {
	Endpoint string
	Insecure bool
}

// LLMConfig selects and configures the LLM provider backing the Coder,
// Manager, and Summarizer.
type LLMConfig struct {
	Provider        string // anthropic | openai | bedrock | venice
	Endpoint        string // override base URL for anthropic and openai; venice and bedrock ignore it
	Model           string // Coder model id
	APIKey          string
	ManagerModel    string
	SummarizerModel string

	// Bedrock-only; credentials fall back to the standard AWS SDK chain
	// when AccessKeyID/SecretAccessKey are left unset.
	BedrockRegion          string
	BedrockAccessKeyID     string
	BedrockSecretAccessKey string
	BedrockSessionToken    string
}

// ControllerConfig toggles the Manager tier.
type ControllerConfig struct {
	Enabled bool
}

// STTConfig configures the speech-to-text engine name passed through to
// whatever external engine is wired behind internal/speech.
type STTConfig struct {
	Model string
}

// WorkspaceConfig locates project data on disk.
type WorkspaceConfig struct {
	Root string
}

// HTTPConfig configures the HTTP/WebSocket listener.
type HTTPConfig struct {
	Addr string
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level string // debug | info | warn | error
}

// Load reads Config from the environment, per SPEC_FULL.md §6's
// KESTREL_* variable table, filling in defaults for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		LLM: LLMConfig{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-20250514",
		},
		Controller: ControllerConfig{Enabled: true},
		STT:        STTConfig{Model: "whisper-1"},
		Workspace:  WorkspaceConfig{Root: "./workspace"},
		HTTP:       HTTPConfig{Addr: ":8080"},
		Logging:    LoggingConfig{Level: "info"},
	}

	if path := env("KESTREL_CONFIG"); path != "" {
		if err := applyYAMLOverride(cfg, path); err != nil {
			return nil, err
		}
	}

	if v := env("KESTREL_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := env("KESTREL_LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := env("KESTREL_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := env("KESTREL_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := env("KESTREL_MANAGER_MODEL"); v != "" {
		cfg.LLM.ManagerModel = v
	}
	if cfg.LLM.ManagerModel == "" {
		cfg.LLM.ManagerModel = cfg.LLM.Model
	}
	if v := env("KESTREL_SUMMARIZER_MODEL"); v != "" {
		cfg.LLM.SummarizerModel = v
	}
	if cfg.LLM.SummarizerModel == "" {
		cfg.LLM.SummarizerModel = cfg.LLM.Model
	}
	if v := env("KESTREL_BEDROCK_REGION"); v != "" {
		cfg.LLM.BedrockRegion = v
	}
	if v := env("KESTREL_BEDROCK_ACCESS_KEY_ID"); v != "" {
		cfg.LLM.BedrockAccessKeyID = v
	}
	if v := env("KESTREL_BEDROCK_SECRET_ACCESS_KEY"); v != "" {
		cfg.LLM.BedrockSecretAccessKey = v
	}
	if v := env("KESTREL_BEDROCK_SESSION_TOKEN"); v != "" {
		cfg.LLM.BedrockSessionToken = v
	}

	if v := env("KESTREL_CONTROLLER_ENABLED"); v != "" {
		cfg.Controller.Enabled = parseBool(v, cfg.Controller.Enabled)
	}
	if v := env("KESTREL_STT_MODEL"); v != "" {
		cfg.STT.Model = v
	}
	if v := env("KESTREL_WORKSPACE_ROOT"); v != "" {
		cfg.Workspace.Root = v
	}
	if v := env("KESTREL_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := env("KESTREL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := env("KESTREL_OTEL_EXPORTER_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := env("KESTREL_OTEL_EXPORTER_INSECURE"); v != "" {
		cfg.Tracing.Insecure = parseBool(v, cfg.Tracing.Insecure)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "anthropic", "openai", "bedrock", "venice":
	default:
		return fmt.Errorf("config: unknown KESTREL_LLM_PROVIDER %q", c.LLM.Provider)
	}
	if c.LLM.Provider != "bedrock" && c.LLM.APIKey == "" {
		return fmt.Errorf("config: KESTREL_LLM_API_KEY is required for provider %q", c.LLM.Provider)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown KESTREL_LOG_LEVEL %q", c.Logging.Level)
	}
	return nil
}

// yamlOverride mirrors the subset of Config that a local-dev YAML file may
// override; env vars applied after it always win (SPEC_FULL.md A1).
type yamlOverride struct {
	LLM struct {
		Provider        string `yaml:"provider"`
		Endpoint        string `yaml:"endpoint"`
		Model           string `yaml:"model"`
		ManagerModel    string `yaml:"manager_model"`
		SummarizerModel string `yaml:"summarizer_model"`
	} `yaml:"llm"`
	Workspace struct {
		Root string `yaml:"root"`
	} `yaml:"workspace"`
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// applyYAMLOverride merges a local-dev config file into cfg. A missing
// file is not an error; a malformed one is.
func applyYAMLOverride(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var override yamlOverride
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if override.LLM.Provider != "" {
		cfg.LLM.Provider = override.LLM.Provider
	}
	if override.LLM.Endpoint != "" {
		cfg.LLM.Endpoint = override.LLM.Endpoint
	}
	if override.LLM.Model != "" {
		cfg.LLM.Model = override.LLM.Model
	}
	if override.LLM.ManagerModel != "" {
		cfg.LLM.ManagerModel = override.LLM.ManagerModel
	}
	if override.LLM.SummarizerModel != "" {
		cfg.LLM.SummarizerModel = override.LLM.SummarizerModel
	}
	if override.Workspace.Root != "" {
		cfg.Workspace.Root = override.Workspace.Root
	}
	if override.HTTP.Addr != "" {
		cfg.HTTP.Addr = override.HTTP.Addr
	}
	if override.Logging.Level != "" {
		cfg.Logging.Level = override.Logging.Level
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}
