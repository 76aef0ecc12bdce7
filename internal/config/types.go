package config

import "time"

// Config represents the complete studiobridge configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Server    ServerConfig    `yaml:"server"`
	Generator GeneratorConfig `yaml:"generator"`
	State     StateConfig     `yaml:"state"`
	Plugin    PluginConfig    `yaml:"plugin"`

	// SourcePath is the file the config was loaded from; empty for defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// ServerConfig defines the HTTP listener the Studio plugin and callers talk to.
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	EventBuffer  int           `yaml:"event_buffer"`
}

// GeneratorConfig selects and tunes the text-generation backend used by /prompt.
type GeneratorConfig struct {
	Provider         string        `yaml:"provider"` // gemini, openai, anthropic
	Model            string        `yaml:"model"`
	Endpoint         string        `yaml:"endpoint,omitempty"`
	APIKeyEnv        string        `yaml:"api_key_env"`
	Temperature      float64       `yaml:"temperature"`
	TopK             int           `yaml:"top_k"`
	TopP             float64       `yaml:"top_p"`
	MaxOutputTokens  int           `yaml:"max_output_tokens"`
	MaxContinuations int           `yaml:"max_continuations"`
	Timeout          time.Duration `yaml:"timeout"`
	CodeFence        string        `yaml:"code_fence"`
	Label            string        `yaml:"label"`
}

// StateConfig defines where the history database lives.
type StateConfig struct {
	Path    string `yaml:"path"`
	History *bool  `yaml:"history,omitempty"`
}

// HistoryEnabled reports whether prompt history should be recorded. Unset means enabled.
func (s StateConfig) HistoryEnabled() bool {
	return s.History == nil || *s.History
}

// PluginConfig defines the Studio plugin artifact used by the install command.
type PluginConfig struct {
	Artifact   string `yaml:"artifact"`
	InstallDir string `yaml:"install_dir,omitempty"`
}

// Providers supported by the generate package.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Defaults returns a Config matching the stock Studio plugin.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "studiobridge",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Server: ServerConfig{
			Listen:       "127.0.0.1:44755",
			PollTimeout:  15 * time.Second,
			MaxBodyBytes: 8 << 20,
			EventBuffer:  256,
		},
		Generator: GeneratorConfig{
			Provider:         ProviderGemini,
			Model:            "gemini-2.5-pro",
			Endpoint:         "https://generativelanguage.googleapis.com/v1beta",
			APIKeyEnv:        "GEMINI_API_KEY",
			Temperature:      0.7,
			TopK:             1,
			TopP:             1,
			MaxOutputTokens:  2048,
			MaxContinuations: 16,
			Timeout:          2 * time.Minute,
			CodeFence:        "luau",
			Label:            "Gemini 2.5",
		},
		State: StateConfig{
			Path: "./data/studiobridge.db",
		},
		Plugin: PluginConfig{
			Artifact: "./plugin/MCPStudioPlugin.rbxm",
		},
	}
}
