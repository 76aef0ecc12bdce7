package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ErrNoConfig is returned by Discover when no config file exists in any
// standard location.
var ErrNoConfig = errors.New("no config found")

// Load reads and parses configuration from a file. A directory is accepted
// when it contains config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads the explicit path if given, otherwise the first file
// Discover finds, otherwise Defaults.
func LoadOrDefault(explicit string) (*Config, error) {
	if explicit != "" {
		return Load(explicit)
	}
	path, err := Discover()
	if errors.Is(err, ErrNoConfig) {
		cfg := Defaults()
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid default configuration: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Discover finds the config file by checking standard locations.
// Priority order: $STUDIOBRIDGE_CONFIG, ~/.config/studiobridge/config.yaml, ./config.yaml
func Discover() (string, error) {
	if path := os.Getenv("STUDIOBRIDGE_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("$STUDIOBRIDGE_CONFIG points to missing file: %s", path)
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "studiobridge", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml", nil
	}

	return "", fmt.Errorf("%w (checked: $STUDIOBRIDGE_CONFIG, ~/.config/studiobridge/config.yaml, ./config.yaml)", ErrNoConfig)
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// Marshal renders cfg back to YAML for `config show`.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaults.Server.Listen
	}
	if cfg.Server.PollTimeout == 0 {
		cfg.Server.PollTimeout = defaults.Server.PollTimeout
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = defaults.Server.MaxBodyBytes
	}
	if cfg.Server.EventBuffer == 0 {
		cfg.Server.EventBuffer = defaults.Server.EventBuffer
	}

	g := &cfg.Generator
	if g.Provider == "" {
		g.Provider = defaults.Generator.Provider
	}
	// Model, endpoint and key env are provider specific; only fill them for gemini.
	if g.Provider == ProviderGemini {
		if g.Model == "" {
			g.Model = defaults.Generator.Model
		}
		if g.Endpoint == "" {
			g.Endpoint = defaults.Generator.Endpoint
		}
		if g.APIKeyEnv == "" {
			g.APIKeyEnv = defaults.Generator.APIKeyEnv
		}
	}
	if g.APIKeyEnv == "" {
		switch g.Provider {
		case ProviderOpenAI:
			g.APIKeyEnv = "OPENAI_API_KEY"
		case ProviderAnthropic:
			g.APIKeyEnv = "ANTHROPIC_API_KEY"
		}
	}
	if g.Temperature == 0 {
		g.Temperature = defaults.Generator.Temperature
	}
	if g.TopK == 0 {
		g.TopK = defaults.Generator.TopK
	}
	if g.TopP == 0 {
		g.TopP = defaults.Generator.TopP
	}
	if g.MaxOutputTokens == 0 {
		g.MaxOutputTokens = defaults.Generator.MaxOutputTokens
	}
	if g.MaxContinuations == 0 {
		g.MaxContinuations = defaults.Generator.MaxContinuations
	}
	if g.Timeout == 0 {
		g.Timeout = defaults.Generator.Timeout
	}
	if g.CodeFence == "" {
		g.CodeFence = defaults.Generator.CodeFence
	}
	if g.Label == "" {
		g.Label = labelFor(g)
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.Plugin.Artifact == "" {
		cfg.Plugin.Artifact = defaults.Plugin.Artifact
	}

	return cfg
}

func labelFor(g *GeneratorConfig) string {
	if g.Provider == ProviderGemini && g.Model == Defaults().Generator.Model {
		return Defaults().Generator.Label
	}
	if g.Model != "" {
		return g.Model
	}
	return g.Provider
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if cfg.Server.PollTimeout <= 0 {
		return fmt.Errorf("server.poll_timeout must be positive")
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}

	g := cfg.Generator
	switch g.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("generator.provider must be one of: gemini, openai, anthropic (got %q)", g.Provider)
	}
	if g.Model == "" {
		return fmt.Errorf("generator.model is required for provider %q", g.Provider)
	}
	if g.APIKeyEnv == "" {
		return fmt.Errorf("generator.api_key_env is required")
	}
	if g.Temperature < 0 || g.Temperature > 2 {
		return fmt.Errorf("generator.temperature must be between 0 and 2 (got %v)", g.Temperature)
	}
	if g.MaxOutputTokens <= 0 {
		return fmt.Errorf("generator.max_output_tokens must be positive")
	}
	if g.MaxContinuations < 0 {
		return fmt.Errorf("generator.max_continuations must not be negative")
	}
	if strings.ContainsAny(g.CodeFence, " \t\n`") {
		return fmt.Errorf("generator.code_fence must be a bare language tag (got %q)", g.CodeFence)
	}

	for field, value := range map[string]string{
		"generator.endpoint": g.Endpoint,
		"generator.model":    g.Model,
		"state.path":         cfg.State.Path,
		"plugin.artifact":    cfg.Plugin.Artifact,
		"plugin.install_dir": cfg.Plugin.InstallDir,
	} {
		if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
		}
	}

	return nil
}
