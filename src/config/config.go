// Package config loads and validates the orchestrator options from a YAML
// file and ASON_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Execution modes for the script runner.
const (
	ModeInProcess       = "in-process"
	ModeExternalProcess = "external-process"
	ModeContainer       = "container"
)

// Config carries every recognized option.
type Config struct {
	// Provider and Model select the chat-completion backend for all agents.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	// MaxFixAttempts is the repair retry budget; total attempts are one more.
	MaxFixAttempts int `yaml:"max_fix_attempts"`

	// SkipReception bypasses the router; every turn takes the script route.
	SkipReception bool `yaml:"skip_reception"`

	// SkipExplainer returns the raw script result to the user.
	SkipExplainer bool `yaml:"skip_explainer"`

	// ExecutionMode selects where scripts run.
	ExecutionMode string `yaml:"execution_mode"`

	// UseRemoteRunner enables the remote streaming transport; the base URL
	// is required when set.
	UseRemoteRunner     bool   `yaml:"use_remote_runner"`
	RemoteRunnerBaseURL string `yaml:"remote_runner_base_url"`

	// ContainerImage overrides the default runner image in container mode.
	ContainerImage string `yaml:"container_image"`

	// RunnerExecutablePath overrides the child-process launch path.
	RunnerExecutablePath string `yaml:"runner_executable_path"`

	// ForbiddenScriptKeywords extends the default validator deny list.
	ForbiddenScriptKeywords []string `yaml:"forbidden_script_keywords"`

	// Prompt template overrides.
	ReceptionInstructions string `yaml:"reception_instructions"`
	ScriptInstructions    string `yaml:"script_instructions"`
	ExplainerInstructions string `yaml:"explainer_instructions"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Provider:       "dummy",
		MaxFixAttempts: 2,
		ExecutionMode:  ModeInProcess,
	}
}

// Load reads a YAML file over the defaults. A missing path yields defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv overlays ASON_* environment variables.
func (c *Config) FromEnv() {
	if v := os.Getenv("ASON_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("ASON_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("ASON_MAX_FIX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxFixAttempts = n
		}
	}
	if v := os.Getenv("ASON_SKIP_RECEPTION"); v != "" {
		c.SkipReception = isTrue(v)
	}
	if v := os.Getenv("ASON_SKIP_EXPLAINER"); v != "" {
		c.SkipExplainer = isTrue(v)
	}
	if v := os.Getenv("ASON_EXECUTION_MODE"); v != "" {
		c.ExecutionMode = v
	}
	if v := os.Getenv("ASON_REMOTE_RUNNER_URL"); v != "" {
		c.UseRemoteRunner = true
		c.RemoteRunnerBaseURL = v
	}
	if v := os.Getenv("ASON_CONTAINER_IMAGE"); v != "" {
		c.ContainerImage = v
	}
	if v := os.Getenv("ASON_RUNNER_PATH"); v != "" {
		c.RunnerExecutablePath = v
	}
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate rejects inconsistent configurations at construction time.
func (c Config) Validate() error {
	if c.MaxFixAttempts < 0 {
		return fmt.Errorf("config: max_fix_attempts must be non-negative, got %d", c.MaxFixAttempts)
	}
	switch c.ExecutionMode {
	case ModeInProcess, ModeExternalProcess, ModeContainer:
	case "":
	default:
		return fmt.Errorf("config: unknown execution_mode %q", c.ExecutionMode)
	}
	if c.UseRemoteRunner && strings.TrimSpace(c.RemoteRunnerBaseURL) == "" {
		return fmt.Errorf("config: use_remote_runner requires remote_runner_base_url")
	}
	return nil
}
