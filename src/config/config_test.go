package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.ExecutionMode != ModeInProcess || cfg.MaxFixAttempts != 2 {
		t.Fatalf("defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ason.yaml")
	body := `
provider: anthropic
model: claude-sonnet-4-5
max_fix_attempts: 4
skip_explainer: true
execution_mode: external-process
runner_executable_path: /usr/local/bin/ason-runner
forbidden_script_keywords:
  - load(
  - exec(
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "anthropic" || cfg.MaxFixAttempts != 4 || !cfg.SkipExplainer {
		t.Fatalf("cfg %+v", cfg)
	}
	if cfg.ExecutionMode != ModeExternalProcess || len(cfg.ForbiddenScriptKeywords) != 2 {
		t.Fatalf("cfg %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("ASON_PROVIDER", "openai")
	t.Setenv("ASON_MAX_FIX_ATTEMPTS", "7")
	t.Setenv("ASON_SKIP_RECEPTION", "true")
	t.Setenv("ASON_REMOTE_RUNNER_URL", "wss://runner.internal")

	cfg := Default()
	cfg.FromEnv()
	if cfg.Provider != "openai" || cfg.MaxFixAttempts != 7 || !cfg.SkipReception {
		t.Fatalf("cfg %+v", cfg)
	}
	if !cfg.UseRemoteRunner || cfg.RemoteRunnerBaseURL != "wss://runner.internal" {
		t.Fatalf("cfg %+v", cfg)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cfg := Default()
	cfg.UseRemoteRunner = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("remote runner without URL accepted")
	}

	cfg = Default()
	cfg.ExecutionMode = "teleport"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown mode accepted")
	}

	cfg = Default()
	cfg.MaxFixAttempts = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative budget accepted")
	}
}
