package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandEnvWithDefaultAndOverride(t *testing.T) {
	os.Setenv("CALLBRIDGE_TEST_VAR", "from-env")
	defer os.Unsetenv("CALLBRIDGE_TEST_VAR")

	got := expandEnv("value: ${CALLBRIDGE_TEST_VAR}\nother: ${CALLBRIDGE_TEST_MISSING:fallback}")
	want := "value: from-env\nother: fallback"
	if got != want {
		t.Fatalf("expandEnv() = %q, want %q", got, want)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
carrier:
  sid: test-sid
  token: test-token
server:
  port: 9000
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Carrier.SID != "test-sid" {
		t.Errorf("Carrier.SID = %q, want test-sid", cfg.Carrier.SID)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000 (explicit value should survive defaulting)", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want default 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Server.WebhookPath != "/carrier/voice" {
		t.Errorf("Server.WebhookPath = %q, want default", cfg.Server.WebhookPath)
	}
	if len(cfg.Brain.QuickSkipPhrases) == 0 {
		t.Errorf("Brain.QuickSkipPhrases should default when omitted")
	}
	if cfg.ExternalSTT.SilenceThresholdRMS != 500 {
		t.Errorf("ExternalSTT.SilenceThresholdRMS = %d, want default 500", cfg.ExternalSTT.SilenceThresholdRMS)
	}
}
