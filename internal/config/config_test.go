package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"quorumline/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()
	if cfg.Limits.MaxParticipants != 100 {
		t.Fatalf("expected default ceiling 100, got %d", cfg.Limits.MaxParticipants)
	}
	if cfg.Decision.TimeoutMS != 30000 {
		t.Fatalf("expected default timeout 30000, got %d", cfg.Decision.TimeoutMS)
	}
	if cfg.Decision.DefaultStrategy != "simple_voting" {
		t.Fatalf("expected simple_voting default, got %s", cfg.Decision.DefaultStrategy)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
limits:
  max_participants: 10
decision:
  timeout_ms: 5000
  default_strategy: consensus
auth:
  allow_legacy_actor_header: false
webhooks:
  - url: https://example.com/hook
    events: [collaboration_created]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Limits.MaxParticipants != 10 || cfg.Decision.TimeoutMS != 5000 {
		t.Fatalf("unexpected parsed limits: %+v", cfg)
	}
	if cfg.Auth.AllowLegacyActorHeader {
		t.Fatalf("expected legacy header disabled")
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].URL != "https://example.com/hook" {
		t.Fatalf("unexpected webhooks: %+v", cfg.Webhooks)
	}
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	if _, err := config.FromYAML([]byte("limits:\n  max_participants: 1\n")); err == nil {
		t.Fatalf("expected floor violation")
	}
	if _, err := config.FromYAML([]byte("decision:\n  default_strategy: coin_flip\n")); err == nil {
		t.Fatalf("expected unknown strategy rejection")
	}
	if _, err := config.FromYAML([]byte("webhooks:\n  - secret: s\n")); err == nil {
		t.Fatalf("expected missing webhook url rejection")
	}
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Limits.MaxParticipants != 100 {
		t.Fatalf("expected defaults without a file, got %+v", cfg)
	}

	path := filepath.Join(dir, "quorumline.yml")
	if err := os.WriteFile(path, []byte("limits:\n  max_participants: 5\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Limits.MaxParticipants != 5 {
		t.Fatalf("expected file value, got %d", cfg.Limits.MaxParticipants)
	}
	// unset fields keep their defaults
	if cfg.Decision.TimeoutMS != 30000 {
		t.Fatalf("expected default timeout, got %d", cfg.Decision.TimeoutMS)
	}
}
