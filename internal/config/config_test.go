package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Server.Address != ":8001" {
		t.Fatalf("unexpected server address: %s", cfg.Server.Address)
	}
	if cfg.Retrieval.TopK != 2 || cfg.Retrieval.MinSimilarity != 0.05 {
		t.Fatalf("unexpected retrieval defaults: %+v", cfg.Retrieval)
	}
	if cfg.LLM.LogTruncateChars != 2000 {
		t.Fatalf("unexpected log truncate default: %d", cfg.LLM.LogTruncateChars)
	}
	if cfg.Verify.Retries != 3 || cfg.Verify.Delay != 5*time.Second {
		t.Fatalf("unexpected verify defaults: %+v", cfg.Verify)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "remediate.yaml")
	body := `server:
  address: ":9000"
runtime:
  targetContainer: "shop-api"
  maxReplicas: 3
verify:
  retries: 5
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("MIRADOR_REMEDIATE_TARGET_CONTAINER", "shop-api-v2")
	t.Setenv("MIRADOR_REMEDIATE_LOG_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Fatalf("file override lost: %s", cfg.Server.Address)
	}
	if cfg.Runtime.TargetContainer != "shop-api-v2" {
		t.Fatalf("env should win over file, got %s", cfg.Runtime.TargetContainer)
	}
	if cfg.Runtime.MaxReplicas != 3 {
		t.Fatalf("unexpected max replicas: %d", cfg.Runtime.MaxReplicas)
	}
	if cfg.Verify.Retries != 5 {
		t.Fatalf("unexpected verify retries: %d", cfg.Verify.Retries)
	}
	if !cfg.Logging.JSON {
		t.Fatalf("expected JSON logging enabled")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config path")
	}
}
