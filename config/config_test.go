package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ABCIListen == "" || cfg.ConsensusRPC == "" {
		t.Fatalf("defaults missing: %+v", cfg)
	}
	if cfg.ChainID == 0 {
		t.Fatalf("default chain id must be non-zero")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not persisted: %v", err)
	}
	if _, err := os.Stat(cfg.ValidatorKeystorePath); err != nil {
		t.Fatalf("keystore not created: %v", err)
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := "DataDir = \"" + filepath.Join(dir, "data") + "\"\nChainID = 9\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChainID != 9 {
		t.Fatalf("chain id = %d, want 9", cfg.ChainID)
	}
	if cfg.ForwardMode != "sync" {
		t.Fatalf("forward mode default = %q, want sync", cfg.ForwardMode)
	}
}

func TestValidateRejectsBadForwardMode(t *testing.T) {
	cfg := &Config{ABCIListen: "tcp://127.0.0.1:26658", ChainID: 1, ForwardMode: "turbo"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown forward mode")
	}
}
