package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"lumenchain/crypto"
)

// Config is the node's TOML configuration. Every field has a working default
// so a missing file yields a runnable single-validator setup.
type Config struct {
	ABCIListen            string `toml:"ABCIListen"`
	ConsensusRPC          string `toml:"ConsensusRPC"`
	OpsAddress            string `toml:"OpsAddress"`
	DataDir               string `toml:"DataDir"`
	LedgerDir             string `toml:"LedgerDir"`
	GenesisFile           string `toml:"GenesisFile"`
	ValidatorKeystorePath string `toml:"ValidatorKeystorePath"`
	NetworkName           string `toml:"NetworkName"`
	ChainID               uint64 `toml:"ChainID"`
	LogLevel              string `toml:"LogLevel"`
	ForwardMode           string `toml:"ForwardMode"`
	ForwardRateLimit      int    `toml:"ForwardRateLimit"`
}

// Load reads the configuration at path, creating a default file (including a
// fresh validator keystore) when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the node cannot start with.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.ABCIListen) == "" {
		return fmt.Errorf("config: ABCIListen must not be empty")
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("config: ChainID must be non-zero")
	}
	switch cfg.ForwardMode {
	case "async", "sync", "commit", "":
	default:
		return fmt.Errorf("config: unknown ForwardMode %q", cfg.ForwardMode)
	}
	if cfg.ForwardRateLimit < 0 {
		return fmt.Errorf("config: ForwardRateLimit must not be negative")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ABCIListen) == "" {
		cfg.ABCIListen = "tcp://127.0.0.1:26658"
	}
	if strings.TrimSpace(cfg.ConsensusRPC) == "" {
		cfg.ConsensusRPC = "http://127.0.0.1:26657"
	}
	if strings.TrimSpace(cfg.OpsAddress) == "" {
		cfg.OpsAddress = ":8081"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./lumen-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "lumen-local"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	if strings.TrimSpace(cfg.ForwardMode) == "" {
		cfg.ForwardMode = "sync"
	}
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.ValidatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.ValidatorKeystorePath != keystorePath {
		cfg.ValidatorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{ValidatorKeystorePath: keystorePath}
	applyDefaults(cfg)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "validator.keystore")
}
