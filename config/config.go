package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the daemon settings. Unset fields fall back to the defaults
// written by createDefault.
type Config struct {
	RPCAddress      string   `toml:"RPCAddress"`
	MetricsAddress  string   `toml:"MetricsAddress"`
	DataDir         string   `toml:"DataDir"`
	NetworkName     string   `toml:"NetworkName"`
	AssetAuthority  string   `toml:"AssetAuthority,omitempty"`
	AllowedAccounts []string `toml:"AllowedAccounts,omitempty"`
	PausedModules   []string `toml:"PausedModules,omitempty"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0])
	}

	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./entryx-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "entryx-local"
	}
	if cfg.AllowedAccounts == nil {
		cfg.AllowedAccounts = []string{}
	}
	if cfg.PausedModules == nil {
		cfg.PausedModules = []string{}
	}
	for _, module := range cfg.PausedModules {
		switch module {
		case "ticketing", "auction":
		default:
			return nil, fmt.Errorf("config file %s pauses unknown module %q", path, module)
		}
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:      ":8080",
		MetricsAddress:  ":9090",
		DataDir:         "./entryx-data",
		NetworkName:     "entryx-local",
		AllowedAccounts: []string{},
		PausedModules:   []string{},
	}
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
