// Package config implements nexachain's node configuration (§6), grounded
// on original_source/ccoin/app_conf.py and dict_tools.py: a flat JSON
// document with a handful of Python-str.format-style templated path
// fields ({base_path}, {account_address}) that get expanded lazily. Go has
// no runtime string.format-with-self trick, so expansion here is an
// explicit, eager pass run once after every field that feeds a template is
// known, rather than LazyDict's per-access re-expansion.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// DiscoveryService is the discovery collaborator's address (§6).
type DiscoveryService struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Proto string `json:"proto"`
}

// Config is nexachain's node configuration document. Fields mirror
// app_conf.py's AppConfig keys one-for-one; JSON tags fix the on-disk
// schema.
type Config struct {
	BasePath         string           `json:"base_path"`
	AccountAddress   string           `json:"account_address"`
	StoragePath      string           `json:"storage_path"`
	KeyDir           string           `json:"key_dir"`
	ChainDB          string           `json:"chain_db"`
	StateDB          string           `json:"state_db"`
	DiscoveryService DiscoveryService `json:"discovery_service"`
	NodeType         string           `json:"node_type"`
	Port             int              `json:"port"`
}

// Default returns the built-in defaults, unexpanded, matching
// app_conf.py's module-level AppConfig literal.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		BasePath:       filepath.Join(home, ".nexachain"),
		AccountAddress: "",
		StoragePath:    filepath.Join("{base_path}", "{account_address}"),
		KeyDir:         filepath.Join("{storage_path}", ".keys"),
		ChainDB:        "blockchain",
		StateDB:        "worldstate",
		DiscoveryService: DiscoveryService{
			Host:  "127.0.0.1",
			Port:  8000,
			Proto: "http",
		},
		NodeType: "basic",
		Port:     9000,
	}
}

// With returns a copy of c with fn applied, mirroring AppConfig.patch's
// scoped-override shape without the context-manager rollback (Go callers
// just keep the original around if they need to restore it).
func (c *Config) With(fn func(*Config)) *Config {
	cp := *c
	fn(&cp)
	return &cp
}

// Expand resolves the {base_path}/{storage_path}/{account_address}
// templates across StoragePath and KeyDir, iterating to a fixed point the
// same way LazyDict.format_string re-expands until the value stops
// changing (bounded to avoid an infinite loop on a self-referential
// template).
func (c *Config) Expand() *Config {
	cp := *c
	vars := map[string]string{
		"base_path":       cp.BasePath,
		"account_address": cp.AccountAddress,
	}
	cp.StoragePath = expandFixedPoint(cp.StoragePath, vars)
	vars["storage_path"] = cp.StoragePath
	cp.KeyDir = expandFixedPoint(cp.KeyDir, vars)
	return &cp
}

func expandFixedPoint(value string, vars map[string]string) string {
	const maxPasses = 8
	for i := 0; i < maxPasses; i++ {
		next := value
		for k, v := range vars {
			next = strings.ReplaceAll(next, "{"+k+"}", v)
		}
		if next == value {
			return next
		}
		value = next
	}
	return value
}

// LoadFile reads a JSON config document, merging it over Default() — keys
// absent from the file keep their default, mirroring merge_deep(app_config,
// AppConfig)'s "file wins where present" semantics.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadWithEnv is LoadFile (or Default, if path is empty) plus an optional
// .env overlay: envPath is read first (if present) into the process
// environment via godotenv, then NEXACHAIN_ACCOUNT_ADDRESS overrides
// AccountAddress if set. This is the one field a node operator needs to
// flip per shell session (which local key to run as) without editing the
// JSON config file; the JSON file's own account_address still wins when
// NEXACHAIN_ACCOUNT_ADDRESS is unset.
func LoadWithEnv(path, envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: load env overlay %s: %w", envPath, err)
		}
	}
	var cfg *Config
	var err error
	if path == "" {
		cfg = Default()
	} else {
		cfg, err = LoadFile(path)
		if err != nil {
			return nil, err
		}
	}
	if v := os.Getenv("NEXACHAIN_ACCOUNT_ADDRESS"); v != "" {
		cfg.AccountAddress = v
	}
	return cfg, nil
}
