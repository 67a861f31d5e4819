package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/NiftyApes/hsla-contracts/crypto"
)

// Config captures the runtime configuration for the lending daemon.
type Config struct {
	ListenAddress string         `toml:"ListenAddress"`
	DataDir       string         `toml:"DataDir"`
	AdminAddress  string         `toml:"AdminAddress"`
	Environment   string         `toml:"Environment"`
	AssetMappings []AssetMapping `toml:"assets"`
}

// AssetMapping pre-seeds an underlying to wrapped asset relationship applied
// at startup by the administrator account.
type AssetMapping struct {
	Asset        string `toml:"Asset"`
	WrappedAsset string `toml:"WrappedAsset"`
}

// Default returns the configuration applied when fields are unset.
func Default() Config {
	return Config{
		ListenAddress: ":8545",
		DataDir:       "./data",
	}
}

// Load reads and validates the TOML configuration at path. Missing fields
// fall back to defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks address formats and required fields.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if strings.TrimSpace(c.AdminAddress) != "" {
		if _, err := crypto.ParseAddress(c.AdminAddress); err != nil {
			return fmt.Errorf("config: AdminAddress: %w", err)
		}
	}
	for i, mapping := range c.AssetMappings {
		if _, err := crypto.ParseAddress(mapping.Asset); err != nil {
			return fmt.Errorf("config: assets[%d].Asset: %w", i, err)
		}
		if _, err := crypto.ParseAddress(mapping.WrappedAsset); err != nil {
			return fmt.Errorf("config: assets[%d].WrappedAsset: %w", i, err)
		}
	}
	return nil
}

// Admin returns the parsed administrator address, or the zero address when
// unset.
func (c Config) Admin() (crypto.Address, error) {
	if strings.TrimSpace(c.AdminAddress) == "" {
		return crypto.ZeroAddress, nil
	}
	return crypto.ParseAddress(c.AdminAddress)
}
