package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
ListenAddress = ":9090"
DataDir = "/var/lib/hslad"
AdminAddress = "0x00000000000000000000000000000000000000ad"
Environment = "production"

[[assets]]
Asset = "0x0000000000000000000000000000000000000022"
WrappedAsset = "0x0000000000000000000000000000000000000033"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9090" || cfg.DataDir != "/var/lib/hslad" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Environment != "production" {
		t.Fatalf("environment = %q", cfg.Environment)
	}
	if len(cfg.AssetMappings) != 1 {
		t.Fatalf("asset mappings = %d, want 1", len(cfg.AssetMappings))
	}
	admin, err := cfg.Admin()
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	if admin[19] != 0xad {
		t.Fatalf("admin = %x", admin)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, ``)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != Default().ListenAddress {
		t.Fatalf("listen address = %q", cfg.ListenAddress)
	}
	if cfg.DataDir != Default().DataDir {
		t.Fatalf("data dir = %q", cfg.DataDir)
	}
	admin, err := cfg.Admin()
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	var zero [20]byte
	if admin != zero {
		t.Fatalf("unset admin should be the zero address, got %x", admin)
	}
}

func TestLoadRejectsBadAddresses(t *testing.T) {
	cases := map[string]string{
		"bad admin": `AdminAddress = "not-an-address"`,
		"bad asset": `
[[assets]]
Asset = "0x1234"
WrappedAsset = "0x0000000000000000000000000000000000000033"
`,
		"bad wrapped": `
[[assets]]
Asset = "0x0000000000000000000000000000000000000022"
WrappedAsset = "zzzz"
`,
	}
	for name, contents := range cases {
		path := writeConfig(t, contents)
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
