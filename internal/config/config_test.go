package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lotas/plfolders/internal/catalog"
	"github.com/spf13/pflag"
)

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return fs
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(flags(t, "--data-dir", dir))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != DefaultPort || !cfg.Server.Metrics {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Engine.Debounce != 400*time.Millisecond || cfg.Engine.Settle != 800*time.Millisecond {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.StableSteps != 3 || cfg.Engine.MaxSteps != 60 {
		t.Errorf("engine steps = %+v", cfg.Engine)
	}
	if cfg.Data.DB != filepath.Join(dir, "plfolders.db") {
		t.Errorf("db = %q", cfg.Data.DB)
	}
	if cfg.Selectors != catalog.DefaultSelectors() {
		t.Errorf("selectors = %+v", cfg.Selectors)
	}
	if len(cfg.Identity.AllowedPrefixes) != 2 {
		t.Errorf("prefixes = %v", cfg.Identity.AllowedPrefixes)
	}
	if _, err := cfg.Scanner(); err != nil {
		t.Errorf("Scanner: %v", err)
	}
}

func TestFileEnvAndFlagPrecedence(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 20000
engine:
  debounce: 250ms
  stable_steps: 2
selectors:
  item: "div.card"
identity:
  allowed_prefixes: ["PL"]
`)
	t.Setenv("PLFOLDERS_ENGINE_SETTLE", "1s")
	t.Setenv("PLFOLDERS_SERVER_PORT", "21000")

	cfg, err := Load(flags(t, "--config", path, "--port", "22000", "--data-dir", t.TempDir()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 22000 {
		t.Errorf("port = %d, want flag value 22000", cfg.Server.Port)
	}
	if cfg.Engine.Settle != time.Second {
		t.Errorf("settle = %v, want env value 1s", cfg.Engine.Settle)
	}
	if cfg.Engine.Debounce != 250*time.Millisecond || cfg.Engine.StableSteps != 2 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Selectors.Item != "div.card" || cfg.Selectors.Link != catalog.DefaultSelectors().Link {
		t.Errorf("selectors = %+v", cfg.Selectors)
	}
	if len(cfg.Identity.AllowedPrefixes) != 1 || cfg.Identity.AllowedPrefixes[0] != "PL" {
		t.Errorf("prefixes = %v", cfg.Identity.AllowedPrefixes)
	}
	opts := cfg.SessionOptions()
	if opts.Debounce != 250*time.Millisecond || opts.Load.Settle != time.Second {
		t.Errorf("session options = %+v", opts)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 20000\n")
	t.Setenv("PLFOLDERS_SERVER_PORT", "21000")
	cfg, err := Load(flags(t, "--config", path, "--data-dir", t.TempDir()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 21000 {
		t.Errorf("port = %d, want 21000", cfg.Server.Port)
	}
}

func TestInvalid(t *testing.T) {
	cases := map[string]string{
		"steps":   "engine:\n  stable_steps: 5\n  max_steps: 2\n",
		"pattern": "host:\n  page_pattern: \"(\"\n",
		"port":    "server:\n  port: 70000\n",
		"syntax":  "server: [\n",
	}
	for name, body := range cases {
		if _, err := Load(flags(t, "--config", writeConfig(t, body), "--data-dir", t.TempDir())); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
