package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	cfgDir := t.TempDir()
	t.Setenv("MYBRAIN_CONFIG_DIR", cfgDir)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Namespace != DefaultNamespace {
		t.Fatalf("expected namespace %q; got %q", DefaultNamespace, cfg.Namespace)
	}
	if cfg.Owner != DefaultOwner {
		t.Fatalf("expected owner %q; got %q", DefaultOwner, cfg.Owner)
	}
	if want := filepath.Join(cfgDir, "data"); cfg.DataDir != want {
		t.Fatalf("expected data dir %q; got %q", want, cfg.DataDir)
	}
	if !cfg.Watch {
		t.Fatalf("expected watch default true")
	}
	if cfg.File != "" {
		t.Fatalf("expected no config file; got %q", cfg.File)
	}
}

func TestLoadConfig_FileThenEnvOverride(t *testing.T) {
	cfgDir := t.TempDir()
	t.Setenv("MYBRAIN_CONFIG_DIR", cfgDir)

	body := "namespace: team-brain\nowner: alice\nlog_level: debug\nwatch: false\n"
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Namespace != "team-brain" || cfg.Owner != "alice" || cfg.LogLevel != "debug" || cfg.Watch {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !strings.HasSuffix(cfg.File, "config.yaml") {
		t.Fatalf("expected config file to be recorded; got %q", cfg.File)
	}

	t.Setenv("MYBRAIN_OWNER", "bob")
	cfg, err = LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Owner != "bob" {
		t.Fatalf("expected env override owner=bob; got %q", cfg.Owner)
	}
}

func TestLoadConfig_ExplicitMissingFileFails(t *testing.T) {
	t.Setenv("MYBRAIN_CONFIG_DIR", t.TempDir())
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestWriteConfig_RoundTrip(t *testing.T) {
	cfgDir := t.TempDir()
	t.Setenv("MYBRAIN_CONFIG_DIR", cfgDir)

	path := filepath.Join(cfgDir, "nested", "config.yaml")
	in := &Config{Namespace: "ns", Owner: "me", DataDir: "/tmp/mb", LogLevel: "info", Watch: true, RelayAddr: ":9000"}
	if err := WriteConfig(in, path); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	out, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if out.Namespace != "ns" || out.Owner != "me" || out.DataDir != "/tmp/mb" || out.RelayAddr != ":9000" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}
