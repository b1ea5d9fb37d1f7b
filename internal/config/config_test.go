package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadEmptyFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("empty file must not be an error: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
port: 9090
data_dir: /var/lib/ingestq
storage: memory
max_concurrent_tasks: 8
sync_interval_sec: 5
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9090 || cfg.DataDir != "/var/lib/ingestq" || cfg.Storage != "memory" ||
		cfg.MaxConcurrentTasks != 8 || cfg.SyncIntervalSec != 5 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "port: 9191\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9191 || cfg.Storage != Default().Storage || cfg.MaxConcurrentTasks != Default().MaxConcurrentTasks {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	for name, body := range map[string]string{
		"bad storage":     "storage: postgres\n",
		"zero workers":    "max_concurrent_tasks: 0\n",
		"negative sync":   "sync_interval_sec: -1\n",
		"malformed yaml":  "port: [\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error for %q", body)
			}
		})
	}
}
