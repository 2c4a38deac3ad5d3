package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stagewise/internal/config"
	"stagewise/internal/daemon"
	"stagewise/internal/ipc"
	"stagewise/internal/logging"
	"stagewise/internal/processors"
	"stagewise/internal/storage"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      storage.Backend
	daemon     *daemon.Daemon
	configPath string
}

// setupCLITestEnv writes a config under a temp dir. With serve set it also
// runs a daemon and IPC server on the configured socket; the daemon engine
// is not started so tests control firing.
func setupCLITestEnv(t *testing.T, serve bool) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv(config.EnvStoreDSN, "")
	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf("[paths]\nstate_dir = %q\nlog_dir = %q\nreport_dir = %q\n\n[engine]\nfire_interval_seconds = 3600\n",
		filepath.Join(base, "state"),
		filepath.Join(base, "logs"),
		filepath.Join(base, "reports"),
	)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	env := &cliTestEnv{cfg: cfg, configPath: configPath}
	if !serve {
		return env
	}

	chains, err := processors.LoadDefinitions(cfg.Paths.ChainsFile)
	if err != nil {
		t.Fatalf("LoadDefinitions: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	store, err := storage.Open(ctx, cfg, chains)
	if err != nil {
		cancel()
		t.Fatalf("storage.Open: %v", err)
	}
	logger := logging.NewNop()
	d, err := daemon.New(cfg, store, processors.NewDefaultRegistry(cfg, store, logger), chains, logger)
	if err != nil {
		cancel()
		t.Fatalf("daemon.New: %v", err)
	}
	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC-backed CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})
	env.store = store
	env.daemon = d
	return env
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
