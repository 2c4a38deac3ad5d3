package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"stagewise/internal/config"
	"stagewise/internal/ipc"
	"stagewise/internal/processors"
	"stagewise/internal/storage"
)

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

// StartState reports how EnsureStarted found the daemon.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State StartState
	PID   int
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// Launch starts a detached daemon process running "<exe> run".
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"run"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for IPC socket availability and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon unless its socket already answers.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	state := StartStateAlreadyRunning
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if launchErr := Launch(executablePath, opts); launchErr != nil {
			return StartResult{}, launchErr
		}
		client, err = WaitForClient(socketPath, waitTimeout)
		if err != nil {
			return StartResult{}, err
		}
		state = StartStateStarted
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{State: state, PID: status.PID}, nil
}

// WaitForShutdown waits for daemon IPC to disappear.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			return nil
		}
		_ = client.Close()
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not stop within %s", timeout)
}

// ProcessInfo returns whether daemon IPC is reachable and the daemon PID when available.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	status, err := client.Status()
	if err != nil {
		return true, 0, err
	}
	return true, status.PID, nil
}

// ReadPIDFile returns the pid recorded at path, or 0 when absent.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daemon pid file %q: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %q", path)
	}
	return pid, nil
}

// ProcessAlive reports whether a process with pid exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// StopAndTerminate sends SIGTERM to the daemon so it suspends running tasks
// and exits, then sends SIGKILL if it is still alive after gracePeriod.
func StopAndTerminate(cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	socketPath := cfg.SocketPath()
	alive, pid, err := ProcessInfo(socketPath)
	if err != nil {
		return StopResult{}, err
	}
	if pid == 0 {
		if pid, err = ReadPIDFile(cfg.PIDPath()); err != nil {
			return StopResult{}, err
		}
	}
	if !alive && !ProcessAlive(pid) {
		return StopResult{}, ErrDaemonNotRunning
	}
	if pid <= 0 {
		return StopResult{}, fmt.Errorf("unable to determine daemon pid (pid file: %s)", cfg.PIDPath())
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}

	result := StopResult{PID: pid}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return result, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	if WaitForShutdown(socketPath, gracePeriod) == nil && !ProcessAlive(pid) {
		return result, nil
	}

	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return result, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	_ = os.Remove(cfg.PIDPath())
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	return result, nil
}

// StatusLine is one labelled readiness check for status output.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// Snapshot combines daemon status with local checks that work offline.
type Snapshot struct {
	*ipc.StatusResponse
	Reachable    bool         `json:"reachable"`
	SystemChecks []StatusLine `json:"system_checks"`
}

// BuildStatusSnapshot collects daemon status and falls back to reading task
// stats from the store when the daemon is offline.
func BuildStatusSnapshot(ctx context.Context, cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snap := &Snapshot{StatusResponse: &ipc.StatusResponse{}}

	if client, err := ipc.Dial(cfg.SocketPath()); err == nil {
		defer client.Close()
		if resp, statusErr := client.Status(); statusErr == nil && resp != nil {
			snap.StatusResponse = resp
			snap.Reachable = true
		}
	}

	if !snap.Reachable {
		queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if stats, err := offlineStats(queryCtx, cfg); err == nil {
			snap.TaskStats = stats
		} else {
			snap.LastError = err.Error()
		}
	}

	snap.SystemChecks = BuildSystemChecks(cfg, snap.Running)
	return snap, nil
}

func offlineStats(ctx context.Context, cfg *config.Config) (map[string]int, error) {
	chains, err := processors.LoadDefinitions(cfg.Paths.ChainsFile)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, cfg, chains)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	stats, err := store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out, nil
}

// BuildSystemChecks resolves status lines for daemon liveness and the
// directories the daemon writes to.
func BuildSystemChecks(cfg *config.Config, daemonRunning bool) []StatusLine {
	lines := make([]StatusLine, 0, 4)
	if daemonRunning {
		lines = append(lines, StatusLine{Label: "Daemon", Severity: "ok", Detail: "Running"})
	} else {
		lines = append(lines, StatusLine{Label: "Daemon", Severity: "warn", Detail: "Not running (run `stagewise start`)"})
	}
	for _, dir := range []struct{ label, path string }{
		{"State", cfg.Paths.StateDir},
		{"Logs", cfg.Paths.LogDir},
		{"Reports", cfg.Paths.ReportDir},
	} {
		lines = append(lines, CheckDirectoryAccess(dir.label, dir.path))
	}
	return lines
}

// CheckDirectoryAccess verifies path is a directory the daemon can write to.
func CheckDirectoryAccess(label, path string) StatusLine {
	path = strings.TrimSpace(path)
	if path == "" {
		return StatusLine{Label: label, Severity: "error", Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return StatusLine{Label: label, Severity: "info", Detail: fmt.Sprintf("%s (created on start)", path)}
	}
	if err != nil {
		return StatusLine{Label: label, Severity: "error", Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return StatusLine{Label: label, Severity: "error", Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return StatusLine{Label: label, Severity: "error", Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return StatusLine{Label: label, Severity: "ok", Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func isDaemonUnavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
