package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"stagewise/internal/config"
	"stagewise/internal/daemon"
	"stagewise/internal/fileutil"
	"stagewise/internal/ipc"
	"stagewise/internal/logging"
	"stagewise/internal/processors"
	"stagewise/internal/storage"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the stagewise daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	sessionID := uuid.NewString()
	logger = logger.With(logging.String("session_id", sessionID))
	logging.PruneOldLogs(logger, cfg.Paths.LogDir, "*.log", cfg.Logging.RetentionDays,
		filepath.Join(cfg.Paths.LogDir, logging.LogFileName))

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	chains, err := processors.LoadDefinitions(cfg.Paths.ChainsFile)
	if err != nil {
		logger.Error("load chain definitions", logging.Error(err))
		return err
	}
	store, err := storage.Open(signalCtx, cfg, chains)
	if err != nil {
		logger.Error("open task store", logging.Error(err))
		return err
	}
	logSnapshot(logger, cfg, store, chains.Kinds())

	registry := processors.NewDefaultRegistry(cfg, store, logger)
	d, err := daemon.New(cfg, store, registry, chains, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("stagewise daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return fileutil.WriteFileAtomic(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func logSnapshot(logger *slog.Logger, cfg *config.Config, store storage.Backend, kinds []string) {
	logger.Info("runtime snapshot",
		logging.String(logging.FieldEventType, "runtime_snapshot"),
		logging.String("store_driver", cfg.Store.Driver),
		logging.String("store", store.Path()),
		logging.Any("kinds", kinds),
		logging.Int("workers", cfg.Engine.Workers),
		logging.Int("queue_size", cfg.Engine.QueueSize),
		logging.Int("fire_batch_size", cfg.Store.FireBatchSize),
		logging.Duration("fire_interval", cfg.FireInterval()),
	)
}
