package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStore()
	c.normalizeEngine()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if strings.TrimSpace(c.Paths.ReportDir) == "" {
		c.Paths.ReportDir = defaultReportDir
	}
	var err error
	if c.Paths.StateDir, err = expandPath(strings.TrimSpace(c.Paths.StateDir)); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.ReportDir, err = expandPath(strings.TrimSpace(c.Paths.ReportDir)); err != nil {
		return fmt.Errorf("paths.report_dir: %w", err)
	}
	if c.Paths.ChainsFile, err = expandPath(strings.TrimSpace(c.Paths.ChainsFile)); err != nil {
		return fmt.Errorf("paths.chains_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeStore() {
	if value, ok := os.LookupEnv(EnvStoreDSN); ok && strings.TrimSpace(value) != "" {
		c.Store.DSN = value
	}
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case "":
		c.Store.Driver = defaultStoreDriver
	case "sqlite3":
		c.Store.Driver = DriverSQLite
	case "postgresql", "pgx":
		c.Store.Driver = DriverPostgres
	}
	if c.Store.Driver == DriverSQLite && c.Store.DSN != "" {
		if expanded, err := expandPath(c.Store.DSN); err == nil {
			c.Store.DSN = expanded
		}
	}
	if c.Store.FireBatchSize == 0 {
		c.Store.FireBatchSize = defaultFireBatchSize
	}
}

func (c *Config) normalizeEngine() {
	if c.Engine.Workers == 0 {
		c.Engine.Workers = defaultWorkers
	}
	if c.Engine.QueueSize == 0 {
		c.Engine.QueueSize = defaultQueueSize
	}
	if c.Engine.FireIntervalSeconds == 0 {
		c.Engine.FireIntervalSeconds = defaultFireIntervalSeconds
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text":
		c.Logging.Format = "console"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	if level == "warning" {
		level = "warn"
	}
	c.Logging.Level = level
}
