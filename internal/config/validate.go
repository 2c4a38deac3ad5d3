package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver. Set %s or edit the config file", EnvStoreDSN)
		}
	default:
		return fmt.Errorf("store.driver: unsupported value %q (expected sqlite or postgres)", c.Store.Driver)
	}
	if c.Store.FireBatchSize < 1 {
		return errors.New("store.fire_batch_size must be positive")
	}
	return nil
}

func (c *Config) validateEngine() error {
	if c.Engine.Workers < 1 {
		return errors.New("engine.workers must be positive")
	}
	if c.Engine.QueueSize < 1 {
		return errors.New("engine.queue_size must be positive")
	}
	if c.Engine.FireIntervalSeconds < 1 {
		return errors.New("engine.fire_interval_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	return nil
}
