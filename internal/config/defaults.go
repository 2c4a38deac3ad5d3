package config

const (
	// DriverSQLite selects the embedded SQLite task store.
	DriverSQLite = "sqlite"
	// DriverPostgres selects the Postgres task store.
	DriverPostgres = "postgres"

	// EnvStoreDSN overrides store.dsn when set.
	EnvStoreDSN = "STAGEWISE_STORE_DSN"

	defaultConfigPath          = "~/.config/stagewise/config.toml"
	defaultStateDir            = "~/.local/share/stagewise"
	defaultLogDir              = "~/.local/share/stagewise/logs"
	defaultReportDir           = "~/.local/share/stagewise/reports"
	defaultStoreDriver         = DriverSQLite
	defaultFireBatchSize       = 32
	defaultWorkers             = 4
	defaultQueueSize           = 64
	defaultFireIntervalSeconds = 5
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
			ReportDir: defaultReportDir,
		},
		Store: Store{
			Driver:        defaultStoreDriver,
			FireBatchSize: defaultFireBatchSize,
		},
		Engine: Engine{
			Workers:             defaultWorkers,
			QueueSize:           defaultQueueSize,
			FireIntervalSeconds: defaultFireIntervalSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
