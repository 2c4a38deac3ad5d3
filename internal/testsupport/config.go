package testsupport

import (
	"path/filepath"
	"testing"

	"stagewise/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ReportDir = filepath.Join(base, "reports")
	cfgVal.Engine.Workers = 2
	cfgVal.Engine.FireIntervalSeconds = 1

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithFireBatchSize caps how many tasks one claim returns.
func WithFireBatchSize(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Store.FireBatchSize = n
	}
}

// WithChainsFile points the config at a chain definitions file written
// under the test directory.
func WithChainsFile(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.ChainsFile = filepath.Join(b.baseDir, name)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
