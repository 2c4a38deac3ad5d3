package processors

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	"stagewise/internal/chain"
	"stagewise/internal/config"
)

// Built-in processor ids.
const (
	DataProcessorID   = "data"
	ReportProcessorID = "report"
)

//go:embed default_chains.yaml
var defaultChains []byte

// DefaultDefinitions returns the built-in chains.
func DefaultDefinitions() (chain.Definitions, error) {
	return chain.ParseDefinitions(defaultChains)
}

// LoadDefinitions returns the built-in chains merged with the chains file at
// path. Kinds defined in the file replace built-in kinds of the same name.
func LoadDefinitions(path string) (chain.Definitions, error) {
	defs, err := DefaultDefinitions()
	if err != nil {
		return nil, fmt.Errorf("built-in chains: %w", err)
	}
	if strings.TrimSpace(path) == "" {
		return defs, nil
	}
	custom, err := chain.LoadDefinitions(path)
	if err != nil {
		return nil, err
	}
	for kind, ch := range custom {
		defs[kind] = ch
	}
	return defs, nil
}

// NewDefaultRegistry registers the built-in processors.
func NewDefaultRegistry(cfg *config.Config, tasks TaskLookup, logger *slog.Logger) *Registry {
	reg := NewRegistry()
	reg.Register(DataProcessorID, NewDataProcessor(tasks, DefaultTick, logger))
	reg.Register(ReportProcessorID, NewReportProcessor(tasks, cfg.Paths.ReportDir, logger))
	return reg
}
