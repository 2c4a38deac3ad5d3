package processors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"stagewise/internal/chain"
	"stagewise/internal/engine"
	"stagewise/internal/services"
)

// ErrUnknownProcessor is returned by Provide for ids with no registration.
var ErrUnknownProcessor = fmt.Errorf("%w: processor not registered", services.ErrNotFound)

var _ engine.ProcessorRegistry = (*Registry)(nil)

// Registry maps processor ids to processors. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]engine.Processor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[string]engine.Processor)}
}

// Register adds a processor under id, replacing any existing registration.
func (r *Registry) Register(id string, p engine.Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.processors == nil {
		r.processors = make(map[string]engine.Processor)
	}
	r.processors[strings.TrimSpace(id)] = p
}

// Provide returns the processor registered under id.
func (r *Registry) Provide(id string) (engine.Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[id]
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcessor, id)
	}
	return p, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.processors))
	for id := range r.processors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate reports every stage in defs that routes to an unregistered
// processor.
func (r *Registry) Validate(defs chain.Definitions) error {
	var errs []error
	for _, kind := range defs.Kinds() {
		ch, _ := defs.Lookup(kind)
		for _, stage := range ch.Stages() {
			if stage.IsStart() {
				continue
			}
			if _, err := r.Provide(stage.ProcessorID()); err != nil {
				errs = append(errs, fmt.Errorf("chain %q stage %s: %w", kind, stage.Intermediate(), err))
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", engine.ErrConfiguration, errors.Join(errs...))
}

// Health returns the readiness of every registered processor, sorted by id.
// Processors without a HealthCheck method are reported ready.
func (r *Registry) Health(ctx context.Context) []Health {
	ids := r.IDs()
	out := make([]Health, 0, len(ids))
	for _, id := range ids {
		p, err := r.Provide(id)
		if err != nil {
			continue
		}
		checker, ok := p.(HealthChecker)
		if !ok {
			out = append(out, Healthy(id))
			continue
		}
		health := checker.HealthCheck(ctx)
		health.Name = id
		out = append(out, health)
	}
	return out
}
