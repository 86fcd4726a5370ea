package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dzagr-ss/ai-meeting-sub000/internal/engine"
)

// ErrEngineNotRegistered is returned by [Registry.CreateEngine] when no
// factory has been registered under the requested variant.
var ErrEngineNotRegistered = errors.New("config: engine variant not registered")

// EngineFactory constructs an analysis engine from configuration.
type EngineFactory func(EngineConfig) (engine.Analyzer, error)

// Registry maps engine variants to their constructor functions, so the
// assembly layer selects implementations by config value instead of
// hard-wiring imports. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines map[Variant]EngineFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{engines: make(map[Variant]EngineFactory)}
}

// RegisterEngine registers a factory for the given variant, replacing any
// previous registration.
func (r *Registry) RegisterEngine(v Variant, f EngineFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[v] = f
}

// CreateEngine constructs the engine registered for cfg.Variant.
func (r *Registry) CreateEngine(cfg EngineConfig) (engine.Analyzer, error) {
	r.mu.RLock()
	f, ok := r.engines[cfg.Variant]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEngineNotRegistered, cfg.Variant)
	}
	return f(cfg)
}

// Variants returns the registered variants in unspecified order.
func (r *Registry) Variants() []Variant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Variant, 0, len(r.engines))
	for v := range r.engines {
		out = append(out, v)
	}
	return out
}
