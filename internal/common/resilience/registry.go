package resilience

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry hands out one breaker per endpoint name, created on first use
type Registry struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates breakers with cfg
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "circuit-breaker")),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Breaker returns the breaker for name
func (r *Registry) Breaker(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb = NewCircuitBreaker(name, r.cfg, r.logger)
	r.breakers[name] = cb
	return cb
}

// Stats lists every breaker sorted by name
func (r *Registry) Stats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make([]Stats, 0, len(r.breakers))
	for _, cb := range r.breakers {
		stats = append(stats, cb.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Open lists the names of open breakers, sorted
func (r *Registry) Open() []string {
	var open []string
	for _, s := range r.Stats() {
		if s.State == StateOpen {
			open = append(open, s.Name)
		}
	}
	return open
}
