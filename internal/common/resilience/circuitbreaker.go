// Package resilience stops hammering directory servers that keep failing
package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// ErrOpen is wrapped by errors returned while a circuit rejects calls
var ErrOpen = errors.New("circuit breaker is open")

// State of a circuit breaker
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

var (
	stateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ldapsync",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per directory endpoint (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ldapsync",
			Name:      "circuit_breaker_calls_total",
			Help:      "Calls through circuit breakers by result",
		},
		[]string{"name", "result"},
	)
)

func (s State) gauge() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	}
	return 0
}

// Config tunes a breaker
type Config struct {
	// Threshold is the number of consecutive failures that opens the circuit
	Threshold int
	// ResetTimeout is how long an open circuit rejects calls before letting
	// one trial call through
	ResetTimeout time.Duration
}

// DefaultConfig is used when a field of Config is zero
var DefaultConfig = Config{Threshold: 5, ResetTimeout: time.Minute}

// Stats describe a breaker for health reporting
type Stats struct {
	Name        string     `json:"name"`
	State       State      `json:"state"`
	Failures    int        `json:"failures"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
}

// CircuitBreaker counts consecutive failures of one endpoint
type CircuitBreaker struct {
	name   string
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	trial       bool
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(name string, cfg Config, logger *zap.Logger) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig.Threshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig.ResetTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	stateGauge.WithLabelValues(name).Set(0)
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Execute runs fn unless the circuit is open. While half-open only one
// trial call runs at a time.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		callsTotal.WithLabelValues(cb.name, "rejected").Inc()
		return err
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trial = false

	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.Threshold {
			if cb.state != StateOpen {
				cb.logger.Warn("Circuit breaker opened",
					zap.String("name", cb.name),
					zap.Int("failures", cb.failures),
					zap.Duration("reset_timeout", cb.cfg.ResetTimeout),
					zap.Error(err))
			}
			cb.transition(StateOpen)
		}
		callsTotal.WithLabelValues(cb.name, "failure").Inc()
		return err
	}

	if cb.state == StateHalfOpen {
		cb.logger.Info("Circuit breaker closed again", zap.String("name", cb.name))
	}
	cb.failures = 0
	cb.transition(StateClosed)
	callsTotal.WithLabelValues(cb.name, "success").Inc()
	return nil
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		retryAt := cb.lastFailure.Add(cb.cfg.ResetTimeout)
		if cb.now().Before(retryAt) {
			return fmt.Errorf("%w: %s until %s", ErrOpen, cb.name, retryAt.Format(time.RFC3339))
		}
		cb.transition(StateHalfOpen)
		cb.trial = true
	case StateHalfOpen:
		if cb.trial {
			return fmt.Errorf("%w: %s is being probed", ErrOpen, cb.name)
		}
		cb.trial = true
	}
	return nil
}

// must hold cb.mu
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	cb.state = to
	stateGauge.WithLabelValues(cb.name).Set(to.gauge())
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.trial = false
	cb.lastFailure = time.Time{}
	cb.transition(StateClosed)
}

// Stats returns a snapshot of the breaker
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	stats := Stats{Name: cb.name, State: cb.state, Failures: cb.failures}
	if !cb.lastFailure.IsZero() {
		t := cb.lastFailure
		stats.LastFailure = &t
	}
	return stats
}
