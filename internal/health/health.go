// Package health serves liveness and readiness probes of the sync worker
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Status of a component or of the whole worker
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

const checkTimeout = 5 * time.Second

// Component is the result of one check
type Component struct {
	Status    Status  `json:"status"`
	LatencyMS float64 `json:"latency_ms"`
	Details   string  `json:"details,omitempty"`
	CheckedAt string  `json:"checked_at"`
}

// Report aggregates every registered check
type Report struct {
	Status     Status               `json:"status"`
	Components map[string]Component `json:"components"`
	Version    string               `json:"version,omitempty"`
	Uptime     string               `json:"uptime"`
	CheckedAt  string               `json:"checked_at"`
}

// Checker probes one dependency. A critical checker that is down makes the
// worker not ready.
type Checker interface {
	Name() string
	Critical() bool
	Check(ctx context.Context) Component
}

// Service runs the registered checkers
type Service struct {
	version string
	started time.Time
	logger  *zap.Logger

	mu       sync.RWMutex
	checkers []Checker
}

// NewService creates an empty health service
func NewService(version string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		version: version,
		started: time.Now(),
		logger:  logger.With(zap.String("component", "health")),
	}
}

// Register adds a checker
func (s *Service) Register(c Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers = append(s.checkers, c)
}

func (s *Service) snapshot() []Checker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Checker, len(s.checkers))
	copy(out, s.checkers)
	return out
}

// Check runs every checker concurrently
func (s *Service) Check(ctx context.Context) Report {
	checkers := s.snapshot()

	type result struct {
		name string
		comp Component
	}
	results := make(chan result, len(checkers))
	for _, c := range checkers {
		go func(c Checker) {
			ctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			results <- result{name: c.Name(), comp: c.Check(ctx)}
		}(c)
	}

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]Component, len(checkers)),
		Version:    s.version,
		Uptime:     formatUptime(time.Since(s.started)),
		CheckedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	for range checkers {
		r := <-results
		report.Components[r.name] = r.comp
		switch r.comp.Status {
		case StatusDown:
			report.Status = StatusDown
			s.logger.Warn("Component is down", zap.String("check", r.name), zap.String("details", r.comp.Details))
		case StatusDegraded:
			if report.Status != StatusDown {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

// notReady lists the critical checkers that are down, sorted
func (s *Service) notReady(report Report) []string {
	var down []string
	for _, c := range s.snapshot() {
		if !c.Critical() {
			continue
		}
		if comp, ok := report.Components[c.Name()]; ok && comp.Status == StatusDown {
			down = append(down, c.Name())
		}
	}
	sort.Strings(down)
	return down
}

// RegisterRoutes mounts /health, /health/ready and /health/live
func (s *Service) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", s.handleHealth)
	r.GET("/health/ready", s.handleReady)
	r.GET("/health/live", s.handleLive)
}

func (s *Service) handleHealth(c *gin.Context) {
	report := s.Check(c.Request.Context())
	code := http.StatusOK
	if report.Status == StatusDown {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

func (s *Service) handleReady(c *gin.Context) {
	report := s.Check(c.Request.Context())
	if down := s.notReady(report); len(down) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "down": down})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Service) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive", "uptime": formatUptime(time.Since(s.started))})
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
