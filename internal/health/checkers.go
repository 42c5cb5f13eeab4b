package health

import (
	"context"
	"fmt"
	"time"
)

type pingChecker struct {
	name      string
	critical  bool
	threshold time.Duration
	ping      func(ctx context.Context) error
}

// NewPingChecker reports down when ping fails and degraded when it is slower
// than threshold. Used for PostgreSQL and Redis.
func NewPingChecker(name string, critical bool, threshold time.Duration, ping func(ctx context.Context) error) Checker {
	return &pingChecker{name: name, critical: critical, threshold: threshold, ping: ping}
}

func (p *pingChecker) Name() string   { return p.name }
func (p *pingChecker) Critical() bool { return p.critical }

func (p *pingChecker) Check(ctx context.Context) Component {
	start := time.Now()
	err := p.ping(ctx)
	latency := time.Since(start)

	comp := Component{
		Status:    StatusUp,
		LatencyMS: float64(latency.Milliseconds()),
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}
	switch {
	case err != nil:
		comp.Status = StatusDown
		comp.Details = err.Error()
	case p.threshold > 0 && latency > p.threshold:
		comp.Status = StatusDegraded
		comp.Details = "high latency"
	}
	return comp
}

type schemaChecker struct {
	want    int64
	current func(ctx context.Context) (int64, error)
}

// NewSchemaChecker reports down until the database schema reaches version want
func NewSchemaChecker(want int64, current func(ctx context.Context) (int64, error)) Checker {
	return &schemaChecker{want: want, current: current}
}

func (s *schemaChecker) Name() string   { return "schema" }
func (s *schemaChecker) Critical() bool { return true }

func (s *schemaChecker) Check(ctx context.Context) Component {
	comp := Component{Status: StatusUp, CheckedAt: time.Now().UTC().Format(time.RFC3339)}
	got, err := s.current(ctx)
	switch {
	case err != nil:
		comp.Status = StatusDown
		comp.Details = err.Error()
	case got < s.want:
		comp.Status = StatusDown
		comp.Details = fmt.Sprintf("schema version %d, want %d", got, s.want)
	}
	return comp
}

type funcChecker struct {
	name     string
	critical bool
	check    func(ctx context.Context) Component
}

// NewFuncChecker wraps a function as a checker
func NewFuncChecker(name string, critical bool, check func(ctx context.Context) Component) Checker {
	return &funcChecker{name: name, critical: critical, check: check}
}

func (f *funcChecker) Name() string                        { return f.name }
func (f *funcChecker) Critical() bool                      { return f.critical }
func (f *funcChecker) Check(ctx context.Context) Component { return f.check(ctx) }
