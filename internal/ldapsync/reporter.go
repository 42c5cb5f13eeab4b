package ldapsync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/metrics"
)

// TaskInfo is the progress bag published for a run
type TaskInfo struct {
	ID                 string              `json:"id"`
	TenantID           int                 `json:"owner"`
	OperationType      OperationKind       `json:"operation_type"`
	Finished           bool                `json:"finished"`
	CertificateRequest *CertificateRequest `json:"certificate_request"`
	Source             string              `json:"source"`
	Progress           int                 `json:"progress"`
	// Result is the current status text; for finished test runs it is the
	// JSON encoded change log
	Result    string    `json:"result"`
	Error     string    `json:"error"`
	Warning   string    `json:"warning"`
	UpdatedAt time.Time `json:"updated_at"`
}

// reporter owns the progress state of one run and publishes every change
type reporter struct {
	info      TaskInfo
	percent   float64
	errorKey  MessageKey
	publisher Publisher
	text      Localizer
	logger    *zap.Logger
}

func newReporter(info TaskInfo, publisher Publisher, text Localizer, logger *zap.Logger) *reporter {
	return &reporter{info: info, publisher: publisher, text: text, logger: logger}
}

// snapshot returns a copy of the current bag
func (r *reporter) snapshot() TaskInfo {
	info := r.info
	info.Progress = int(r.percent)
	if info.Progress > 100 {
		info.Progress = 100
	}
	if info.CertificateRequest != nil {
		req := *info.CertificateRequest
		info.CertificateRequest = &req
	}
	return info
}

func (r *reporter) publish(ctx context.Context) {
	info := r.snapshot()
	info.UpdatedAt = time.Now().UTC()

	metrics.SetProgress(info.TenantID, info.Progress)

	if r.publisher == nil {
		return
	}
	// A lost progress update must not fail the run
	if err := r.publisher.Publish(context.WithoutCancel(ctx), info); err != nil {
		r.logger.Warn("Failed to publish progress", zap.Error(err))
	}
}

// setPercent raises the percentage; it never goes backwards
func (r *reporter) setPercent(p float64) {
	if p > 100 {
		p = 100
	}
	if p > r.percent {
		r.percent = p
	}
}

func (r *reporter) logProgress() {
	r.logger.Info("Progress",
		zap.Int("percentage", int(r.percent)),
		zap.String("status", r.info.Result),
		zap.String("source", r.info.Source))
}

// Report moves to a new phase: percentage, status text and an empty source
func (r *reporter) Report(ctx context.Context, percent int, status MessageKey) {
	r.setPercent(float64(percent))
	r.info.Result = r.text.Text(status)
	r.info.Source = ""
	r.logProgress()
	r.publish(ctx)
}

// Source updates only the per-item detail line
func (r *reporter) Source(ctx context.Context, source string) {
	r.info.Source = source
	r.logProgress()
	r.publish(ctx)
}

// Finish sets the final percentage and result text
func (r *reporter) Finish(ctx context.Context, percent int, result string) {
	r.setPercent(float64(percent))
	r.info.Result = result
	r.info.Source = ""
	r.logProgress()
	r.publish(ctx)
}

// SetError records the user-facing error of the run; it is published with the next update
func (r *reporter) SetError(key MessageKey) {
	r.errorKey = key
	r.info.Error = r.text.Text(key)
}

// SetWarning records the user-facing warning of the run
func (r *reporter) SetWarning(key MessageKey) {
	r.info.Warning = r.text.Text(key)
}

// SetCertificateRequest exposes a certificate awaiting confirmation
func (r *reporter) SetCertificateRequest(req *CertificateRequest) {
	r.info.CertificateRequest = req
}

// Failed reports whether an error was recorded
func (r *reporter) Failed() bool {
	return r.errorKey != ""
}

// MarkFinished flags the bag as terminal and publishes it
func (r *reporter) MarkFinished(ctx context.Context) {
	r.info.Finished = true
	r.publish(ctx)
}

// phase spreads a fixed percentage budget over count items
func (r *reporter) phase(budget float64, count int) *phaseProgress {
	return &phaseProgress{r: r, start: r.percent, budget: budget, count: count}
}

type phaseProgress struct {
	r      *reporter
	start  float64
	budget float64
	count  int
	index  int
}

// Next advances to the next item and publishes its "(i/n): name" source line
func (p *phaseProgress) Next(ctx context.Context, name string) {
	p.Step(ctx, itemSource(p.index+1, p.count, name))
}

// Step advances to the next item and publishes source as is
func (p *phaseProgress) Step(ctx context.Context, source string) {
	if p.count > 0 {
		p.r.setPercent(p.start + p.budget*float64(p.index)/float64(p.count))
	}
	p.index++
	p.r.Source(ctx, source)
}

// Detail replaces the source line without advancing the percentage
func (p *phaseProgress) Detail(ctx context.Context, source string) {
	p.r.Source(ctx, source)
}

// Current returns the "(i/n): name" prefix of the current item
func (p *phaseProgress) Current(name string) string {
	return itemSource(p.index, p.count, name)
}

func itemSource(i, n int, name string) string {
	return fmt.Sprintf("(%d/%d): %s", i, n, name)
}
