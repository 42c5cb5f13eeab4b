package ldapsync

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/errors"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/events"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/logger"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/tracing"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/metrics"
)

// Run outcomes, used as the metrics label
const (
	outcomeSucceeded   = "success"
	outcomeFailed      = "error"
	outcomeCancelled   = "cancelled"
	outcomeCertificate = "certificate"
)

// Deps are the collaborators of the engine. Events and Tracer are optional.
type Deps struct {
	Directory DirectoryFactory
	Store     IdentityStore
	Settings  SettingsStore
	Photos    PhotoStore
	Principal Principal
	Publisher Publisher
	Events    events.Bus
	Catalog   *Catalog
	Tracer    trace.Tracer
	Logger    *zap.Logger
}

// Engine reconciles a tenant's directory into its identity store. One Engine
// serves any number of tenants; a single tenant must not run twice at once.
type Engine struct {
	deps   Deps
	tracer trace.Tracer
	logger *zap.Logger
}

// NewEngine creates an engine
func NewEngine(deps Deps) *Engine {
	if deps.Catalog == nil {
		deps.Catalog = NewCatalog()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = tracing.Tracer()
	}
	return &Engine{
		deps:   deps,
		tracer: tracer,
		logger: logger.WithComponent(deps.Logger, "ldapsync"),
	}
}

// Request describes one run
type Request struct {
	// TaskID identifies the run in the progress bag; generated when empty
	TaskID   string
	TenantID int
	// Settings to run with. Nil fails the run with ErrorCantGetSettings.
	Settings *DirectorySettings
	Kind     OperationKind
	// InvokingUserID is the administrator who started the run, empty for scheduled runs
	InvokingUserID string
	// Language selects the message bundle, e.g. "en" or "ru-RU"
	Language string
}

// runContext is the state of one run, threaded through every phase
type runContext struct {
	req      Request
	settings DirectorySettings
	tenant   Tenant
	dir      DirectoryClient
	text     Localizer
	progress *reporter
	changes  *ChangeLog
	mut      strategy
	logger   *zap.Logger

	invokerIsAdmin *bool
}

// Run executes one operation and returns the final progress bag. Failures are
// reported through the bag, never returned.
func (e *Engine) Run(ctx context.Context, req Request) TaskInfo {
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}
	start := time.Now()

	log := logger.WithOperation(logger.WithTenant(e.logger, req.TenantID), req.Kind.String()).
		With(zap.String("task_id", req.TaskID))
	text := e.deps.Catalog.Localizer(req.Language)
	progress := newReporter(TaskInfo{
		ID:            req.TaskID,
		TenantID:      req.TenantID,
		OperationType: req.Kind,
	}, e.deps.Publisher, text, log)

	ctx, span := e.tracer.Start(ctx, "ldapsync.Run", trace.WithAttributes(
		attribute.Int("ldapsync.tenant_id", req.TenantID),
		attribute.String("ldapsync.operation", req.Kind.String()),
	))
	defer span.End()

	log.Info("Starting directory run", zap.String("invoking_user", req.InvokingUserID))

	outcome := e.run(ctx, req, text, progress, log)

	info := progress.snapshot()
	if info.Error != "" {
		span.SetStatus(codes.Error, info.Error)
	}
	span.SetAttributes(attribute.String("ldapsync.outcome", outcome))

	duration := time.Since(start)
	metrics.RecordRun(req.Kind.String(), outcome, duration)

	if e.deps.Events != nil {
		e.deps.Events.PublishAsync(ctx, events.NewEvent(events.EventSyncCompleted, "ldapsync", req.TenantID, map[string]interface{}{
			"task_id":   info.ID,
			"operation": req.Kind.String(),
			"outcome":   outcome,
			"error":     info.Error,
			"warning":   info.Warning,
		}))
	}

	log.Info("Directory run finished",
		zap.String("outcome", outcome),
		zap.Duration("duration", duration),
		zap.String("error", info.Error),
		zap.String("warning", info.Warning))

	return info
}

// run authenticates, validates and probes, then hands over to the body. The
// deferred finalizer always marks the bag finished and ends the session.
func (e *Engine) run(ctx context.Context, req Request, text Localizer, progress *reporter, log *zap.Logger) (outcome string) {
	outcome = outcomeSucceeded
	sysCtx := ctx
	authenticated := false

	defer func() {
		if r := recover(); r != nil {
			log.Error("Directory run panicked", zap.Any("panic", r), zap.Stack("stack"))
			progress.SetError(ErrorInternalServer)
			outcome = outcomeFailed
		}
		progress.MarkFinished(sysCtx)
		if !authenticated {
			return
		}
		if err := e.deps.Principal.Logout(context.WithoutCancel(sysCtx)); err != nil {
			log.Error("Failed to end system session", zap.Error(err))
		}
	}()

	var err error
	sysCtx, err = e.deps.Principal.AuthenticateSystem(ctx, req.TenantID)
	if err != nil {
		sysCtx = ctx
		return e.classify(progress, log, err)
	}
	authenticated = true

	if req.Settings == nil {
		log.Error("Directory settings are missing")
		progress.SetError(ErrorCantGetSettings)
		return outcomeFailed
	}
	if !req.Kind.Valid() {
		log.Error("Unknown operation kind", zap.Int("kind", int(req.Kind)))
		progress.SetError(ErrorInternalServer)
		return outcomeFailed
	}

	if req.Kind.IsSave() {
		progress.Report(sysCtx, 1, StatusCheckingSettings)
	}

	settings, err := e.validate(sysCtx, *req.Settings, log)
	if err != nil {
		progress.SetError(ErrorCantGetSettings)
		return outcomeFailed
	}

	dir, err := e.deps.Directory.Open(settings)
	if err != nil {
		return e.classify(progress, log, fmt.Errorf("open directory: %w", err))
	}
	defer func() {
		if err := dir.Close(); err != nil {
			log.Warn("Failed to close directory connection", zap.Error(err))
		}
	}()

	if req.Kind.IsSave() && settings.EnableLdapAuthentication {
		progress.Report(sysCtx, 5, StatusLoadingBaseInfo)

		result, err := e.probe(sysCtx, dir)
		if err != nil {
			return e.classify(progress, log, err)
		}
		if result.Status != ProbeOK {
			log.Error("Directory settings check failed", zap.Stringer("status", result.Status))
			if result.Status == ProbeCertificateRequest {
				progress.SetCertificateRequest(result.Certificate)
				progress.SetError(ProbeError(result.Status))
				return outcomeCertificate
			}
			progress.SetError(ProbeError(result.Status))
			return outcomeFailed
		}
	}

	rc := &runContext{
		req:      req,
		settings: settings,
		dir:      dir,
		text:     text,
		progress: progress,
		changes:  &ChangeLog{},
		logger:   log,
	}
	if req.Kind.IsTest() {
		rc.mut = newPlanner(e.deps.Store, rc.changes)
	} else {
		rc.mut = &applier{
			tenantID: req.TenantID,
			store:    e.deps.Store,
			settings: e.deps.Settings,
			photos:   e.deps.Photos,
			bus:      e.deps.Events,
			logger:   log,
		}
	}

	return e.body(sysCtx, rc)
}

func (e *Engine) validate(ctx context.Context, in DirectorySettings, log *zap.Logger) (DirectorySettings, error) {
	_, span := e.tracer.Start(ctx, "ldapsync.Validate")
	defer span.End()

	settings, err := Validate(in, e.deps.Directory)
	if err != nil {
		var settingsErr *SettingsError
		if stderrors.As(err, &settingsErr) {
			log.Error("Directory settings rejected",
				zap.String("field", settingsErr.Field),
				zap.String("reason", settingsErr.Reason))
		} else {
			log.Error("Directory settings rejected", zap.Error(err))
		}
		span.SetStatus(codes.Error, err.Error())
		return DirectorySettings{}, err
	}
	return settings, nil
}

func (e *Engine) probe(ctx context.Context, dir DirectoryClient) (ProbeResult, error) {
	ctx, span := e.tracer.Start(ctx, "ldapsync.Probe")
	defer span.End()

	result, err := dir.Probe(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return ProbeResult{}, err
	}
	span.SetAttributes(attribute.String("ldapsync.probe_status", result.Status.String()))
	return result, nil
}

// body saves settings and runs the sync phases. It always ends at 100%.
func (e *Engine) body(ctx context.Context, rc *runContext) (outcome string) {
	outcome = outcomeSucceeded

	defer func() {
		rc.progress.Report(ctx, 99, StatusDisconnecting)
		result := ""
		if rc.req.Kind.IsTest() {
			result = rc.changes.String()
		}
		rc.progress.Finish(ctx, 100, result)
	}()

	tenant, err := e.deps.Store.GetTenant(ctx)
	if err != nil {
		return e.classify(rc.progress, rc.logger, fmt.Errorf("load tenant: %w", err))
	}
	rc.tenant = tenant

	if rc.req.Kind == Save {
		rc.progress.Report(ctx, 10, StatusSavingSettings)
		rc.settings.IsDefault = rc.settings.IsDefaultValue()
		if err := e.phase(ctx, rc, "save_settings", func(ctx context.Context) error {
			return rc.mut.saveSettings(ctx, SettingsKey, rc.settings)
		}); err != nil {
			if ctxErr(err) {
				return outcomeCancelled
			}
			rc.progress.SetError(ErrorCantSaveSettings)
			return outcomeFailed
		}
	}

	if !rc.settings.EnableLdapAuthentication {
		err = e.phase(ctx, rc, "turn_off", func(ctx context.Context) error {
			return e.turnOff(ctx, rc)
		})
	} else {
		err = e.syncDirectory(ctx, rc)
	}
	if err != nil {
		return e.classify(rc.progress, rc.logger, err)
	}
	if rc.progress.Failed() {
		return outcomeFailed
	}
	return outcomeSucceeded
}

// syncDirectory runs the enabled path: users and groups, then avatars, then rights
func (e *Engine) syncDirectory(ctx context.Context, rc *runContext) error {
	if err := e.updateCurrentDomain(ctx, rc); err != nil {
		return err
	}

	var (
		users []DirectoryUser
		err   error
	)
	if rc.settings.GroupMembership {
		err = e.phase(ctx, rc, "grouped_sync", func(ctx context.Context) error {
			users, err = e.syncGrouped(ctx, rc)
			return err
		})
	} else {
		err = e.phase(ctx, rc, "flat_sync", func(ctx context.Context) error {
			users, err = e.syncFlat(ctx, rc)
			return err
		})
	}
	if err != nil || rc.progress.Failed() {
		return err
	}

	if err := e.phase(ctx, rc, "avatars", func(ctx context.Context) error {
		return e.syncAvatars(ctx, rc, users)
	}); err != nil {
		return err
	}

	return e.phase(ctx, rc, "access_rights", func(ctx context.Context) error {
		return e.syncAccessRights(ctx, rc)
	})
}

func (e *Engine) updateCurrentDomain(ctx context.Context, rc *runContext) error {
	var current CurrentDomain
	if _, err := e.deps.Settings.LoadSettings(ctx, CurrentDomainKey, &current); err != nil {
		return fmt.Errorf("load current domain: %w", err)
	}
	domain := rc.dir.Domain()
	if domain == "" || current.Domain == domain {
		return nil
	}
	rc.logger.Info("Directory domain changed", zap.String("from", current.Domain), zap.String("to", domain))
	return rc.mut.saveSettings(ctx, CurrentDomainKey, CurrentDomain{Domain: domain})
}

// phase runs fn inside a span and a timer
func (e *Engine) phase(ctx context.Context, rc *runContext, name string, fn func(ctx context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "ldapsync."+name)
	defer span.End()
	timer := logger.StartTimer(rc.logger, name)

	err := fn(ctx)
	timer.Stop(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// classify maps a failure to the user-facing error of the run
func (e *Engine) classify(progress *reporter, log *zap.Logger, err error) string {
	var certErr *CertificateRequestError
	switch {
	case stderrors.As(err, &certErr):
		log.Warn("Directory certificate requires confirmation", zap.Error(err))
		progress.SetCertificateRequest(certErr.Request)
		progress.SetError(StatusCertificateVerification)
		return outcomeCertificate
	case ctxErr(err):
		log.Info("Directory run cancelled", zap.Error(err))
		return outcomeCancelled
	case apperrors.IsErrorCode(err, apperrors.ErrForbidden):
		log.Error("Access denied", zap.Error(err))
		progress.SetError(ErrorAccessDenied)
	case apperrors.IsErrorCode(err, apperrors.ErrQuotaExceeded):
		log.Error("Tenant quota exceeded", zap.Error(err))
		progress.SetError(ErrorTenantQuota)
	case apperrors.IsErrorCode(err, apperrors.ErrMalformedData):
		log.Error("Directory data has an invalid format", zap.Error(err))
		progress.SetError(ErrorCantCreateUsers)
	default:
		log.Error("Directory run failed", zap.Error(err))
		progress.SetError(ErrorInternalServer)
	}
	return outcomeFailed
}

func ctxErr(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}

// LoadSettings reads the persisted settings of a tenant under a system session
func (e *Engine) LoadSettings(ctx context.Context, tenantID int) (*DirectorySettings, error) {
	sysCtx, err := e.deps.Principal.AuthenticateSystem(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := e.deps.Principal.Logout(context.WithoutCancel(sysCtx)); err != nil {
			e.logger.Warn("Failed to end system session", zap.Error(err))
		}
	}()

	var settings DirectorySettings
	found, err := e.deps.Settings.LoadSettings(sysCtx, SettingsKey, &settings)
	if err != nil {
		return nil, fmt.Errorf("load directory settings: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &settings, nil
}

// SaveSchedule stores the auto-sync schedule of a tenant. An empty Cron
// disables scheduled runs.
func (e *Engine) SaveSchedule(ctx context.Context, tenantID int, schedule CronSettings) error {
	if schedule.Cron != "" {
		if err := ValidateCron(schedule.Cron); err != nil {
			return apperrors.ValidationError(fmt.Sprintf("invalid cron expression %q: %v", schedule.Cron, err))
		}
	}
	sysCtx, err := e.deps.Principal.AuthenticateSystem(ctx, tenantID)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.deps.Principal.Logout(context.WithoutCancel(sysCtx)); err != nil {
			e.logger.Warn("Failed to end system session", zap.Error(err))
		}
	}()
	return e.deps.Settings.SaveSettings(sysCtx, CronSettingsKey, schedule)
}
