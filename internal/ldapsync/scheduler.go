package ldapsync

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned by Trigger while the tenant has an active run
var ErrRunInProgress = stderrors.New("directory run already in progress for tenant")

// Runner executes runs; *Engine implements it
type Runner interface {
	Run(ctx context.Context, req Request) TaskInfo
	LoadSettings(ctx context.Context, tenantID int) (*DirectorySettings, error)
}

// ScheduleSource lists the auto-sync schedules of all tenants, keyed by tenant ID
type ScheduleSource interface {
	CronSchedules(ctx context.Context) (map[int]CronSettings, error)
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCron checks a schedule expression; seconds are optional
func ValidateCron(spec string) error {
	_, err := cronParser.Parse(spec)
	return err
}

type scheduleEntry struct {
	spec string
	id   cron.EntryID
}

// Scheduler runs Sync on each tenant's cron schedule and serializes runs per tenant
type Scheduler struct {
	runner     Runner
	source     ScheduleSource
	refresh    time.Duration
	runTimeout time.Duration
	logger     *zap.Logger

	cron *cron.Cron
	ctx  context.Context

	mu      sync.Mutex
	entries map[int]scheduleEntry
	running map[int]context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. Schedules are reloaded every refresh;
// zero disables periodic reloads.
func NewScheduler(runner Runner, source ScheduleSource, refresh time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:  runner,
		source:  source,
		refresh: refresh,
		logger:  logger.With(zap.String("component", "ldapsync-scheduler")),
		cron:    cron.New(cron.WithParser(cronParser)),
		ctx:     context.Background(),
		entries: make(map[int]scheduleEntry),
		running: make(map[int]context.CancelFunc),
	}
}

// SetRunTimeout bounds every run started by the scheduler; zero means no limit
func (s *Scheduler) SetRunTimeout(d time.Duration) {
	s.runTimeout = d
}

// Bind makes ctx the parent of every run started in the background.
// Start calls it; call it directly when cron scheduling is off.
func (s *Scheduler) Bind(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
}

// Start loads the schedules and starts the cron loop. Scheduled runs use ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.Bind(ctx)
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.cron.Start()

	if s.refresh > 0 {
		go s.refreshLoop(ctx)
	}
	s.logger.Info("Directory sync scheduler started", zap.Duration("refresh", s.refresh))
	return nil
}

// Stop stops scheduling and waits for active runs to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("Directory sync scheduler stopped")
}

func (s *Scheduler) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reload(ctx); err != nil {
				s.logger.Warn("Failed to reload sync schedules", zap.Error(err))
			}
		}
	}
}

// Reload applies added, changed and removed tenant schedules
func (s *Scheduler) Reload(ctx context.Context) error {
	schedules, err := s.source.CronSchedules(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for tenantID, entry := range s.entries {
		if cs, ok := schedules[tenantID]; ok && cs.Cron == entry.spec {
			continue
		}
		s.cron.Remove(entry.id)
		delete(s.entries, tenantID)
		s.logger.Info("Removed sync schedule", zap.Int("tenant_id", tenantID))
	}

	for tenantID, cs := range schedules {
		if cs.Cron == "" {
			continue
		}
		if _, ok := s.entries[tenantID]; ok {
			continue
		}
		tenantID := tenantID
		id, err := s.cron.AddFunc(cs.Cron, func() { s.runScheduled(tenantID) })
		if err != nil {
			s.logger.Warn("Invalid sync schedule",
				zap.Int("tenant_id", tenantID),
				zap.String("cron", cs.Cron),
				zap.Error(err))
			continue
		}
		s.entries[tenantID] = scheduleEntry{spec: cs.Cron, id: id}
		s.logger.Info("Scheduled directory sync", zap.Int("tenant_id", tenantID), zap.String("cron", cs.Cron))
	}
	return nil
}

// Scheduled reports the cron expression registered for a tenant
func (s *Scheduler) Scheduled(tenantID int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[tenantID]
	return entry.spec, ok
}

func (s *Scheduler) runScheduled(tenantID int) {
	log := s.logger.With(zap.Int("tenant_id", tenantID))

	settings, err := s.runner.LoadSettings(s.parent(), tenantID)
	if err != nil {
		log.Error("Failed to load directory settings for scheduled sync", zap.Error(err))
		return
	}
	if settings == nil || !settings.EnableLdapAuthentication {
		log.Debug("Directory sync disabled, skipping scheduled run")
		return
	}

	info, err := s.Trigger(s.parent(), Request{TenantID: tenantID, Settings: settings, Kind: Sync})
	if err != nil {
		log.Info("Skipping scheduled sync", zap.Error(err))
		return
	}
	if info.Error != "" {
		log.Warn("Scheduled sync failed", zap.String("error", info.Error))
	}
}

// Trigger runs req now unless the tenant already has a run in progress
func (s *Scheduler) Trigger(ctx context.Context, req Request) (TaskInfo, error) {
	ctx, cancel := s.runContext(ctx)
	defer cancel()
	if !s.acquire(req.TenantID, cancel) {
		return TaskInfo{}, ErrRunInProgress
	}
	defer s.release(req.TenantID)

	return s.runner.Run(ctx, req), nil
}

// Submit starts req in the background under the scheduler's context and
// returns its task ID
func (s *Scheduler) Submit(req Request) (string, error) {
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}
	ctx, cancel := s.runContext(s.parent())
	if !s.acquire(req.TenantID, cancel) {
		cancel()
		return "", ErrRunInProgress
	}
	go func() {
		defer cancel()
		defer s.release(req.TenantID)
		s.runner.Run(ctx, req)
	}()
	return req.TaskID, nil
}

// Cancel stops the active run of a tenant. It reports whether one was running.
func (s *Scheduler) Cancel(tenantID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.running[tenantID]
	if ok {
		cancel()
	}
	return ok
}

func (s *Scheduler) parent() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.runTimeout > 0 {
		return context.WithTimeout(ctx, s.runTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Scheduler) acquire(tenantID int, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[tenantID]; busy {
		return false
	}
	s.running[tenantID] = cancel
	s.wg.Add(1)
	return true
}

func (s *Scheduler) release(tenantID int) {
	s.mu.Lock()
	delete(s.running, tenantID)
	s.mu.Unlock()
	s.wg.Done()
}
