package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/errors"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/validation"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

// Runs starts, cancels and schedules directory runs; *ldapsync.Scheduler
// implements it
type Runs interface {
	Submit(req ldapsync.Request) (string, error)
	Cancel(tenantID int) bool
	Scheduled(tenantID int) (string, bool)
	Reload(ctx context.Context) error
}

// Settings reads and writes persisted tenant settings; *ldapsync.Engine
// implements it
type Settings interface {
	LoadSettings(ctx context.Context, tenantID int) (*ldapsync.DirectorySettings, error)
	SaveSchedule(ctx context.Context, tenantID int, schedule ldapsync.CronSettings) error
}

// Progress reads the latest run snapshot of a tenant
type Progress interface {
	Get(ctx context.Context, tenantID int) (ldapsync.TaskInfo, bool, error)
}

// Languages resolves a tenant's default message language
type Languages interface {
	TenantLanguage(ctx context.Context, tenantID int) (string, error)
}

// Handler serves the run control endpoints
type Handler struct {
	runs            Runs
	settings        Settings
	progress        Progress
	languages       Languages
	defaultLanguage string
	logger          *zap.Logger
}

// NewHandler creates the handler. languages may be nil.
func NewHandler(runs Runs, settings Settings, progress Progress, languages Languages, defaultLanguage string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		runs:            runs,
		settings:        settings,
		progress:        progress,
		languages:       languages,
		defaultLanguage: defaultLanguage,
		logger:          logger.With(zap.String("component", "api")),
	}
}

// RegisterRoutes mounts the v1 API on router. runGuards run in front of
// run submission only.
func (h *Handler) RegisterRoutes(router gin.IRouter, runGuards ...gin.HandlerFunc) {
	v1 := router.Group("/api/v1/tenants/:tenant/ldap")
	v1.Use(VersionMiddleware("1.0", []string{"1.0"}))
	{
		v1.POST("/runs", append(runGuards, h.handleStartRun)...)
		v1.DELETE("/runs/current", h.handleCancelRun)
		v1.GET("/status", h.handleStatus)
		v1.GET("/settings", h.handleGetSettings)
		v1.GET("/schedule", h.handleGetSchedule)
		v1.PUT("/schedule", h.handlePutSchedule)
	}
}

type runRequest struct {
	Kind     string                      `json:"kind" validate:"required,oneof=Save SaveTest Sync SyncTest"`
	UserID   string                      `json:"user_id" validate:"omitempty,uuid"`
	Language string                      `json:"language" validate:"omitempty,bcp47_language_tag"`
	Settings *ldapsync.DirectorySettings `json:"settings"`
}

type scheduleRequest struct {
	Cron string `json:"cron"`
}

func tenantParam(c *gin.Context) (int, bool) {
	tenantID, err := strconv.Atoi(c.Param("tenant"))
	if err != nil || tenantID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
		return 0, false
	}
	return tenantID, true
}

func (h *Handler) handleStartRun(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}
	var body runRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.Struct(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind, err := ldapsync.ParseOperationKind(body.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	settings := body.Settings
	switch {
	case kind.IsSave() && settings == nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "settings are required for " + kind.String()})
		return
	case !kind.IsSave():
		// Sync kinds always use the persisted settings
		settings, err = h.settings.LoadSettings(ctx, tenantID)
		if err != nil {
			h.writeError(c, err)
			return
		}
	}

	taskID, err := h.runs.Submit(ldapsync.Request{
		TenantID:       tenantID,
		Settings:       settings,
		Kind:           kind,
		InvokingUserID: body.UserID,
		Language:       h.language(ctx, tenantID, body.Language),
	})
	if stderrors.Is(err, ldapsync.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.logger.Info("Directory run submitted",
		zap.Int("tenant_id", tenantID),
		zap.String("task_id", taskID),
		zap.String("operation", kind.String()))
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID, "operation_type": kind})
}

func (h *Handler) language(ctx context.Context, tenantID int, requested string) string {
	if requested != "" {
		return requested
	}
	if h.languages != nil {
		lang, err := h.languages.TenantLanguage(ctx, tenantID)
		if err != nil {
			h.logger.Warn("Failed to resolve tenant language", zap.Int("tenant_id", tenantID), zap.Error(err))
		} else if lang != "" {
			return lang
		}
	}
	return h.defaultLanguage
}

func (h *Handler) handleCancelRun(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}
	if !h.runs.Cancel(tenantID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run in progress"})
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) handleStatus(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}
	info, found, err := h.progress.Get(c.Request.Context(), tenantID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run recorded"})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) handleGetSettings(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}
	settings, err := h.settings.LoadSettings(c.Request.Context(), tenantID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if settings == nil {
		defaults := ldapsync.DefaultSettings()
		defaults.IsDefault = true
		settings = &defaults
	}
	// Stored secrets never leave the worker
	redacted := *settings
	redacted.Password = ""
	redacted.PasswordBytes = nil
	c.JSON(http.StatusOK, redacted)
}

func (h *Handler) handleGetSchedule(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}
	spec, active := h.runs.Scheduled(tenantID)
	c.JSON(http.StatusOK, gin.H{"cron": spec, "active": active})
}

func (h *Handler) handlePutSchedule(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}
	var body scheduleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if err := h.settings.SaveSchedule(ctx, tenantID, ldapsync.CronSettings{Cron: body.Cron}); err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.runs.Reload(ctx); err != nil {
		h.logger.Warn("Failed to reload schedules", zap.Error(err))
	}
	spec, active := h.runs.Scheduled(tenantID)
	c.JSON(http.StatusOK, gin.H{"cron": spec, "active": active})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperrors.CodeOf(err) {
	case apperrors.ErrValidation, apperrors.ErrMalformedData:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrForbidden:
		status = http.StatusForbidden
	case apperrors.ErrConflict:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
