package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	apperrors "github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/errors"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

type fakeRuns struct {
	mu        sync.Mutex
	submitted []ldapsync.Request
	busy      bool
	running   map[int]bool
	schedules map[int]string
	reloads   int
}

func (f *fakeRuns) Submit(req ldapsync.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return "", ldapsync.ErrRunInProgress
	}
	f.submitted = append(f.submitted, req)
	return "task-1", nil
}

func (f *fakeRuns) Cancel(tenantID int) bool {
	return f.running[tenantID]
}

func (f *fakeRuns) Scheduled(tenantID int) (string, bool) {
	spec, ok := f.schedules[tenantID]
	return spec, ok
}

func (f *fakeRuns) Reload(context.Context) error {
	f.reloads++
	return nil
}

type fakeSettings struct {
	stored  map[int]*ldapsync.DirectorySettings
	saved   map[int]ldapsync.CronSettings
	loadErr error
	saveErr error
}

func (f *fakeSettings) LoadSettings(_ context.Context, tenantID int) (*ldapsync.DirectorySettings, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.stored[tenantID], nil
}

func (f *fakeSettings) SaveSchedule(_ context.Context, tenantID int, schedule ldapsync.CronSettings) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved[tenantID] = schedule
	return nil
}

type fakeProgress map[int]ldapsync.TaskInfo

func (f fakeProgress) Get(_ context.Context, tenantID int) (ldapsync.TaskInfo, bool, error) {
	info, ok := f[tenantID]
	return info, ok, nil
}

type fakeLanguages map[int]string

func (f fakeLanguages) TenantLanguage(_ context.Context, tenantID int) (string, error) {
	return f[tenantID], nil
}

type apiHarness struct {
	runs     *fakeRuns
	settings *fakeSettings
	router   *gin.Engine
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	stored := ldapsync.DefaultSettings()
	stored.EnableLdapAuthentication = true
	stored.Server = "ldap.example.com"
	stored.Password = "secret"
	stored.PasswordBytes = []byte{1, 2, 3}

	h := &apiHarness{
		runs: &fakeRuns{running: map[int]bool{3: true}, schedules: map[int]string{}},
		settings: &fakeSettings{
			stored: map[int]*ldapsync.DirectorySettings{1: &stored},
			saved:  map[int]ldapsync.CronSettings{},
		},
		router: gin.New(),
	}
	progress := fakeProgress{1: {ID: "task-0", TenantID: 1, Progress: 40}}
	NewHandler(h.runs, h.settings, progress, fakeLanguages{1: "ru-RU"}, "en", zaptest.NewLogger(t)).
		RegisterRoutes(h.router)
	return h
}

func (h *apiHarness) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func TestStartRun_SyncUsesPersistedSettings(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(http.MethodPost, "/api/v1/tenants/1/ldap/runs", map[string]interface{}{
		"kind":    "Sync",
		"user_id": "7f0d1c1e-8f4b-4a51-9a43-5b7c2a3e9d10",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"task_id":"task-1"`)
	assert.Contains(t, w.Body.String(), `"operation_type":"Sync"`)

	require.Len(t, h.runs.submitted, 1)
	req := h.runs.submitted[0]
	assert.Equal(t, 1, req.TenantID)
	assert.Equal(t, ldapsync.Sync, req.Kind)
	assert.Equal(t, "ldap.example.com", req.Settings.Server)
	assert.Equal(t, "ru-RU", req.Language, "falls back to the tenant language")
}

func TestStartRun_SaveNeedsSettings(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(http.MethodPost, "/api/v1/tenants/2/ldap/runs", map[string]interface{}{"kind": "SaveTest"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	settings := ldapsync.DefaultSettings()
	settings.Server = "ldap.other.org"
	w = h.do(http.MethodPost, "/api/v1/tenants/2/ldap/runs", map[string]interface{}{
		"kind":     "SaveTest",
		"language": "de",
		"settings": settings,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	req := h.runs.submitted[0]
	assert.Equal(t, "ldap.other.org", req.Settings.Server)
	assert.Equal(t, "de", req.Language)
}

func TestStartRun_DefaultLanguage(t *testing.T) {
	h := newAPIHarness(t)
	w := h.do(http.MethodPost, "/api/v1/tenants/9/ldap/runs", map[string]interface{}{"kind": "SyncTest"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "en", h.runs.submitted[0].Language)
	assert.Nil(t, h.runs.submitted[0].Settings, "the engine reports missing settings itself")
}

func TestStartRun_Rejections(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name string
		path string
		body interface{}
		want int
	}{
		{"bad tenant", "/api/v1/tenants/abc/ldap/runs", map[string]interface{}{"kind": "Sync"}, http.StatusBadRequest},
		{"unknown kind", "/api/v1/tenants/1/ldap/runs", map[string]interface{}{"kind": "Purge"}, http.StatusBadRequest},
		{"bad user id", "/api/v1/tenants/1/ldap/runs", map[string]interface{}{"kind": "Sync", "user_id": "bob"}, http.StatusBadRequest},
		{"malformed json", "/api/v1/tenants/1/ldap/runs", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.do(http.MethodPost, tt.path, tt.body).Code)
		})
	}
	assert.Empty(t, h.runs.submitted)
}

func TestStartRun_Busy(t *testing.T) {
	h := newAPIHarness(t)
	h.runs.busy = true
	w := h.do(http.MethodPost, "/api/v1/tenants/1/ldap/runs", map[string]interface{}{"kind": "Sync"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStartRun_SettingsFailure(t *testing.T) {
	h := newAPIHarness(t)

	h.settings.loadErr = apperrors.Forbidden("tenant 1 does not exist")
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/api/v1/tenants/1/ldap/runs", map[string]interface{}{"kind": "Sync"}).Code)

	h.settings.loadErr = errors.New("connection reset")
	w := h.do(http.MethodPost, "/api/v1/tenants/1/ldap/runs", map[string]interface{}{"kind": "Sync"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection reset")
}

func TestCancelRun(t *testing.T) {
	h := newAPIHarness(t)
	assert.Equal(t, http.StatusAccepted, h.do(http.MethodDelete, "/api/v1/tenants/3/ldap/runs/current", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, "/api/v1/tenants/1/ldap/runs/current", nil).Code)
}

func TestStatus(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(http.MethodGet, "/api/v1/tenants/1/ldap/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info ldapsync.TaskInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, 40, info.Progress)
	assert.Equal(t, "1.0", w.Header().Get(HeaderAPIVersion))

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/tenants/2/ldap/status", nil).Code)
}

func TestGetSettingsRedactsSecrets(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(http.MethodGet, "/api/v1/tenants/1/ldap/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ldap.example.com")
	assert.NotContains(t, w.Body.String(), "secret")
	assert.NotContains(t, w.Body.String(), "password_bytes")
	assert.Equal(t, "secret", h.settings.stored[1].Password, "the stored copy is untouched")

	w = h.do(http.MethodGet, "/api/v1/tenants/5/ldap/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var defaults ldapsync.DirectorySettings
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &defaults))
	assert.True(t, defaults.IsDefault)
	assert.Equal(t, "uid", defaults.LoginAttribute)
}

func TestSchedule(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(http.MethodGet, "/api/v1/tenants/1/ldap/schedule", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cron":"","active":false}`, w.Body.String())

	h.runs.schedules[1] = "@daily"
	w = h.do(http.MethodPut, "/api/v1/tenants/1/ldap/schedule", map[string]string{"cron": "@daily"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cron":"@daily","active":true}`, w.Body.String())
	assert.Equal(t, "@daily", h.settings.saved[1].Cron)
	assert.Equal(t, 1, h.runs.reloads)

	h.settings.saveErr = apperrors.ValidationError("invalid cron expression")
	w = h.do(http.MethodPut, "/api/v1/tenants/1/ldap/schedule", map[string]string{"cron": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 1, h.runs.reloads)
}
