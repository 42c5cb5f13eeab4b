package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Logging(logger), Recovery(logger))
	r.GET("/api/v1/tenants/:tenant/ldap/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"gin": GetRequestID(c),
			"ctx": RequestIDFromContext(c.Request.Context()),
		})
	})
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { panic("bind password leaked") })
	return r
}

func TestRequestID_Generated(t *testing.T) {
	r := newRouter(zap.NewNop())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tenants/1/ldap/status", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, w.Header().Get(HeaderXRequestID), 36)
}

func TestRequestID_Propagated(t *testing.T) {
	r := newRouter(zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants/1/ldap/status", nil)
	req.Header.Set(HeaderXRequestID, "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get(HeaderXRequestID))
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "req-42", body["gin"])
	assert.Equal(t, "req-42", body["ctx"])
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := newRouter(zap.New(core))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants/7/ldap/status", nil)
	req.Header.Set(HeaderXRequestID, "req-7")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	entries := logs.FilterMessage("HTTP request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "7", fields["tenant"])
	assert.Equal(t, "req-7", fields["request_id"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])
	assert.Equal(t, "/api/v1/tenants/:tenant/ldap/status", fields["route"])
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := newRouter(zap.New(core))

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(HeaderXRequestID, "req-9")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "internal server error", resp.Error)
	assert.Equal(t, "req-9", resp.CorrelationID)
	assert.NotContains(t, w.Body.String(), "bind password")

	assert.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
	assert.Equal(t, zapcore.ErrorLevel, logs.FilterMessage("HTTP request").All()[0].Level)
}
