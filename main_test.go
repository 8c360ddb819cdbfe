package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nlu-agent/internal/config"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("CLASSIFIER_URL", "")
	t.Setenv("GIN_MODE", "test")

	cfg, err := config.Load("")
	require.NoError(t, err)

	a, err := buildApp(cfg, zap.NewNop())
	require.NoError(t, err)
	return newHTTPHandler(cfg, a, zap.NewNop())
}

func TestServer_CORSPreflight(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/nlu/process", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/nlu/process", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_ProcessWithoutUpstreams(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/nlu/process", strings.NewReader(`{"text": "hello", "user_id": "u1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"completed"`)
	assert.Contains(t, rec.Body.String(), "I'm VCNI")
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	_, err = newLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
