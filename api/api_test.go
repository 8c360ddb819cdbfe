package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"nlu-agent/model"
	"nlu-agent/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type tableClassifier map[string]model.ClassificationResult

func (c tableClassifier) Classify(ctx context.Context, text string, hint *model.ContextHint) model.ClassificationResult {
	if r, ok := c[text]; ok {
		return r
	}
	return model.DegradedClassification()
}

func newChatService() *service.ChatService {
	reply := func(text string) service.HandlerFunc {
		return func(ctx context.Context, req model.HandlerRequest) (*model.HandlerResult, error) {
			return &model.HandlerResult{ResponseText: text}, nil
		}
	}
	return service.NewChatService(service.ChatServiceConfig{
		Classifier: tableClassifier{
			"weather": {Intent: "weather_query", Confidence: 0.9, Slots: map[string]any{}},
		},
		Handlers: service.HandlerRegistry{
			model.CategoryWeather: reply("Sunny."),
			model.CategoryGeneral: reply("Hi!"),
		},
	})
}

func newRouter(chatSvc *service.ChatService, deps map[string]Pinger) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(nil), RequestLogger(nil))
	store := chatSvc.Store()
	r.GET("/health", HealthHandler(store, deps))
	r.POST("/api/nlu/process", ProcessHandler(chatSvc))
	r.GET("/api/sessions/:id", GetSessionHandler(store))
	r.POST("/api/sessions/:id/reset", ResetSessionHandler(store))
	r.DELETE("/api/sessions/:id", DeleteSessionHandler(store))
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestProcessHandler(t *testing.T) {
	r := newRouter(newChatService(), nil)

	rec := do(r, http.MethodPost, "/api/nlu/process", `{"text": "weather", "user_id": "u1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "awaiting_info", body["state"])
	assert.Equal(t, true, body["needs_more_info"])
	assert.Equal(t, "What city would you like the weather for?", body["follow_up_question"])
	assert.Equal(t, "weather", body["ui_mode"])
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = do(r, http.MethodPost, "/api/nlu/process", `{"text": "Lisbon", "user_id": "u1"}`)
	body = decode[map[string]any](t, rec)
	assert.Equal(t, "completed", body["state"])
	assert.Equal(t, "Sunny.", body["response"])
	assert.Equal(t, map[string]any{"location": "Lisbon"}, body["slots"])
}

func TestProcessHandler_ErrorsStay200(t *testing.T) {
	r := newRouter(newChatService(), nil)

	rec := do(r, http.MethodPost, "/api/nlu/process", `{"text": "   "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "error", body["state"])
	assert.Equal(t, service.EmptyInputMessage, body["response"])

	rec = do(r, http.MethodPost, "/api/nlu/process", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessHandler_AnonymousUser(t *testing.T) {
	chatSvc := newChatService()
	r := newRouter(chatSvc, nil)

	do(r, http.MethodPost, "/api/nlu/process", `{"text": "hello"}`)

	_, found, err := chatSvc.Store().Lookup(context.Background(), "anonymous")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSessionHandlers(t *testing.T) {
	r := newRouter(newChatService(), nil)

	rec := do(r, http.MethodGet, "/api/sessions/u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decode[SessionResponse](t, rec).Success)

	do(r, http.MethodPost, "/api/nlu/process", `{"text": "weather", "user_id": "u1"}`)

	rec = do(r, http.MethodGet, "/api/sessions/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SessionResponse](t, rec)
	require.NotNil(t, resp.Data)
	assert.Equal(t, "weather_query", resp.Data.CurrentIntent)
	assert.Equal(t, model.StateCollecting, resp.Data.State)
	assert.Equal(t, "location", resp.Data.AwaitingSlot)
	assert.Len(t, resp.Data.History, 2)

	rec = do(r, http.MethodPost, "/api/sessions/u1/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[SessionResponse](t, do(r, http.MethodGet, "/api/sessions/u1", ""))
	assert.Empty(t, resp.Data.CurrentIntent)
	assert.Len(t, resp.Data.History, 2)

	rec = do(r, http.MethodDelete, "/api/sessions/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/sessions/u1", "").Code)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	chatSvc := newChatService()
	r := newRouter(chatSvc, map[string]Pinger{
		"redis": pingerFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	})
	do(r, http.MethodPost, "/api/nlu/process", `{"text": "hi", "user_id": "u1"}`)

	rec := do(r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(1), body["sessions"])
	assert.Equal(t, "connection refused", body["redis"])
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r := gin.New()
	r.Use(RequestLogger(zap.New(core)))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "HTTP request", entry.Message)
	assert.Equal(t, int64(http.StatusNoContent), entry.ContextMap()["status"])
	assert.Equal(t, "req-42", entry.ContextMap()["request_id"])
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	r := gin.New()
	r.Use(Recovery(zap.New(core)))
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	rec := do(r, http.MethodGet, "/boom", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, logs.Len())
}
