package aiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"nlu-agent/model"
)

func TestClassify_Success(t *testing.T) {
	var got classifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"intent": "weather_query",
			"confidence": 0.87,
			"slots": {"place_name": "Berlin"},
			"entities": [{"type": "place_name", "value": "Berlin"}],
			"candidates": [{"intent": "weather_query", "confidence": 0.87}]
		}`))
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL}, nil)
	hint := &model.ContextHint{CurrentIntent: "weather_query", AwaitingSlot: "location"}

	cls := c.Classify(context.Background(), "Berlin please", hint)

	assert.Equal(t, "weather_query", cls.Intent)
	assert.InDelta(t, 0.87, cls.Confidence, 1e-9)
	assert.Equal(t, "Berlin", cls.Slots["place_name"])
	assert.False(t, cls.NeedsClarification)
	assert.Len(t, cls.Entities, 1)
	assert.Len(t, cls.Candidates, 1)

	assert.Equal(t, "Berlin please", got.Text)
	require.NotNil(t, got.Context)
	assert.Equal(t, "location", got.Context.AwaitingSlot)
}

func TestClassify_ThresholdAndClamp(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		threshold float64
		wantConf  float64
		wantClar  bool
		wantInt   string
	}{
		{"below default threshold", `{"intent": "play_radio", "confidence": 0.3}`, 0, 0.3, true, "play_radio"},
		{"custom threshold", `{"intent": "play_radio", "confidence": 0.6}`, 0.7, 0.6, true, "play_radio"},
		{"clamped high", `{"intent": "play_radio", "confidence": 1.7}`, 0, 1, false, "play_radio"},
		{"clamped low", `{"intent": "play_radio", "confidence": -2}`, 0, 0, true, "play_radio"},
		{"null intent", `{"intent": null, "confidence": 0.9, "slots": null}`, 0, 0.9, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			cls := NewClient(Config{URL: srv.URL, ConfidenceThreshold: tt.threshold}, nil).Classify(context.Background(), "x", nil)

			assert.Equal(t, tt.wantInt, cls.Intent)
			assert.InDelta(t, tt.wantConf, cls.Confidence, 1e-9)
			assert.Equal(t, tt.wantClar, cls.NeedsClarification)
			assert.NotNil(t, cls.Slots)
		})
	}
}

func TestClassify_Degrades(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer garbage.Close()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"timeout", Config{URL: slow.URL, Timeout: 50 * time.Millisecond}},
		{"server error", Config{URL: failing.URL}},
		{"bad body", Config{URL: garbage.URL}},
		{"no url", Config{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)

			cls := NewClient(tt.cfg, zap.New(core)).Classify(context.Background(), "hello", nil)

			assert.Equal(t, model.DegradedClassification(), cls)
			assert.Equal(t, 1, logs.Len())
		})
	}
}
