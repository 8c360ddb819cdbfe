package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, 0.5, cfg.Classifier.ConfidenceThreshold)
	assert.Equal(t, 1800*time.Second, cfg.Dialogue.ContextExpiry)
	assert.Equal(t, 5, cfg.Dialogue.ShortAnswerMaxTokens)
	assert.Equal(t, 3, cfg.Dialogue.MaxHandlerFailures)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "qwen/qwen3-32b", cfg.LLM.Model)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:4321", "http://localhost:5173"}, cfg.Server.AllowedOrigins())
}

func TestLoad_FileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9000"
classifier:
  url: "http://classifier:8001/classify"
  confidence_threshold: 0.6
dialogue:
  context_expiry: 10m
redis:
  enabled: true
  addr: "redis:6379"
`), 0o644))

	t.Setenv("PORT", "9100")
	t.Setenv("GROQ_API_KEY", "gsk_test")
	t.Setenv("REDIS_PASSWORD", "hunter2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, "http://classifier:8001/classify", cfg.Classifier.URL)
	assert.Equal(t, 0.6, cfg.Classifier.ConfidenceThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Dialogue.ContextExpiry)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "hunter2", cfg.Redis.Password)
	assert.Equal(t, "gsk_test", cfg.LLM.APIKey)
}

func TestLoad_MissingFileFallsBackToEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CLASSIFIER_URL", "http://localhost:8001/classify")

	cfg, err := Load("does-not-exist.yaml")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8001/classify", cfg.Classifier.URL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"threshold above one", map[string]string{"CONFIDENCE_THRESHOLD": "1.5"}},
		{"zero expiry", map[string]string{"CONTEXT_EXPIRY": "0s"}},
		{"zero threshold", map[string]string{"CONFIDENCE_THRESHOLD": "0"}},
		{"negative short answer", map[string]string{"SHORT_ANSWER_MAX_TOKENS": "-1"}},
		{"zero short answer", map[string]string{"SHORT_ANSWER_MAX_TOKENS": "0"}},
		{"no failures allowed", map[string]string{"MAX_HANDLER_FAILURES": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	s := ServerConfig{CORSOrigins: " https://a.example , ,https://b.example"}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, s.AllowedOrigins())
	assert.Empty(t, ServerConfig{}.AllowedOrigins())
}
