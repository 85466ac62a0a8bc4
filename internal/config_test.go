package internal

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENV", "PORT", "LOG_LEVEL", "DATABASE_URL",
		"STORE_BACKEND", "COUNTER_STORE", "REDIS_URL",
		"CATALOG_SOURCE", "CATALOG_PATH", "CATALOG_KEY",
		"R2_ACCOUNT_ID", "R2_ACCESS_KEY_ID", "R2_SECRET_ACCESS_KEY", "R2_BUCKET_NAME", "R2_ENDPOINT",
		"PROMPT_COOLDOWN", "PROMPT_PENDING_TTL", "PROMPT_RETENTION", "PROMPT_DEFAULT_SNOOZE",
		"QUOTA_WARNING_THRESHOLD", "QUOTA_CRITICAL_THRESHOLD",
		"RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW",
	} {
		t.Setenv(key, "")
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/sitegate")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, "postgres", cfg.CounterStore, "counters follow the store backend")
	assert.Equal(t, "embedded", cfg.CatalogSource)
	assert.Equal(t, 72*time.Hour, cfg.PromptCooldown)
	assert.Equal(t, 24*time.Hour, cfg.PromptPendingTTL)
	assert.Equal(t, 2160*time.Hour, cfg.PromptRetention)
	assert.Equal(t, 75.0, cfg.QuotaWarningThreshold)
	assert.Equal(t, 90.0, cfg.QuotaCriticalThreshold)
}

func TestNewConfig_MemoryNeedsNoDatabase(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("STORE_BACKEND", "memory")

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.False(t, cfg.UsesPostgres())
	assert.Equal(t, "memory", cfg.CounterStore)
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "postgres without database url",
			env:     map[string]string{},
			wantErr: "DATABASE_URL",
		},
		{
			name:    "unknown store backend",
			env:     map[string]string{"STORE_BACKEND": "sqlite"},
			wantErr: "STORE_BACKEND",
		},
		{
			name:    "redis counters without url",
			env:     map[string]string{"STORE_BACKEND": "memory", "COUNTER_STORE": "redis"},
			wantErr: "REDIS_URL",
		},
		{
			name:    "r2 catalog without bucket",
			env:     map[string]string{"STORE_BACKEND": "memory", "CATALOG_SOURCE": "r2", "R2_ACCOUNT_ID": "a", "R2_ACCESS_KEY_ID": "k", "R2_SECRET_ACCESS_KEY": "s"},
			wantErr: "R2_BUCKET_NAME",
		},
		{
			name:    "unknown catalog source",
			env:     map[string]string{"STORE_BACKEND": "memory", "CATALOG_SOURCE": "ftp"},
			wantErr: "CATALOG_SOURCE",
		},
		{
			name:    "inverted thresholds",
			env:     map[string]string{"STORE_BACKEND": "memory", "QUOTA_WARNING_THRESHOLD": "95", "QUOTA_CRITICAL_THRESHOLD": "80"},
			wantErr: "thresholds",
		},
		{
			name:    "negative cooldown",
			env:     map[string]string{"STORE_BACKEND": "memory", "PROMPT_COOLDOWN": "-1h"},
			wantErr: "PROMPT_COOLDOWN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := NewConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "production", "WARN")

	logger.Info("hidden")
	logger.Warn("shown", "user_id", "u1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"), "production logs are JSON")
	assert.Contains(t, out, `"service":"sitegate"`)
	assert.Contains(t, out, `"user_id":"u1"`)
}

func TestNewLogger_DevelopmentIsText(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "development", "debug").Debug("hello")

	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "msg=hello")
}
