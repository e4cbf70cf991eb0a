package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := FromViper(newViper())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "homebase.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10000, cfg.MaxOccurrences)
	assert.Equal(t, 30*24*time.Hour, cfg.FeedLookback)
	assert.Equal(t, 180*24*time.Hour, cfg.FeedLookahead)
	assert.Equal(t, 60, cfg.FeedRateLimit)
	assert.Equal(t, "*/15 * * * *", cfg.SyncSchedule)
	assert.Equal(t, 90*24*time.Hour, cfg.SyncHorizon)
	assert.Equal(t, 15*time.Second, cfg.SyncTimeout)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("HOMEBASE_PORT", "9090")
	t.Setenv("HOMEBASE_BASE_URL", "https://cal.example.com/")
	t.Setenv("HOMEBASE_FEED_LOOKAHEAD", "48h")
	t.Setenv("HOMEBASE_SYNC_SCHEDULE", "0 * * * *")
	t.Setenv("HOMEBASE_MAX_OCCURRENCES", "500")

	cfg, err := FromViper(newViper())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "https://cal.example.com", cfg.BaseURL)
	assert.Equal(t, 48*time.Hour, cfg.FeedLookahead)
	assert.Equal(t, "0 * * * *", cfg.SyncSchedule)
	assert.Equal(t, 500, cfg.MaxOccurrences)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"HOMEBASE_LOG_LEVEL", "chatty"},
		{"HOMEBASE_SYNC_SCHEDULE", "every now and then"},
		{"HOMEBASE_MAX_OCCURRENCES", "0"},
		{"HOMEBASE_FEED_RATE_LIMIT", "-1"},
		{"HOMEBASE_SYNC_TIMEOUT", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := FromViper(newViper())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
