package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := LoadFile("")

	assert.Equal(t, "09:00", cfg.DailyTriggerTime)
	assert.Equal(t, "Asia/Kolkata", cfg.Timezone)
	assert.Equal(t, "skip", cfg.MissedRunPolicy)
	assert.Equal(t, 3, cfg.TopK)
	assert.Equal(t, 3, cfg.CooldownDays)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.Equal(t, 45*24*time.Hour, cfg.EventHorizon)
	assert.Equal(t, 7*24*time.Hour, cfg.TrendSmoothingWindow)
	assert.Equal(t, []string{"revenue", "events", "trends"}, cfg.Sources)
	assert.Equal(t, []string{"app_push", "whatsapp", "email"}, cfg.EnabledChannels)
	assert.Equal(t, "INR", cfg.Currency)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, int64(727001), cfg.LeaderLockKey)

	require.NoError(t, Validate(cfg))
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("SANDESH_DAILY_TRIGGER_TIME", "07:30")
	t.Setenv("SANDESH_TIMEZONE", "UTC")
	t.Setenv("SANDESH_TOP_K", "5")
	t.Setenv("SANDESH_COOLDOWN_DAYS", "7")
	t.Setenv("SANDESH_RETRY_BASE_DELAY", "2s")
	t.Setenv("SANDESH_ENABLED_CHANNELS", " Email , whatsapp ")
	t.Setenv("SANDESH_CURRENCY", "usd")
	t.Setenv("PORT", "9000")

	cfg := LoadFile("")

	assert.Equal(t, "07:30", cfg.DailyTriggerTime)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, 5, cfg.TopK)
	assert.Equal(t, 7, cfg.CooldownDays)
	assert.Equal(t, 2*time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, []string{"email", "whatsapp"}, cfg.EnabledChannels)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SANDESH_TOP_K=9\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SANDESH_TOP_K") })

	cfg := LoadFile(path)
	assert.Equal(t, 9, cfg.TopK)
}

func TestLoad_InvalidValuesReportedByValidate(t *testing.T) {
	t.Setenv("SANDESH_TOP_K", "three")
	t.Setenv("SANDESH_WEBHOOK_TIMEOUT", "soon")

	cfg := LoadFile("")
	assert.Equal(t, 3, cfg.TopK, "falls back to default")

	err := Validate(cfg)
	require.Error(t, err)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)

	fields := map[string]bool{}
	for _, e := range verrs {
		fields[e.Field] = true
	}
	assert.True(t, fields["SANDESH_TOP_K"])
	assert.True(t, fields["SANDESH_WEBHOOK_TIMEOUT"])
}

func TestMaskedJSON(t *testing.T) {
	cfg := LoadFile("")
	cfg.DatabaseURL = "postgres://user:hunter2@db/sandesh"
	cfg.WebhookSecret = "topsecret"

	data, err := cfg.MaskedJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
	assert.NotContains(t, string(data), "topsecret")

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "postgres://***", out["database_url"])
	assert.Equal(t, "***", out["webhook_secret"])
	assert.Equal(t, "09:00", out["daily_trigger_time"])
	assert.Equal(t, "24h0m0s", out["signal_window"])
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", maskSecret(""))
	assert.Equal(t, "postgresql://***", maskSecret("postgresql://u:p@h/db"))
	assert.Equal(t, "***", maskSecret("plain"))
}

func TestLocation(t *testing.T) {
	cfg := LoadFile("")
	assert.Equal(t, "Asia/Kolkata", cfg.Location().String())

	cfg.Timezone = "Mars/Olympus"
	assert.Equal(t, time.UTC, cfg.Location())
}
