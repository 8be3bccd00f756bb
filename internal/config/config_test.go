package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: memory
`)

	cfg, err := load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.MetricsPort)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, 30*24*time.Hour, cfg.Maintenance.Retention)
	assert.Equal(t, "*/5 * * * *", cfg.Maintenance.Schedule)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, 3, cfg.Notifications.Mattermost.MaxAttempts)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
  read_timeout: 3s
database:
  url: postgres://u:p@localhost:5432/incidents
  max_open_conns: 10
log:
  level: debug
  format: json
maintenance:
  retention: 48h
  tenant: acme
auth:
  enabled: true
  secret_key: s3cret
notifications:
  mattermost:
    webhook_url: https://chat.example.com/hooks/abc
`)

	cfg, err := load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 48*time.Hour, cfg.Maintenance.Retention)
	assert.Equal(t, "acme", cfg.Maintenance.Tenant)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "https://chat.example.com/hooks/abc", cfg.Notifications.Mattermost.WebhookURL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: memory
server:
  port: "9000"
`)
	t.Setenv("INCIDENTS_SERVER__PORT", "7000")
	t.Setenv("INCIDENTS_SERVER__METRICS_PORT", "7001")
	t.Setenv("INCIDENTS_MAINTENANCE__RETENTION", "1h")
	t.Setenv("INCIDENTS_LOG__LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "7001", cfg.Server.MetricsPort)
	assert.Equal(t, time.Hour, cfg.Maintenance.Retention)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "postgres without url",
			content: "storage:\n  driver: postgres\n",
			wantErr: "database.url is required",
		},
		{
			name:    "unknown driver",
			content: "storage:\n  driver: redis\n",
			wantErr: "invalid config",
		},
		{
			name:    "auth without secret",
			content: "storage:\n  driver: memory\nauth:\n  enabled: true\n",
			wantErr: "auth.secret_key is required",
		},
		{
			name:    "bad log level",
			content: "storage:\n  driver: memory\nlog:\n  level: verbose\n",
			wantErr: "invalid config",
		},
		{
			name:    "bad webhook url",
			content: "storage:\n  driver: memory\nnotifications:\n  mattermost:\n    webhook_url: not a url\n",
			wantErr: "invalid config",
		},
		{
			name:    "unknown sla priority",
			content: "storage:\n  driver: memory\nsla:\n  priority_by_type:\n    SYSTEM_OUTAGE: URGENT\n",
			wantErr: "unknown priority",
		},
		{
			name:    "non-positive sla duration",
			content: "storage:\n  driver: memory\nsla:\n  duration_hours:\n    LOW: 0\n",
			wantErr: "must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(writeConfig(t, tt.content), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSLAConfig_EngineConfig(t *testing.T) {
	cfg, err := SLAConfig{
		PriorityByType:  map[string]string{"data_sync_issue": "high", "BILLING": "LOW"},
		DurationHours:   map[string]int{"critical": 2},
		DefaultPriority: "low",
	}.EngineConfig()
	require.NoError(t, err)

	assert.Equal(t, domain.PriorityHigh, cfg.PriorityByType[domain.IncidentTypeDataSyncIssue])
	assert.Equal(t, domain.PriorityLow, cfg.PriorityByType["BILLING"])
	assert.Equal(t, domain.PriorityCritical, cfg.PriorityByType[domain.IncidentTypeSystemOutage])
	assert.Equal(t, 2, cfg.DurationHours[domain.PriorityCritical])
	assert.Equal(t, 24, cfg.DurationHours[domain.PriorityHigh])
	assert.Equal(t, domain.PriorityLow, cfg.DefaultPriority)
}

func TestSLAConfig_EngineConfig_Empty(t *testing.T) {
	cfg, err := SLAConfig{}.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityMedium, cfg.DefaultPriority)
	assert.Equal(t, 4, cfg.DurationHours[domain.PriorityCritical])
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.metrics_port", envKey("INCIDENTS_SERVER__METRICS_PORT"))
	assert.Equal(t, "notifications.mattermost.webhook_url", envKey("INCIDENTS_NOTIFICATIONS__MATTERMOST__WEBHOOK_URL"))
}
