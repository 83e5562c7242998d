package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("creating temp config: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
database: "postgres://engel:secret@db/engelsystem?sslmode=disable"
timezone: "Europe/Berlin"
actor: "import-bot"
language: de
fetch:
  timeout: 10s
  attempts: 5
  user_agent: "camp-import/2"
  max_occurrences: 100
lock:
  redis_url: "redis://localhost:6379/2"
  ttl: 2m
daemon:
  schedule: "0 * * * *"
notifications:
  webhook_url: "https://hooks.example.org/engel"
  attempts: 4
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database != "postgres://engel:secret@db/engelsystem?sslmode=disable" {
		t.Errorf("Database = %q", cfg.Database)
	}
	if cfg.Location().String() != "Europe/Berlin" {
		t.Errorf("Location = %v, want Europe/Berlin", cfg.Location())
	}
	if cfg.Actor != "import-bot" {
		t.Errorf("Actor = %q, want import-bot", cfg.Actor)
	}
	if cfg.Language != "de" {
		t.Errorf("Language = %q, want de", cfg.Language)
	}
	if cfg.Fetch.Timeout != 10*time.Second || cfg.Fetch.Attempts != 5 || cfg.Fetch.MaxOccurrences != 100 {
		t.Errorf("Fetch = %+v", cfg.Fetch)
	}
	if cfg.Lock.RedisURL != "redis://localhost:6379/2" || cfg.Lock.TTL != 2*time.Minute {
		t.Errorf("Lock = %+v", cfg.Lock)
	}
	if cfg.Daemon.Schedule != "0 * * * *" {
		t.Errorf("Daemon.Schedule = %q", cfg.Daemon.Schedule)
	}
	if cfg.Notifications.Attempts != 4 {
		t.Errorf("Notifications.Attempts = %d, want 4", cfg.Notifications.Attempts)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "database: /tmp/schedule.db\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Timezone != DefaultTimezone || cfg.Location() != time.UTC {
		t.Errorf("Timezone = %q (%v), want UTC", cfg.Timezone, cfg.Location())
	}
	if cfg.Actor != DefaultActor {
		t.Errorf("Actor = %q, want %q", cfg.Actor, DefaultActor)
	}
	if cfg.Language != "en" {
		t.Errorf("Language = %q, want en", cfg.Language)
	}
	if cfg.Fetch.Timeout != 30*time.Second || cfg.Fetch.Attempts != DefaultAttempts {
		t.Errorf("Fetch = %+v, want 30s / %d attempts", cfg.Fetch, DefaultAttempts)
	}
	if cfg.Daemon.Schedule != DefaultDaemonSchedule {
		t.Errorf("Daemon.Schedule = %q, want %q", cfg.Daemon.Schedule, DefaultDaemonSchedule)
	}
	if cfg.Notifications.Attempts != DefaultAttempts {
		t.Errorf("Notifications.Attempts = %d", cfg.Notifications.Attempts)
	}
	if cfg.Telemetry != nil {
		t.Error("expected Telemetry to be nil when block is omitted")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Actor != DefaultActor {
		t.Errorf("Actor = %q, want default", cfg.Actor)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Location() != time.UTC || cfg.Daemon.Schedule != DefaultDaemonSchedule {
		t.Errorf("Default() = %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown timezone", `timezone: "Mars/Olympus"`, "timezone"},
		{"unsupported language", `language: fr`, "language"},
		{"timeout too short", "fetch:\n  timeout: 10ms", "fetch.timeout"},
		{"too many attempts", "fetch:\n  attempts: 50", "fetch.attempts"},
		{"negative max bytes", "fetch:\n  max_bytes: -1", "fetch.max_bytes"},
		{"bad redis url", "lock:\n  redis_url: \"http://localhost\"", "lock.redis_url"},
		{"negative ttl", "lock:\n  ttl: -1s", "lock.ttl"},
		{"bad cron", "daemon:\n  schedule: \"every tuesday\"", "daemon.schedule"},
		{"bad webhook", "notifications:\n  webhook_url: \"not-a-url\"", "notifications.webhook_url"},
		{"telemetry without endpoint", "telemetry:\n  insecure: true", "telemetry.otlp_endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_DaemonDescriptor(t *testing.T) {
	cfg, err := Load(writeConfig(t, "daemon:\n  schedule: \"@every 5m\"\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Daemon.Schedule != "@every 5m" {
		t.Errorf("Daemon.Schedule = %q", cfg.Daemon.Schedule)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, `
timezone: UTC
poll_interval: 30s
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(path) != "config.yaml" || filepath.Base(filepath.Dir(path)) != "scheduleimport" {
		t.Errorf("DefaultPath() = %q, want .../scheduleimport/config.yaml", path)
	}
}

// ---------------------------------------------------------------------------
// Telemetry
// ---------------------------------------------------------------------------

func TestLoad_TelemetryValid(t *testing.T) {
	path := writeConfig(t, `
telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true
  service_name: "camp-import"
  headers:
    Authorization: "Bearer secret"
    x-dataset: "test"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry == nil {
		t.Fatal("expected Telemetry to be non-nil")
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4317" {
		t.Errorf("OTLPEndpoint = %q, want %q", cfg.Telemetry.OTLPEndpoint, "localhost:4317")
	}
	if !cfg.Telemetry.Insecure {
		t.Error("Insecure = false, want true")
	}
	if cfg.Telemetry.ServiceName != "camp-import" {
		t.Errorf("ServiceName = %q, want %q", cfg.Telemetry.ServiceName, "camp-import")
	}
	if cfg.Telemetry.Headers["Authorization"] != "Bearer secret" {
		t.Errorf("Authorization header = %q, want %q", cfg.Telemetry.Headers["Authorization"], "Bearer secret")
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{
		Database: "/var/lib/scheduleimport/state.db",
		Timezone: "Europe/Berlin",
		Language: "de",
		Fetch:    FetchConfig{Timeout: 45 * time.Second},
		Notifications: NotificationsConfig{
			WebhookURL: "https://hooks.example.org/x",
		},
	}
	if err := cfg.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Database != cfg.Database || got.Timezone != "Europe/Berlin" || got.Language != "de" {
		t.Errorf("round trip = %+v", got)
	}
	if got.Fetch.Timeout != 45*time.Second {
		t.Errorf("Fetch.Timeout = %v, want 45s", got.Fetch.Timeout)
	}
	if got.Notifications.WebhookURL != cfg.Notifications.WebhookURL {
		t.Errorf("WebhookURL = %q", got.Notifications.WebhookURL)
	}
}

func TestWrite_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := &Config{Language: "xx"}
	if err := cfg.Write(path); err == nil {
		t.Fatal("expected error, got nil")
	}
	if _, err := os.Stat(path); err == nil {
		t.Error("invalid config was written")
	}
}
