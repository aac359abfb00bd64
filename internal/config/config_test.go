package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Storage.Driver != "json" || cfg.Storage.FilePath != "data/reminders.json" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Scheduler.PollInterval != 30*time.Second || cfg.Scheduler.CleanupInterval != 6*time.Hour || cfg.Scheduler.Retention != 720*time.Hour {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Server.Port != "127.0.0.1:8080" {
		t.Errorf("server.port = %q", cfg.Server.Port)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
storage:
  driver: bolt
  file_path: /tmp/reminders.db
scheduler:
  poll_interval: 10s
  timezone: UTC
server:
  port: ":9090"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DISCORD_TOKEN", "secret")
	t.Setenv("BOT_SERVER_PORT", ":7070")
	t.Setenv("BOT_SERVER_TOKEN", "admin")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Storage.Driver != "bolt" || cfg.Storage.FilePath != "/tmp/reminders.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Scheduler.PollInterval != 10*time.Second {
		t.Errorf("poll_interval = %v", cfg.Scheduler.PollInterval)
	}
	if cfg.Discord.Token != "secret" {
		t.Errorf("discord.token = %q, want value from DISCORD_TOKEN", cfg.Discord.Token)
	}
	if cfg.Server.Port != ":7070" {
		t.Errorf("server.port = %q, want env override", cfg.Server.Port)
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil || loc != time.UTC {
		t.Errorf("Location() = %v, %v", loc, err)
	}
}

func TestLoadConfigRejectsBadDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: mongo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() accepted an unknown storage driver")
	}
}

func TestLoadConfigAdminToken(t *testing.T) {
	tests := []struct {
		name    string
		port    string
		token   string
		wantErr bool
	}{
		{"loopback without token", "127.0.0.1:8080", "", false},
		{"localhost without token", "localhost:8080", "", false},
		{"ipv6 loopback without token", "[::1]:8080", "", false},
		{"all interfaces without token", ":8080", "", true},
		{"public address without token", "0.0.0.0:8080", "", true},
		{"all interfaces with token", ":8080", "admin", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BOT_SERVER_PORT", tt.port)
			t.Setenv("BOT_SERVER_TOKEN", tt.token)
			_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
