package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Tracking.DefaultRadiusMeters != 50 {
		t.Errorf("expected default radius 50, got %v", cfg.Tracking.DefaultRadiusMeters)
	}
	if cfg.Tracking.WatchMinDistanceMeters != 10 {
		t.Errorf("expected watch distance 10, got %v", cfg.Tracking.WatchMinDistanceMeters)
	}
	if cfg.Redis.MaxRetries != 3 {
		t.Errorf("expected 3 redis retries, got %d", cfg.Redis.MaxRetries)
	}
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	content := "SERVER_PORT=9090\nREDIS_MAX_RETRIES=7\nPOSITION_TTL=2h\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ENV_FILE", envFile)
	t.Setenv("CHECKPOINT_DEFAULT_RADIUS_METERS", "75.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	// The environment wins over the file.
	t.Setenv("SERVER_PORT", "7070")
	// godotenv sets variables it loads; clear them after the test.
	t.Cleanup(func() {
		os.Unsetenv("REDIS_MAX_RETRIES")
		os.Unsetenv("POSITION_TTL")
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from environment, got %s", cfg.Server.Port)
	}
	if cfg.Redis.MaxRetries != 7 {
		t.Errorf("expected retries from file, got %d", cfg.Redis.MaxRetries)
	}
	if cfg.Tracking.PositionTTL != 2*time.Hour {
		t.Errorf("expected TTL 2h, got %v", cfg.Tracking.PositionTTL)
	}
	if cfg.Tracking.DefaultRadiusMeters != 75.5 {
		t.Errorf("expected radius 75.5, got %v", cfg.Tracking.DefaultRadiusMeters)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		section string
	}{
		{"non-numeric port", func(c *Config) { c.Server.Port = "http" }, "server"},
		{"bad ssl mode", func(c *Config) { c.Database.SSLMode = "maybe" }, "database"},
		{"redis addr without port", func(c *Config) { c.Redis.Addr = "localhost" }, "redis"},
		{"new relic without key", func(c *Config) { c.NewRelic.Enabled = true }, "newrelic"},
		{"zero radius", func(c *Config) { c.Tracking.DefaultRadiusMeters = 0 }, "tracking"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
			cfg, err := Load()
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			tc.mutate(cfg)

			err = cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.section) {
				t.Errorf("expected %s section in error, got %v", tc.section, err)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "rides", SSLMode: "disable"}
	want := "host=db port=5432 user=u password=p dbname=rides sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
