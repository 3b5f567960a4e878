package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CAMERAS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	for _, k := range []string{"TRACK_MAX_DISTANCE", "ABSENCE_THRESHOLD", "TRACK_CLEANUP_TIMEOUT", "WEB_PORT", "DATABASE_URL", "POSTGRES_HOST", "GALLERY_REFRESH_INTERVAL"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tracking.MaxDistance != 150 {
		t.Errorf("MaxDistance = %v, want 150", cfg.Tracking.MaxDistance)
	}
	if cfg.Tracking.SimThreshold != 0.7 {
		t.Errorf("SimThreshold = %v, want 0.7", cfg.Tracking.SimThreshold)
	}
	if cfg.Tracking.CleanupTimeout != 3*time.Second {
		t.Errorf("CleanupTimeout = %v, want 3s", cfg.Tracking.CleanupTimeout)
	}
	if cfg.Presence.AbsenceThreshold != 300*time.Second {
		t.Errorf("AbsenceThreshold = %v, want 5m", cfg.Presence.AbsenceThreshold)
	}
	if cfg.Recognition.RefreshInterval != 30*time.Second {
		t.Errorf("RefreshInterval = %v, want 30s", cfg.Recognition.RefreshInterval)
	}
	if cfg.Web.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr = %q", cfg.Web.Addr())
	}
	if cfg.Database.URL != "postgres://localhost:5432/presence" {
		t.Errorf("Database URL = %q", cfg.Database.URL)
	}
	if len(cfg.Cameras) != 0 {
		t.Errorf("expected no cameras, got %d", len(cfg.Cameras))
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEnvHelpers(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"go duration", "90s", 90 * time.Second},
		{"plain seconds", "2.5", 2500 * time.Millisecond},
		{"garbage", "soon", time.Minute},
		{"negative", "-3", time.Minute},
		{"empty", "", time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_SECONDS", tt.value)
			if got := envSeconds("TEST_SECONDS", time.Minute); got != tt.want {
				t.Errorf("envSeconds(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}

	t.Setenv("TEST_INT", "0")
	if got := envInt("TEST_INT", 7); got != 7 {
		t.Errorf("envInt should reject non-positive values, got %d", got)
	}
	t.Setenv("TEST_FLOAT", "0.25")
	if got := envFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("envFloat = %v, want 0.25", got)
	}
}

func TestDatabaseURLFromParts(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "presence")
	t.Setenv("POSTGRES_PORT", "")

	if got, want := DatabaseURL(), "postgres://u:p@db:5432/presence"; got != want {
		t.Errorf("DatabaseURL() = %q, want %q", got, want)
	}
}

func TestLoadCameras(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cameras.yaml")
	content := `cameras:
  - id: cam1
    name: Entrance
    url: rtsp://10.0.0.5/stream
    location: Lobby
  - name: dock
    url: /recordings/dock.mp4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cams, err := LoadCameras(path)
	if err != nil {
		t.Fatalf("LoadCameras failed: %v", err)
	}
	if len(cams) != 2 {
		t.Fatalf("expected 2 cameras, got %d", len(cams))
	}
	if cams[0].ID != "cam1" || cams[0].Location != "Lobby" {
		t.Errorf("unexpected first camera: %+v", cams[0])
	}
	if cams[1].ID != "dock" {
		t.Errorf("camera without id should use its name, got %q", cams[1].ID)
	}
}

func TestLoadCamerasRejectsBadEntries(t *testing.T) {
	tests := map[string]string{
		"duplicate": "cameras:\n  - {id: a, url: x}\n  - {id: a, url: y}\n",
		"no url":    "cameras:\n  - {id: a}\n",
		"no id":     "cameras:\n  - {url: x}\n",
		"bad yaml":  "cameras: [",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cameras.yaml")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadCameras(path); err == nil {
				t.Errorf("expected error for %s", name)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Tracking:    TrackingConfig{MaxDistance: 150, SimThreshold: 0.7, CleanupTimeout: 3 * time.Second},
		Presence:    PresenceConfig{AbsenceThreshold: time.Minute, SweepInterval: time.Second, SnapshotInterval: time.Second},
		Recognition: RecognitionConfig{MaxDistance: 0.4},
		Engine:      EngineConfig{NthFrame: 1},
		Web:         WebConfig{Port: 8080},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg.Tracking.SimThreshold = 1.5
	cfg.Engine.NthFrame = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "similarity threshold") || !strings.Contains(err.Error(), "nth frame") {
		t.Errorf("expected both problems reported, got: %v", err)
	}
}
