package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database    DatabaseConfig
	Tracking    TrackingConfig
	Presence    PresenceConfig
	Recognition RecognitionConfig
	Engine      EngineConfig
	Web         WebConfig
	Cameras     []Camera
}

type DatabaseConfig struct {
	URL string // PostgreSQL connection URL
}

type TrackingConfig struct {
	MaxDistance    float64       // pixels, distance-path match radius
	SimThreshold   float64       // cosine similarity above which distance is ignored
	CleanupTimeout time.Duration // tracks unseen this long are evicted
}

type PresenceConfig struct {
	AbsenceThreshold time.Duration
	SweepInterval    time.Duration
	SnapshotInterval time.Duration // how often presence is written to the database
}

type RecognitionConfig struct {
	MaxDistance     float64       // cosine distance at or below which a face resolves to an employee
	RefreshInterval time.Duration // how often a running monitor reloads enrolled employees, 0 disables
}

type EngineConfig struct {
	Script             string  // python detection worker
	DetectionThreshold float64 // minimum face detector confidence
	NthFrame           int     // process every nth frame of a feed
	Timeout            time.Duration
}

type WebConfig struct {
	Host string
	Port int
}

// Addr returns host:port for the HTTP listener.
func (w WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// Camera is one monitored video source.
type Camera struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	URL      string `yaml:"url" json:"url"`
	Location string `yaml:"location,omitempty" json:"location,omitempty"`
}

type camerasFile struct {
	Cameras []Camera `yaml:"cameras"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat is envInt for positive floats.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envSeconds accepts either a Go duration ("90s", "5m") or a plain number of seconds.
func envSeconds(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return time.Duration(f * float64(time.Second))
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// DatabaseURL builds the connection string from POSTGRES_* variables, falling back to a local default.
func DatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return "postgres://localhost:5432/presence"
	}
	port := envString("POSTGRES_PORT", "5432")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
}

// Load reads the configuration from the environment and the cameras file.
// A missing cameras file is not an error; monitor then needs cameras from flags.
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{URL: DatabaseURL()},
		Tracking: TrackingConfig{
			MaxDistance:    envFloat("TRACK_MAX_DISTANCE", 150),
			SimThreshold:   envFloat("TRACK_SIMILARITY_THRESHOLD", 0.7),
			CleanupTimeout: envSeconds("TRACK_CLEANUP_TIMEOUT", 3*time.Second),
		},
		Presence: PresenceConfig{
			AbsenceThreshold: envSeconds("ABSENCE_THRESHOLD", 300*time.Second),
			SweepInterval:    envSeconds("SWEEP_INTERVAL", 10*time.Second),
			SnapshotInterval: envSeconds("SNAPSHOT_INTERVAL", 10*time.Second),
		},
		Recognition: RecognitionConfig{
			MaxDistance:     envFloat("RECOGNITION_MAX_DISTANCE", 0.4),
			RefreshInterval: envSeconds("GALLERY_REFRESH_INTERVAL", 30*time.Second),
		},
		Engine: EngineConfig{
			Script:             envString("ENGINE_SCRIPT", "python/worker.py"),
			DetectionThreshold: envFloat("DETECTION_THRESHOLD", 0.5),
			NthFrame:           envInt("NTH_FRAME", 5),
			Timeout:            envSeconds("ENGINE_TIMEOUT", 30*time.Second),
		},
		Web: WebConfig{
			Host: envString("WEB_HOST", "0.0.0.0"),
			Port: envInt("WEB_PORT", 8080),
		},
	}

	cams, err := LoadCameras(envString("CAMERAS_FILE", "cameras.yaml"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg.Cameras = cams

	return cfg, nil
}

// LoadCameras parses a YAML camera list. Cameras without an explicit id get their name as id.
func LoadCameras(path string) ([]Camera, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cameras file: %w", err)
	}

	var f camerasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Cameras))
	for i := range f.Cameras {
		c := &f.Cameras[i]
		if c.ID == "" {
			c.ID = c.Name
		}
		if c.ID == "" {
			return nil, fmt.Errorf("%s: camera %d has neither id nor name", path, i)
		}
		if c.URL == "" {
			return nil, fmt.Errorf("%s: camera %s has no url", path, c.ID)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("%s: duplicate camera id %s", path, c.ID)
		}
		seen[c.ID] = true
	}
	return f.Cameras, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Tracking.MaxDistance <= 0 {
		errs = append(errs, fmt.Errorf("track max distance must be positive, got %v", c.Tracking.MaxDistance))
	}
	if c.Tracking.SimThreshold <= 0 || c.Tracking.SimThreshold > 1 {
		errs = append(errs, fmt.Errorf("similarity threshold must be in (0, 1], got %v", c.Tracking.SimThreshold))
	}
	if c.Tracking.CleanupTimeout <= 0 {
		errs = append(errs, fmt.Errorf("cleanup timeout must be positive, got %s", c.Tracking.CleanupTimeout))
	}
	if c.Presence.AbsenceThreshold <= 0 {
		errs = append(errs, fmt.Errorf("absence threshold must be positive, got %s", c.Presence.AbsenceThreshold))
	}
	if c.Presence.SweepInterval <= 0 || c.Presence.SnapshotInterval <= 0 {
		errs = append(errs, errors.New("sweep and snapshot intervals must be positive"))
	}
	if c.Recognition.MaxDistance <= 0 || c.Recognition.MaxDistance > 2 {
		errs = append(errs, fmt.Errorf("recognition max distance must be in (0, 2], got %v", c.Recognition.MaxDistance))
	}
	if c.Engine.NthFrame < 1 {
		errs = append(errs, fmt.Errorf("nth frame must be at least 1, got %d", c.Engine.NthFrame))
	}
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		errs = append(errs, fmt.Errorf("web port out of range: %d", c.Web.Port))
	}
	return errors.Join(errs...)
}
