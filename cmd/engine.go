package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/config"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/identity"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/monitor"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/tracking"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/worker"
)

// addEngineFlags registers the tuning flags shared by monitor and replay.
// Unset flags keep the value from the environment.
func addEngineFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().IntVarP(&opts.NthFrame, "nth-frame", "n", 0, "Process every nth frame (default NTH_FRAME or 5)")
	cmd.Flags().Float64Var(&opts.MaxDistance, "max-distance", 0, "Max pixel distance for matching dissimilar faces (default 150)")
	cmd.Flags().Float64Var(&opts.SimThreshold, "similarity", 0, "Cosine similarity above which faces match regardless of distance (default 0.7)")
	cmd.Flags().DurationVar(&opts.CleanupTimeout, "cleanup-timeout", 0, "Evict tracks unseen for this long (default 3s)")
	cmd.Flags().DurationVarP(&opts.AbsenceThreshold, "absence", "a", 0, "Alert when a present person is unseen for longer than this (default 5m)")
	cmd.Flags().Float64VarP(&opts.RecognitionDistance, "threshold", "t", 0, "Max cosine distance to recognise an employee (default 0.4)")
	cmd.Flags().Float64VarP(&opts.DetectionThreshold, "detection-threshold", "D", 0, "Face detection confidence threshold (default 0.5)")
	cmd.Flags().DurationVar(&opts.WorkerTimeout, "worker-timeout", 0, "Per-frame detection deadline (default 30s)")
	cmd.Flags().BoolVarP(&opts.Debug, "debug", "d", false, "Run the detection engine in debug mode")
}

// applyOverrides copies the flags the user actually set onto cfg.
func applyOverrides(cmd *cobra.Command, cfg *config.Config, opts Options) {
	changed := cmd.Flags().Changed
	if changed("nth-frame") {
		cfg.Engine.NthFrame = opts.NthFrame
	}
	if changed("max-distance") {
		cfg.Tracking.MaxDistance = opts.MaxDistance
	}
	if changed("similarity") {
		cfg.Tracking.SimThreshold = opts.SimThreshold
	}
	if changed("cleanup-timeout") {
		cfg.Tracking.CleanupTimeout = opts.CleanupTimeout
	}
	if changed("absence") {
		cfg.Presence.AbsenceThreshold = opts.AbsenceThreshold
	}
	if changed("threshold") {
		cfg.Recognition.MaxDistance = opts.RecognitionDistance
	}
	if changed("detection-threshold") {
		cfg.Engine.DetectionThreshold = opts.DetectionThreshold
	}
	if changed("worker-timeout") {
		cfg.Engine.Timeout = opts.WorkerTimeout
	}
	if changed("port") {
		cfg.Web.Port = opts.WebPort
	}
}

// parseCameraFlags turns "id=url" pairs into cameras.
func parseCameraFlags(pairs []string) ([]config.Camera, error) {
	cams := make([]config.Camera, 0, len(pairs))
	seen := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		id, url, ok := strings.Cut(p, "=")
		id, url = strings.TrimSpace(id), strings.TrimSpace(url)
		if !ok || id == "" || url == "" {
			return nil, fmt.Errorf("invalid camera %q, want id=url", p)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate camera id %q", id)
		}
		seen[id] = true
		cams = append(cams, config.Camera{ID: id, Name: id, URL: url})
	}
	return cams, nil
}

// employeeRoster reads the enrolled employees as name -> embedding.
func employeeRoster(ctx context.Context) (map[string][]float32, error) {
	employees, err := DB.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}
	roster := make(map[string][]float32, len(employees))
	for _, e := range employees {
		roster[e.Name] = e.Embedding
	}
	return roster, nil
}

// loadGallery builds the recognition index from the enrolled employees.
func loadGallery(ctx context.Context, maxDistance float64) (*identity.Gallery, error) {
	roster, err := employeeRoster(ctx)
	if err != nil {
		return nil, err
	}
	g := identity.NewGallery(maxDistance)
	if _, _, err := g.Sync(roster); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Skipping employees: %v\n", err)
	}
	return g, nil
}

func engineConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		Match: tracking.MatchConfig{
			MaxDistance:  cfg.Tracking.MaxDistance,
			SimThreshold: float32(cfg.Tracking.SimThreshold),
		},
		CleanupTimeout:   cfg.Tracking.CleanupTimeout,
		AbsenceThreshold: cfg.Presence.AbsenceThreshold,
		SweepInterval:    cfg.Presence.SweepInterval,
		SnapshotInterval: cfg.Presence.SnapshotInterval,
		FrameTimeout:     cfg.Engine.Timeout,
		RefreshInterval:  cfg.Recognition.RefreshInterval,
	}
}

func detectorFactory(cfg *config.Config, debug bool) monitor.DetectorFactory {
	return func(id int) (worker.Detector, error) {
		return worker.NewPythonWorker(id, worker.Options{
			Script:             cfg.Engine.Script,
			DetectionThreshold: cfg.Engine.DetectionThreshold,
			Debug:              debug,
		})
	}
}
