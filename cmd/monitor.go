package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/config"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/feed"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/monitor"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/utils"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/web"
)

var monitorOpts Options

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch live camera feeds and track employee presence",
	Long: `Reads every configured camera, recognises enrolled employees, and raises an alert when a
present employee has not been seen for longer than the absence threshold. Presence and alerts are
served over HTTP and written to PostgreSQL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyOverrides(cmd, Cfg, monitorOpts)
		if len(monitorOpts.Cameras) > 0 {
			cams, err := parseCameraFlags(monitorOpts.Cameras)
			if err != nil {
				return err
			}
			Cfg.Cameras = cams
		}
		if err := validateMonitorConfig(Cfg); err != nil {
			utils.ShowError("Invalid configuration", err, nil)
			return err
		}
		return runMonitor(cmd.Context(), Cfg, monitorOpts)
	},
}

func init() {
	addEngineFlags(monitorCmd, &monitorOpts)
	monitorCmd.Flags().StringArrayVarP(&monitorOpts.Cameras, "camera", "c", nil, "Camera as id=url, repeatable (default: CAMERAS_FILE)")
	monitorCmd.Flags().IntVarP(&monitorOpts.WebPort, "port", "p", 0, "HTTP port (default WEB_PORT or 8080)")
	monitorCmd.Flags().BoolVar(&monitorOpts.NoWeb, "no-web", false, "Do not start the HTTP server")
	rootCmd.AddCommand(monitorCmd)
}

func validateMonitorConfig(cfg *config.Config) error {
	if len(cfg.Cameras) == 0 {
		return errors.New("no cameras configured: use --camera id=url or a cameras file")
	}
	return cfg.Validate()
}

func runMonitor(ctx context.Context, cfg *config.Config, opts Options) error {
	gallery, err := loadGallery(ctx, cfg.Recognition.MaxDistance)
	if err != nil {
		utils.ShowError("Failed to load employees", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "👥 Loaded %d enrolled employees\n", gallery.Len())
	if gallery.Len() == 0 {
		fmt.Fprintf(os.Stderr, "⚠️  No employees enrolled. Every face will stay Unknown; use 'enroll' first.\n")
	}

	engine := monitor.New(engineConfig(cfg), gallery, monitor.WithStore(DB), monitor.WithRoster(employeeRoster))
	if n, err := engine.Restore(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Could not restore previous presence: %v\n", err)
	} else if n > 0 {
		fmt.Fprintf(os.Stderr, "♻️  Restored %d persons from the last snapshot\n", n)
	}

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to schedule jobs: %w", err)
	}
	defer func() {
		// Use Background here because the main context is already cancelled on Ctrl+C
		// and we still need to write the final snapshot.
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := engine.Stop(stopCtx); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Final snapshot failed: %v\n", err)
		}
	}()

	if !opts.NoWeb {
		srv := web.NewServer(engine.Presence(), engine.Tracks(), cfg.Cameras, cfg.Web.Addr(),
			web.WithDirectory(DB), web.WithScheduler(engine.Scheduler()))
		go func() {
			if err := srv.Start(); err != nil {
				utils.ShowError("Web server failed", err, nil)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		fmt.Fprintf(os.Stderr, "🌐 Serving presence on http://%s\n", cfg.Web.Addr())
	}

	sources := make([]feed.Source, 0, len(cfg.Cameras))
	for _, c := range cfg.Cameras {
		sources = append(sources, feed.Source{CameraID: c.ID, URL: c.URL, NthFrame: cfg.Engine.NthFrame})
	}

	fmt.Fprintf(os.Stderr, "🎥 Monitoring %d cameras (absence threshold %s). Press Ctrl+C to stop.\n",
		len(sources), cfg.Presence.AbsenceThreshold)

	if err := engine.Run(ctx, sources, detectorFactory(cfg, opts.Debug)); err != nil {
		utils.ShowError("Monitoring stopped", err, nil)
		return err
	}
	fmt.Fprintln(os.Stderr, "\n🛑 Monitoring stopped.")
	return nil
}
