package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/config"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/feed"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/monitor"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/presence"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/utils"
)

var replayOpts Options

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run a recorded video through the presence engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyOverrides(cmd, Cfg, replayOpts)
		if err := validateReplayFlags(&replayOpts); err != nil {
			utils.ShowError("Invalid flags", err, nil)
			return err
		}
		if err := Cfg.Validate(); err != nil {
			utils.ShowError("Invalid configuration", err, nil)
			return err
		}
		return runReplay(cmd.Context(), Cfg, replayOpts)
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayOpts.InputPath, "input", "i", "", "Path to video")
	replayCmd.Flags().StringVar(&replayOpts.CameraID, "camera", "", "Camera id to report the recording as (default: derived from the file)")
	addEngineFlags(replayCmd, &replayOpts)

	replayCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(replayCmd)
}

// validateReplayFlags checks the input file and fills in the camera id.
func validateReplayFlags(opts *Options) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		return fmt.Errorf("input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input %s is a directory", opts.InputPath)
	}
	if opts.CameraID == "" {
		id, err := feed.SourceID(opts.InputPath)
		if err != nil {
			return err
		}
		opts.CameraID = "replay-" + id[:12]
	}
	return nil
}

func runReplay(ctx context.Context, cfg *config.Config, opts Options) error {
	gallery, err := loadGallery(ctx, cfg.Recognition.MaxDistance)
	if err != nil {
		utils.ShowError("Failed to load employees", err, nil)
		return err
	}

	engine := monitor.New(engineConfig(cfg), gallery, monitor.WithStore(DB))

	fmt.Fprintf(os.Stderr, "📼 Replaying %s as camera %s\n", opts.InputPath, opts.CameraID)

	// Get total frames for progress bar
	totalVideoFrames := feed.GetTotalFrames(opts.InputPath)
	if totalVideoFrames <= 0 {
		// Fallback to a spinner if ffprobe fails
		totalVideoFrames = -1
	}

	bar := progressbar.NewOptions(totalVideoFrames,
		progressbar.OptionSetDescription("🔍 Replaying"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	src := feed.Source{
		CameraID: opts.CameraID,
		URL:      opts.InputPath,
		NthFrame: cfg.Engine.NthFrame,
		OnFrame:  func() { bar.Add(1) },
	}

	started := time.Now()
	runErr := engine.Run(ctx, []feed.Source{src}, detectorFactory(cfg, opts.Debug))
	bar.Finish()

	// A recording plays faster than real time, so only a final sweep is meaningful.
	engine.Sweep()

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.Flush(flushCtx); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to save results: %v\n", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		utils.ShowError("Replay failed", runErr, nil)
		return runErr
	}

	fmt.Fprintf(os.Stderr, "\n🏁 Replay Complete in %s.\n", time.Since(started).Round(time.Second))
	printPresence(engine.Presence().SnapshotAll(), time.Now())
	return nil
}

func printPresence(reports []presence.PersonReport, now time.Time) {
	if len(reports) == 0 {
		fmt.Println("No employees recognised.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tCAMERA\tLAST SEEN\tDURATION")
	fmt.Fprintln(w, "----\t------\t------\t---------\t--------")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Status, r.Camera, presence.FormatLastSeen(r.LastSeen, now), r.DurationFormatted)
	}
	w.Flush()
}
