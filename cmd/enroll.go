package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/types"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/utils"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/worker"
)

var (
	enrollDepartment string
	enrollDebug      bool
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <name> <image_path>",
	Short: "Enrol an employee from a photo of their face",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runEnroll(cmd.Context(), args[0], args[1])
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollDepartment, "department", "", "Employee department")
	enrollCmd.Flags().BoolVarP(&enrollDebug, "debug", "d", false, "Run the detection engine in debug mode")
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(ctx context.Context, name, imagePath string) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	// We use ID 0 for this ad-hoc worker
	w, err := worker.NewPythonWorker(0, worker.Options{
		Script:             Cfg.Engine.Script,
		DetectionThreshold: Cfg.Engine.DetectionThreshold,
		Debug:              enrollDebug,
	})
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer w.Close()

	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	faces, err := w.Detect(ctx, imgData)
	if err != nil {
		utils.ShowError("AI processing failed", err, w.Cmd)
		return err
	}

	if len(faces) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return fmt.Errorf("no face in %s", imagePath)
	}

	best := largestFace(faces)
	if len(faces) > 1 {
		fmt.Printf("⚠️  Multiple faces detected (%d). Using the largest face.\n", len(faces))
	}

	if m, ok, err := DB.FindClosestEmployee(ctx, best.Embedding, Cfg.Recognition.MaxDistance); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Could not check for duplicates: %v\n", err)
	} else if ok && m.Name != name {
		fmt.Printf("⚠️  This face already matches %s (ID: %d, distance %.3f).\n", m.Name, m.ID, m.Distance)
	}

	id, err := DB.CreateEmployee(ctx, name, enrollDepartment, best.Embedding)
	if err != nil {
		utils.ShowError("Failed to save employee", err, nil)
		return err
	}

	fmt.Printf("✅ Enrolled %s (ID: %d)\n", name, id)
	return nil
}

// largestFace picks the detection with the biggest box; ties keep the earlier one.
func largestFace(faces []types.Detection) types.Detection {
	best := faces[0]
	for _, f := range faces[1:] {
		if f.BBox.Area() > best.BBox.Area() {
			best = f
		}
	}
	return best
}
