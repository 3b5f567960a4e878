package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/presence"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/utils"
)

var statusHistory int

var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show the last recorded presence of every employee, or one employee's history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if len(args) == 1 {
			return runStatusOne(cmd.Context(), args[0], statusHistory)
		}
		return runStatus(cmd.Context())
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusHistory, "history", 10, "Number of camera changes to show for a single employee")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(ctx context.Context) error {
	reports, err := DB.LoadPresence(ctx)
	if err != nil {
		utils.ShowError("Failed to load presence", err, nil)
		return err
	}
	printPresence(reports, time.Now())
	return nil
}

func runStatusOne(ctx context.Context, name string, history int) error {
	reports, err := DB.LoadPresence(ctx)
	if err != nil {
		utils.ShowError("Failed to load presence", err, nil)
		return err
	}

	var rep *presence.PersonReport
	for i := range reports {
		if reports[i].Name == name {
			rep = &reports[i]
			break
		}
	}
	if rep == nil {
		fmt.Printf("❌ No presence recorded for %s.\n", name)
		return nil
	}

	now := time.Now()
	fmt.Printf("👤 %s is %s on %s (last seen %s, duration %s)\n",
		rep.Name, rep.Status, rep.Camera, presence.FormatLastSeen(rep.LastSeen, now), rep.DurationFormatted)

	locations, err := DB.LocationHistory(ctx, name, history)
	if err != nil {
		utils.ShowError("Failed to retrieve history", err, nil)
		return err
	}
	if len(locations) == 0 {
		fmt.Println("No recorded camera changes.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "\nCAMERA\tSEEN AT")
	fmt.Fprintln(w, "------\t-------")
	for _, l := range locations {
		fmt.Fprintf(w, "%s\t%s\n", l.Camera, l.SeenAt.Local().Format("2006-01-02 15:04:05"))
	}
	w.Flush()
	return nil
}
