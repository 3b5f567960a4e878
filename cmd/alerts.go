package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/utils"
)

var alertsLimit int

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show the most recent absence alerts",
	Run: func(cmd *cobra.Command, args []string) {
		if alertsLimit < 1 {
			utils.Die("Invalid limit", fmt.Errorf("--limit must be at least 1, got %d", alertsLimit), nil)
		}

		alerts, err := DB.RecentAlerts(cmd.Context(), alertsLimit)
		if err != nil {
			utils.Die("Failed to load alerts", err, nil)
		}
		if len(alerts) == 0 {
			fmt.Println("No alerts recorded.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "TIME\tPERSON\tMESSAGE")
		fmt.Fprintln(w, "----\t------\t-------")
		for _, a := range alerts {
			fmt.Fprintf(w, "%s\t%s\t%s\n", a.Timestamp.Local().Format("2006-01-02 15:04:05"), a.Person, a.Message)
		}
		w.Flush()
	},
}

func init() {
	alertsCmd.Flags().IntVarP(&alertsLimit, "limit", "l", 20, "Number of alerts to show")
	rootCmd.AddCommand(alertsCmd)
}
