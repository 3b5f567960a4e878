package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/utils"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all enrolled employees",
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) {
	employees, err := DB.ListEmployees(ctx)
	if err != nil {
		utils.Die("Failed to list employees", err, nil)
	}

	if len(employees) == 0 {
		fmt.Println("No employees enrolled.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDEPARTMENT\tENROLLED")
	fmt.Fprintln(w, "--\t----\t----------\t--------")

	for _, e := range employees {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.ID, e.Name, e.Department, e.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
