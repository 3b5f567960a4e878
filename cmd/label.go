package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/utils"
)

var labelCmd = &cobra.Command{
	Use:   "label <employee_id> <name>",
	Short: "Rename an enrolled employee",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			utils.Die("Invalid employee ID", err, nil)
		}
		runLabel(cmd.Context(), id, args[1])
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, id int, name string) {
	if err := DB.RenameEmployee(ctx, id, name); err != nil {
		utils.Die("Failed to rename employee", err, nil)
	}

	fmt.Printf("✅ Employee %d renamed to '%s'\n", id, name)
}
