package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the gateway is running",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	pidFile := pidFilePath()
	if isRunning(pidFile) {
		fmt.Fprintf(cmd.OutOrStdout(), "kurir is running (PID file: %s)\n", pidFile)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "kurir is not running")
	return nil
}
