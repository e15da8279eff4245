package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule <cidr> <cron-expression>",
	Short: "Register a recurring scan",
	Long: `Register a recurring-scan declaration. The expression is validated
as standard 5-field cron and stored; an external scheduler (cron, systemd
timers) is expected to trigger the actual scans.`,
	Example: `  netmapper schedule 192.168.1.0/24 "0 2 * * *"`,
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		_, err := request(map[string]any{"cmd": "schedule_scan", "cidr": args[0], "schedule": args[1]})
		exitOnError(err)
		fmt.Printf("Schedule registered for %s\n", args[0])
	},
}

var backupCmd = &cobra.Command{
	Use:     "backup <path>",
	Short:   "Write a consistent snapshot of the scan database",
	Example: `  netmapper backup /var/backups/netmapper-$(date +%F).db`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, err := request(map[string]any{"cmd": "backup_database", "path": args[0]})
		exitOnError(err)
		fmt.Printf("Backup written to %s\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(backupCmd)
}
