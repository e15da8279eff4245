package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/netmapper/netmapper/internal/db"
)

var historyLimit int

var scanCmd = &cobra.Command{
	Use:   "scan <cidr>",
	Short: "Start a network scan",
	Long: `Start an ARP discovery scan of a network. The scan runs in the
daemon's background; poll results with the scan ID this prints.`,
	Example: `  netmapper scan 192.168.1.0/24
  netmapper scan 10.0.0.0/20`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := request(map[string]any{"cmd": "scan", "cidr": args[0]})
		exitOnError(err)
		fmt.Printf("Scan started: %s\n", resp["scan_id"])
	},
}

var scanMultiCmd = &cobra.Command{
	Use:     "scan-multi <cidr> [<cidr>...]",
	Short:   "Scan several networks as one job",
	Example: `  netmapper scan-multi 192.168.1.0/24 192.168.2.0/24`,
	Args:    cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := request(map[string]any{"cmd": "scan_multiple", "cidrs": args})
		exitOnError(err)
		fmt.Printf("Scan started: %s\n", resp["scan_id"])
	},
}

var resultsCmd = &cobra.Command{
	Use:   "results <scan-id>",
	Short: "Show the hosts found by a scan",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := request(map[string]any{"cmd": "get_results", "scan_id": args[0]})
		exitOnError(err)

		var hosts []db.Host
		exitOnError(decodeField(resp, "results", &hosts))
		if len(hosts) == 0 {
			fmt.Println("No results (scan may still be running)")
			return
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("IP", "MAC", "Hostname", "Vendor")
		for _, h := range hosts {
			_ = table.Append([]string{h.IP, h.MAC, strDeref(h.Hostname), strDeref(h.Vendor)})
		}
		_ = table.Render()
		fmt.Printf("%d hosts\n", len(hosts))
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent scans",
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := request(map[string]any{"cmd": "list_history", "limit": historyLimit})
		exitOnError(err)

		var scans []db.Scan
		exitOnError(decodeField(resp, "history", &scans))
		if len(scans) == 0 {
			fmt.Println("No scans recorded")
			return
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Scan ID", "CIDR", "Time", "Hosts")
		for _, s := range scans {
			_ = table.Append([]string{
				s.ID, s.CIDR,
				time.Unix(s.Timestamp, 0).Format(time.RFC3339),
				strconv.Itoa(s.HostCount),
			})
		}
		_ = table.Render()
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "number of scans to list")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(scanMultiCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(historyCmd)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func strDeref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
