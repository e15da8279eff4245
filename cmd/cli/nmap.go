package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/netmapper/netmapper/internal/db"
)

var (
	nmapPorts     string
	nmapHistLimit int
)

var nmapCmd = &cobra.Command{
	Use:   "nmap <ip>",
	Short: "Port-scan a single host",
	Long: `Run an nmap port scan of one host through the daemon and print the
raw XML result. The result is also recorded in the port-scan history.`,
	Example: `  netmapper nmap 192.168.1.10
  netmapper nmap 192.168.1.10 --ports 22,80,443`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		payload := map[string]any{"cmd": "nmap", "ip": args[0]}
		if nmapPorts != "" {
			payload["ports"] = nmapPorts
		}
		resp, err := request(payload)
		exitOnError(err)
		fmt.Println(resp["nmap_xml"])
	},
}

var nmapHistoryCmd = &cobra.Command{
	Use:   "nmap-history <ip>",
	Short: "Show past port scans of a host",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := request(map[string]any{
			"cmd": "get_nmap_history", "ip": args[0], "limit": nmapHistLimit,
		})
		exitOnError(err)

		var records []db.PortScanRecord
		exitOnError(decodeField(resp, "history", &records))
		if len(records) == 0 {
			fmt.Println("No port scans recorded")
			return
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Time", "Open Ports", "Services")
		for _, r := range records {
			_ = table.Append([]string{
				time.Unix(r.Timestamp, 0).Format(time.RFC3339),
				r.Ports,
				r.Services,
			})
		}
		_ = table.Render()
	},
}

func init() {
	nmapCmd.Flags().StringVar(&nmapPorts, "ports", "", "port range (default 1-1024)")
	nmapHistoryCmd.Flags().IntVar(&nmapHistLimit, "limit", 10, "number of records to show")

	rootCmd.AddCommand(nmapCmd)
	rootCmd.AddCommand(nmapHistoryCmd)
}
