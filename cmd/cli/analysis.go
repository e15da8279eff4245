package cli

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/netmapper/netmapper/internal/db"
)

var timelineDays int

var compareCmd = &cobra.Command{
	Use:   "compare <scan-id-1> <scan-id-2>",
	Short: "Diff two scans by host IP",
	Long: `Compare two scans. Hosts are matched by IP; the diff reports hosts
that appeared, disappeared, changed (MAC, hostname, or vendor), or stayed
the same.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := request(map[string]any{
			"cmd": "compare_scans", "scan_id1": args[0], "scan_id2": args[1],
		})
		exitOnError(err)

		var cmp db.ScanComparison
		exitOnError(decodeField(resp, "comparison", &cmp))

		fmt.Printf("New: %d  Disappeared: %d  Changed: %d  Unchanged: %d\n\n",
			len(cmp.New), len(cmp.Disappeared), len(cmp.Changed), len(cmp.Unchanged))

		for _, h := range cmp.New {
			fmt.Printf("  + %s (%s)\n", h.IP, h.MAC)
		}
		for _, h := range cmp.Disappeared {
			fmt.Printf("  - %s (%s)\n", h.IP, h.MAC)
		}
		for _, c := range cmp.Changed {
			fields := make([]string, 0, len(c.Fields))
			for name := range c.Fields {
				fields = append(fields, name)
			}
			sort.Strings(fields)
			for _, name := range fields {
				fc := c.Fields[name]
				fmt.Printf("  ~ %s %s: %q -> %q\n", c.IP, name, fc.Old, fc.New)
			}
		}
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store-wide statistics",
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := request(map[string]any{"cmd": "get_stats"})
		exitOnError(err)

		var stats db.Stats
		exitOnError(decodeField(resp, "stats", &stats))

		fmt.Printf("Total scans:      %d\n", stats.TotalScans)
		fmt.Printf("Unique hosts:     %d\n", stats.UniqueHosts)
		fmt.Printf("Port scans:       %d\n", stats.TotalPortScans)
		if stats.OldestScanTS != nil {
			fmt.Printf("Oldest scan:      %s\n", time.Unix(*stats.OldestScanTS, 0).Format(time.RFC3339))
		}
		if stats.NewestScanTS != nil {
			fmt.Printf("Newest scan:      %s\n", time.Unix(*stats.NewestScanTS, 0).Format(time.RFC3339))
		}

		if len(stats.TopVendors) > 0 {
			fmt.Println("\nTop vendors:")
			table := tablewriter.NewWriter(os.Stdout)
			table.Header("Vendor", "Hosts")
			for _, v := range stats.TopVendors {
				_ = table.Append([]string{v.Vendor, strconv.Itoa(v.Count)})
			}
			_ = table.Render()
		}
	},
}

var timelineCmd = &cobra.Command{
	Use:   "timeline <ip>",
	Short: "Show sightings of one host over time",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := request(map[string]any{
			"cmd": "get_timeline", "ip": args[0], "days": timelineDays,
		})
		exitOnError(err)

		var entries []db.TimelineEntry
		exitOnError(decodeField(resp, "timeline", &entries))
		if len(entries) == 0 {
			fmt.Println("No sightings in window")
			return
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Time", "Scan ID", "MAC", "Hostname", "Vendor")
		for _, e := range entries {
			_ = table.Append([]string{
				time.Unix(e.Timestamp, 0).Format(time.RFC3339),
				e.ScanID, e.MAC, strDeref(e.Hostname), strDeref(e.Vendor),
			})
		}
		_ = table.Render()
	},
}

func init() {
	timelineCmd.Flags().IntVar(&timelineDays, "days", 30, "trailing window in days")

	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(timelineCmd)
}
