package cli

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/netmapper/netmapper/internal/db"
	"github.com/netmapper/netmapper/internal/layout"
	"github.com/netmapper/netmapper/internal/subnet"
)

var mapSeed int64

var mapCmd = &cobra.Command{
	Use:   "map <scan-id>",
	Short: "Render a network map of a scan",
	Long: `Cluster the hosts of one scan into inferred subnets and position
them with the force-directed layout. The host whose IP ends in .1 is
treated as the gateway anchor; positions are canvas coordinates for the
standard 1200x800 map.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := request(map[string]any{"cmd": "get_results", "scan_id": args[0]})
		exitOnError(err)

		var hosts []db.Host
		exitOnError(decodeField(resp, "results", &hosts))
		if len(hosts) == 0 {
			fmt.Println("No results (scan may still be running)")
			return
		}

		ips := make([]string, 0, len(hosts))
		for _, h := range hosts {
			ips = append(ips, h.IP)
		}
		groups := subnet.DetectSubnets(ips)

		fmt.Println("Detected subnets:")
		for _, g := range groups {
			fmt.Printf("  %s\n", g.Describe())
		}
		fmt.Println()

		nodes := make([]layout.Node, 0, len(hosts))
		for _, h := range hosts {
			nodeType := layout.NodeDevice
			if strings.HasSuffix(h.IP, ".1") {
				nodeType = layout.NodeGateway
			}
			nodes = append(nodes, layout.Node{IP: h.IP, Type: nodeType})
		}

		opts := layout.DefaultOptions()
		opts.Rand = rand.New(rand.NewSource(mapSeed))
		nodes = layout.Apply(nodes, opts)

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("IP", "Type", "X", "Y")
		for _, n := range nodes {
			_ = table.Append([]string{
				n.IP, string(n.Type),
				strconv.FormatFloat(*n.X, 'f', 1, 64),
				strconv.FormatFloat(*n.Y, 'f', 1, 64),
			})
		}
		_ = table.Render()
	},
}

func init() {
	mapCmd.Flags().Int64Var(&mapSeed, "seed", 0, "random seed for initial node placement")
	rootCmd.AddCommand(mapCmd)
}
