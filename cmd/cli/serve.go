package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/netmapper/netmapper/internal/daemon"
	"github.com/netmapper/netmapper/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the netmapper daemon",
	Long: `Run the netmapper daemon in the foreground. The daemon binds the
unix socket gateway, opens the scan database, and runs until SIGTERM or
SIGINT. ARP sweeps need elevated privileges; use --dev with the mock
prober for unprivileged testing.`,
	Example: `  netmapper serve
  netmapper serve --dev
  NETMAPPER_MOCK_SCAN=1 netmapper serve --dev`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	d := daemon.New(cfg, logging.Default())
	if err := d.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: daemon failed: %v\n", err)
		os.Exit(1)
	}
}
