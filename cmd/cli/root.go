// Package cli implements the netmapper command-line interface: the serve
// command that runs the daemon, and client commands that talk to a running
// daemon over its unix socket.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/netmapper/netmapper/internal/config"
	"github.com/netmapper/netmapper/internal/logging"
)

var (
	cfgFile    string
	socketPath string
	verbose    bool
	devMode    bool
)

// Build information, set from main via ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "netmapper",
	Short: "Local network discovery and mapping",
	Long: `Netmapper discovers hosts on local IP networks via ARP sweeps and
optional port scans, persists every scan, and supports historical analysis:
scan comparison, per-host timelines, and automatic retention cleanup.

The serve command runs the privileged daemon; all other commands are
clients of a running daemon's unix socket.`,
	Version: getVersion(),
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/netmapper/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "daemon socket path (defaults from config and dev mode)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "dev mode: /tmp socket and user-writable database")

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(f.Name, f); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", f.Name, err)
		}
	})
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("/etc/netmapper")
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("NETMAPPER")

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	initLogging()
}

// loadConfig builds the effective configuration from file, env, and flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		return nil, err
	}

	if devMode || os.Getenv("NETMAPPER_DEV") == "1" {
		cfg.ApplyDevMode()
	}
	if socketPath != "" {
		cfg.Daemon.SocketPath = socketPath
	}
	if viper.GetBool("scanning.use_mock_prober") || os.Getenv("NETMAPPER_MOCK_SCAN") == "1" {
		cfg.Scanning.UseMockProber = true
	}
	return cfg, nil
}

// clientSocketPath resolves the socket client commands should dial.
func clientSocketPath() string {
	if socketPath != "" {
		return socketPath
	}
	cfg, err := loadConfig()
	if err != nil {
		if devMode {
			return config.DevSocketPath
		}
		return config.DefaultSocketPath
	}
	return cfg.Daemon.SocketPath
}

func initLogging() {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		return
	}

	logConfig := cfg.Logging
	if verbose {
		logConfig.Level = logging.LevelDebug
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)
}

func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion records build information from main.
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}
