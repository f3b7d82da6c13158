package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	commit  = "unknown"
)

// settings resolves flags, then GRIDVM_* environment variables, then flag
// defaults.
var settings = viper.New()

// Setting keys, also the persistent flag names.
const (
	keyConfig     = "config"
	keyLogLevel   = "log-level"
	keyLogFormat  = "log-format"
	keyStateDir   = "state-dir"
	keyUsername   = "username"
	keySite       = "site"
	keyGateway    = "gateway"
	keyPrivateKey = "private-key"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gridvm",
	Short: "gridvm - virtual machines on OAR clusters",
	Long: `gridvm launches virtual machines as OAR jobs on Grid'5000 style clusters.

Everything happens over SSH on the site frontend: boot disks are cloned or
copied next to the source image, bridged machines share a reserved subnet,
and each VM runs inside its own scheduler job.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP(keyConfig, "c", "gridvm.yaml", "configuration file")
	flags.String(keyLogLevel, "warn", "log level (debug, info, warn, error)")
	flags.String(keyLogFormat, "console", "log encoding (console, json)")
	flags.String(keyStateDir, "", "directory holding machine records (default ~/.local/state/gridvm)")
	flags.String(keyUsername, "", "Grid'5000 username, overrides the configuration")
	flags.String(keySite, "", "site frontend, overrides the configuration")
	flags.String(keyGateway, "", "SSH jump host, overrides the configuration")
	flags.String(keyPrivateKey, "", "SSH private key, overrides the configuration")

	if err := settings.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("failed to bind flags: %v", err))
	}
	settings.SetEnvPrefix("gridvm")
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(testConnCmd)
}
