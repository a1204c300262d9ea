// Package cli is the ledgerctl command tree, grounded on goXRPLd's
// internal/cli package: a cobra rootCmd carrying persistent flags,
// subcommands registered from their own init().
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:     "ledgerctl",
	Short:   "ledgerctl - inspect a ledger transaction store",
	Long:    `ledgerctl opens a LedgerTxnRoot against a configured backing store for ad-hoc queries and dumps, without staging any write transaction of its own.`,
	Version: "0.1.0-dev",
}

// Execute runs the command tree. Called once from cmd/ledgerctl/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "ledgerctl.toml", "configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
}
