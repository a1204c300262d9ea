package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/soonkuk/ledgertxn/internal/ledgertxn/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  "Display version information for ledgerctl, including the Go toolchain and the resolved store/cache configuration.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ledgerctl version %s\n", rootCmd.Version)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)

		cfg, err := config.Load(configFile)
		if err != nil {
			fmt.Printf("config (%s): unavailable (%v)\n", configFile, err)
			return
		}
		fmt.Printf("config: %s\n", configFile)
		fmt.Printf("store driver: %s, max open conns: %d, entry cache: %d, best-offers cache: %d\n",
			cfg.Store.Driver, cfg.Store.MaxOpenConns, cfg.EntryCacheSize, cfg.BestOffersCacheSize)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
