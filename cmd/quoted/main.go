package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	debug    bool
	provider string
)

var rootCmd = &cobra.Command{
	Use:   "quoted",
	Short: "quoted - background stock quote acquisition",
	Long: `quoted downloads daily stock quotes and price histories from a
configurable provider, keeping within the provider's request quotas.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "quote provider (overrides engine.provider)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
