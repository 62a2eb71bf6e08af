package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"OmniSpectrum/pkg/config"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "omnispectrum",
		Short: "Forecast fusion pipeline for index options dashboards",
		Long: `omnispectrum turns a cached daily price document into a directional
forecast document: expected moves, directional tilt, volatility expansion
probability and historical pattern matches.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config/config.yaml", "config file path")

	rootCmd.AddCommand(serveCmd(), inferCmd(), trainCmd(), synthCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file when it exists; defaults and the
// environment are enough to run without one.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	return cfg, nil
}
