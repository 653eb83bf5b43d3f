package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/evetools/evedata/internal/config"
	"github.com/evetools/evedata/pkg/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "evedata",
	Short:         "Caching, rate-limited gateway for EVE Online game data",
	Long:          "evedata mediates access to the ESI API and the Static Data Export:\nresponse caching with conditional revalidation, error budget tracking,\nand verified atomic snapshot installs.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to config file (YAML)")
}

// loadConfig loads the effective configuration and installs the global
// logger from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: os.Stderr,
	})

	return cfg, nil
}
