package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keystone-supply/catalog-etl/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "catalog-etl",
	Short: "Vendor catalog extraction pipeline",
	Long:  "Extracts HVAC vendor price pages from xlsx and PDF catalogs, transforms them into structured system records via Claude, enriches them against the AHRI directory, and loads them into a warehouse.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
