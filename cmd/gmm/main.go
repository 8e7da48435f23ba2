package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/priceal/generalized-method-of-moments/internal"
	"github.com/priceal/generalized-method-of-moments/internal/config"
	"github.com/priceal/generalized-method-of-moments/internal/errors"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	var configPath string
	var appConfig *config.Config

	rootCmd := &cobra.Command{
		Use:   "gmm",
		Short: "Estimate reaction-chain decay times from dwell times with the generalized method of moments",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("GMM_CONFIG_FILE")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			appConfig = cfg
			internal.DefaultLogger = internal.NewLogger(internal.ParseLogLevel(cfg.Log.Level))
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (YAML, JSON or TOML)")

	cfg := func() *config.Config { return appConfig }
	rootCmd.AddCommand(
		newEstimateCmd(cfg),
		newSimulateCmd(cfg),
		newBuildTableCmd(cfg),
		newDescribeTableCmd(),
		newSweepCmd(cfg),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errors.ExitCode(err))
	}
}
