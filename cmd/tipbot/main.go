package main

import (
	"fmt"
	"log"
	"os"

	"github.com/Maphikza/tipbot-engine/internal/config"
	"github.com/Maphikza/tipbot-engine/internal/logger"
	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "tipbot",
	Short: "Chat tipping engine",
	Long:  `Moves custodial coin between chat users: tip named users, rain on active members, confirm staged transfers.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
	for _, c := range clientCommands() {
		rootCmd.AddCommand(c)
	}
}

func initConfig() error {
	loaded, err := config.Load()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	cfg = loaded

	return logger.Init(logger.Options{
		FilePath: cfg.Log.File,
		Level:    cfg.Log.Level,
		Console:  cfg.Log.Console,
	})
}

func main() {
	log.SetFlags(0)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
