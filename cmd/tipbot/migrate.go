package main

import (
	"fmt"

	tipstatedb "github.com/Maphikza/tipbot-engine/internal/database"
	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := tipstatedb.Open(databaseOptions())
		if err != nil {
			return err
		}
		if err := tipstatedb.AutoMigrate(db); err != nil {
			return err
		}
		fmt.Printf("Database schema is up to date (%s).\n", cfg.Database.Driver)
		return nil
	},
}

func databaseOptions() tipstatedb.Options {
	return tipstatedb.Options{
		Driver: tipstatedb.DatabaseType(cfg.Database.Driver),
		DSN:    cfg.Database.DSN,
		Path:   cfg.Database.Path,
	}
}
