package cmd

import (
	"fmt"
	"github.com/nxnxha/RnGM/rencontre"
	"github.com/spf13/cobra"
	"log"
	"log/slog"
)

// initOwners are discord user IDs granted the owner role by `init`
var initOwners []string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or migrate the database, and optionally add bot owners",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("Environment variable MR_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"Environment variable MR_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}
		db, err := rencontre.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			defer func() {
				_ = sqlDB.Close()
			}()
		}

		out := cmd.OutOrStdout()
		store := rencontre.NewGormStore(
			rencontre.NewDatabase(db, nil, cfg.DatabaseType != "sqlite"),
			cfg.Interactions,
			slog.Default(),
		)
		for _, userID := range initOwners {
			if err = store.AddOwner(ctx, userID, "init"); err != nil {
				log.Fatalf("Error adding owner %s: %v", userID, err)
			}
			fmt.Fprintf(out, "Owner added: %s\n", userID)
		}

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

func init() {
	initCmd.Flags().StringSliceVar(
		&initOwners,
		"owner",
		nil,
		"Discord user ID to add as a bot owner (repeatable)",
	)
	rootCmd.AddCommand(initCmd)
}
