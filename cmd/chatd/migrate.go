package main

import (
	"fmt"

	"github.com/sandevgo/chatd/internal/storage/sqlite"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and print the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context())
		defer flushLog()

		// openApp migrates on open.
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		version, err := sqlite.MigrationStatus(ctx, a.db)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s schema version %d\n", a.cfg.GetDatabasePath(), version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
