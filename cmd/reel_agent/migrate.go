package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrateCmd,
}

func init() {
	migrateCmd.Flags().Bool("status", false, "Only print the current schema version")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrateCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	statusOnly, _ := cmd.Flags().GetBool("status")

	// Migrations are applied explicitly below
	c := *cfg
	c.Store.AutoMigrate = false
	a, err := newApp(ctx, &c, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if a.migrator == nil {
		return errors.New("the memory store has no schema: choose --store postgres or sqlite")
	}
	if !statusOnly {
		if err := a.migrator.Migrate(ctx); err != nil {
			return err
		}
	}
	version, err := a.migrator.MigrationVersion(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
	return nil
}
