package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"ms-fulfillment/internal/database"
	"ms-fulfillment/internal/database/migrations"
)

func migrationsRunner(bunDB *bun.DB) *migrations.Runner {
	return migrations.NewRunner(bunDB, log)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(r *migrations.Runner) error { return r.MigrateUp() })
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(r *migrations.Runner) error { return r.MigrateDown() })
	},
}

var migrateToCmd = &cobra.Command{
	Use:   "to VERSION",
	Short: "Migrate up or down to a specific version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		return withRunner(cmd, func(r *migrations.Runner) error { return r.MigrateTo(uint(version)) })
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(r *migrations.Runner) error {
			version, dirty, err := r.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
			return nil
		})
	},
}

// create-schema and drop-schema work straight from the bun models, for
// throwaway databases.
var createSchemaCmd = &cobra.Command{
	Use:   "create-schema",
	Short: "Create tables from the models without migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		bunDB, err := openDatabase(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer bunDB.Close()
		if err := database.CreateSchema(cmd.Context(), bunDB); err != nil {
			return err
		}
		log.Info("MIGRATE", "Schema created")
		return nil
	},
}

var dropSchemaCmd = &cobra.Command{
	Use:   "drop-schema",
	Short: "Drop every table",
	RunE: func(cmd *cobra.Command, args []string) error {
		bunDB, err := openDatabase(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer bunDB.Close()
		if err := database.DropSchema(cmd.Context(), bunDB); err != nil {
			return err
		}
		log.Warn("MIGRATE", "Schema dropped")
		return nil
	},
}

func withRunner(cmd *cobra.Command, fn func(*migrations.Runner) error) error {
	bunDB, err := openDatabase(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer bunDB.Close()

	runner := migrationsRunner(bunDB)
	defer runner.Close()
	return fn(runner)
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateToCmd, migrateVersionCmd, createSchemaCmd, dropSchemaCmd)
}
