package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"ms-fulfillment/internal/config"
	"ms-fulfillment/internal/database"
	"ms-fulfillment/internal/logger"
)

var (
	cfg *config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ms-fulfillment",
	Short: "Restaurant order fulfillment service",
	Long: `Takes pickup orders, authorizes payment, records the payment webhook,
creates kitchen tickets and sends customer notifications.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log = logger.NewLogger()
		if err := godotenv.Load(); err != nil {
			log.Warn("CONFIG", ".env file not found, using environment variables")
		} else {
			log.Info("CONFIG", "Loaded environment variables from .env file")
		}
		cfg = config.Load()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			log.Close()
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, reconcileCmd)
}

// openDatabase connects to Postgres and, when enabled, brings the schema up
// to date.
func openDatabase(ctx context.Context, migrate bool) (*bun.DB, error) {
	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if migrate {
		runner := migrationsRunner(bunDB)
		defer runner.Close()
		if err := runner.MigrateUp(); err != nil {
			bunDB.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	return bunDB, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
