package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/phage/internal/auth"
	"github.com/smallbiznis/phage/internal/clock"
	"github.com/smallbiznis/phage/internal/compute"
	"github.com/smallbiznis/phage/internal/config"
	"github.com/smallbiznis/phage/internal/contact"
	"github.com/smallbiznis/phage/internal/credit"
	"github.com/smallbiznis/phage/internal/currency"
	"github.com/smallbiznis/phage/internal/ledger"
	"github.com/smallbiznis/phage/internal/migration"
	"github.com/smallbiznis/phage/internal/observability"
	"github.com/smallbiznis/phage/internal/payment"
	"github.com/smallbiznis/phage/internal/platformmetrics"
	"github.com/smallbiznis/phage/internal/providers"
	"github.com/smallbiznis/phage/internal/ratelimit"
	"github.com/smallbiznis/phage/internal/receipt"
	"github.com/smallbiznis/phage/internal/scheduler"
	"github.com/smallbiznis/phage/internal/server"
	"github.com/smallbiznis/phage/internal/simulation"
	"github.com/smallbiznis/phage/internal/storage"
	"github.com/smallbiznis/phage/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "phage",
		Short:   "Molecular dynamics simulation backend",
		Version: Version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(pollCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func core() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
	)
}

func domains() fx.Option {
	return fx.Options(
		auth.Module,
		credit.Module,
		ledger.Module,
		storage.Module,
		compute.Module,
		simulation.Module,
		payment.Module,
		providers.Module,
		contact.Module,
		currency.Module,
		receipt.Module,
		ratelimit.Module,
	)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run migrations, the HTTP API and the simulation poller",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				core(),
				migration.Module,
				domains(),
				platformmetrics.Module,
				scheduler.Module,
				server.Module,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				core(),
				migration.Module,
				fx.NopLogger,
			)
			return startStop(cmd.Context(), app)
		},
	}
}

func pollCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Submit pending simulations and refresh active ones once",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				sched *scheduler.Scheduler
				log   *zap.Logger
			)
			app := fx.New(
				core(),
				domains(),
				fx.Provide(func(cfg config.Config) scheduler.Config {
					schedCfg := scheduler.ProvideConfig(cfg)
					if batchSize > 0 {
						schedCfg.BatchSize = batchSize
					}
					return schedCfg
				}),
				fx.Provide(scheduler.New),
				fx.Populate(&sched, &log),
				fx.NopLogger,
			)
			if err := app.Err(); err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() {
				if err := app.Stop(context.Background()); err != nil {
					log.Warn("shutdown", zap.Error(err))
				}
			}()

			result, err := sched.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("submitted=%d polled=%d failed=%d skipped=%d\n",
				result.Submitted, result.Polled, result.Failed, result.Skipped)
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Maximum simulations per sweep (defaults to SCHEDULER_BATCH_SIZE)")

	return cmd
}

func startStop(ctx context.Context, app *fx.App) error {
	if err := app.Err(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	return app.Stop(context.Background())
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
