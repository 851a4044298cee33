package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/waterbilling/internal/audit"
	"github.com/railzwaylabs/waterbilling/internal/batch"
	"github.com/railzwaylabs/waterbilling/internal/batchlock"
	"github.com/railzwaylabs/waterbilling/internal/billingvolume"
	"github.com/railzwaylabs/waterbilling/internal/chargemodule"
	"github.com/railzwaylabs/waterbilling/internal/clock"
	"github.com/railzwaylabs/waterbilling/internal/config"
	"github.com/railzwaylabs/waterbilling/internal/invoice"
	"github.com/railzwaylabs/waterbilling/internal/jobqueue"
	"github.com/railzwaylabs/waterbilling/internal/licence"
	"github.com/railzwaylabs/waterbilling/internal/migration"
	"github.com/railzwaylabs/waterbilling/internal/observability"
	"github.com/railzwaylabs/waterbilling/internal/population"
	"github.com/railzwaylabs/waterbilling/internal/redis"
	"github.com/railzwaylabs/waterbilling/internal/scheduler"
	"github.com/railzwaylabs/waterbilling/internal/server"
	"github.com/railzwaylabs/waterbilling/internal/transaction"
	"github.com/railzwaylabs/waterbilling/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "waterbilling",
		Short:   "Water abstraction billing batches",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newMigrateCmd(), newServeCmd(), newWorkerCmd(), newAllCmd(), newFailedJobsCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations and record the schema state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(gate(), domainModules(), server.Module).Run()
			return nil
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run background job workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(gate(), domainModules(), scheduler.Module, fx.Invoke(startScheduler)).Run()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then start the API and workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			fx.New(
				gate(),
				domainModules(),
				server.Module,
				scheduler.Module,
				fx.Invoke(startScheduler),
			).Run()
			return nil
		},
	}
}

func newFailedJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "failed-jobs",
		Short: "Print jobs parked after exhausting their attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var q *jobqueue.Queue
			app := fx.New(
				config.Module,
				observability.Module,
				clock.Module,
				redis.Module,
				jobqueue.Module,
				fx.Populate(&q),
				fx.NopLogger,
			)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = app.Stop(context.Background()) }()

			jobs, err := q.Failed(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(jobs)
		},
	}
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	_ = app.Stop(context.Background())
	return nil
}

// gate provides the infrastructure every long running process needs and
// refuses to start on a database that was not migrated by this build.
func gate() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		migration.GateModule,
		clock.Module,
		redis.Module,
	)
}

func domainModules() fx.Option {
	return fx.Options(
		jobqueue.Module,
		batchlock.Module,
		chargemodule.Module,
		audit.Module,
		licence.Module,
		billingvolume.Module,
		transaction.Module,
		batch.Module,
		invoice.Module,
		population.Module,
	)
}

func registerSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}

func startScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
