// Command addrsync pushes outbox events to the downstream registry from
// the command line, for operators replaying or rerunning deliveries.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"addrreg/internal/events"
	"addrreg/internal/platform/logger"
	"addrreg/internal/registry/models"
	"addrreg/internal/registry/service"
	"addrreg/internal/sync"
	"addrreg/internal/temporal"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "addrsync",
		Short: "Deliver address register events to the downstream registry",
	}
	cmd.AddCommand(pushCmd())
	return cmd
}

func pushCmd() *cobra.Command {
	var (
		host     string
		path     string
		database string
		full     bool
		width    int
		include  []string
		exclude  []string
		failFast bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Run one push pass against the destination",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if host == "" {
				return fmt.Errorf("--host is required")
			}
			if database == "" {
				database = os.Getenv("ADDRREG_DATABASE_URL")
			}
			if database == "" {
				return fmt.Errorf("--database or ADDRREG_DATABASE_URL is required")
			}

			db, err := sql.Open("postgres", database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			if err := db.PingContext(cmd.Context()); err != nil {
				return fmt.Errorf("ping database: %w", err)
			}

			log := logger.New()
			schemas := models.Schemas()
			temporalStore := temporal.NewPostgres(db, schemas)
			eventService := events.NewService(events.NewPostgres(db), temporalStore)
			registry := service.New(schemas, temporalStore, eventService, newPassthroughTx(), log)

			dest := sync.NewHTTPDestination(host+path, timeout)
			pusher := sync.NewPusher(eventService, registry, dest, log, nil)

			result, err := pusher.Push(cmd.Context(), sync.Options{
				Full:     full,
				Include:  include,
				Exclude:  exclude,
				Width:    width,
				FailFast: failFast,
			})
			if err != nil {
				return err
			}
			fmt.Printf("delivered=%d failed=%d skipped=%d\n",
				result.Delivered, result.Failed, result.Skipped)
			if result.Failed > 0 {
				return fmt.Errorf("%d events failed", result.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "destination base URL")
	cmd.Flags().StringVar(&path, "path", "/odata/gapi/Events", "destination path")
	cmd.Flags().StringVar(&database, "database", "", "postgres connection URL")
	cmd.Flags().BoolVar(&full, "full", false, "resend all events, not just pending ones")
	cmd.Flags().IntVar(&width, "width", 4, "number of objects pushed concurrently")
	cmd.Flags().StringSliceVar(&include, "include", nil, "entity types to include")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "entity types to exclude")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "abort on the first delivery error")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "per-request timeout")
	return cmd
}
