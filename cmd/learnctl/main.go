package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/learnly/platform/internal/app"
	"github.com/learnly/platform/internal/domain"
	"github.com/learnly/platform/internal/infra"
	"github.com/learnly/platform/internal/invoice"
	"github.com/learnly/platform/internal/repository"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cmd := &cli.Command{
		Name:  "learnctl",
		Usage: "operations tooling for the checkout database",
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "apply pending database migrations",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := infra.LoadConfig()
					if err != nil {
						return fmt.Errorf("load config: %w", err)
					}
					return infra.RunMigrations(cfg.DSN(), cfg.MigrationsDir, logger)
				},
			},
			{
				Name:  "rollback",
				Usage: "revert applied migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "steps", Value: 1, Usage: "number of migrations to revert"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := infra.LoadConfig()
					if err != nil {
						return fmt.Errorf("load config: %w", err)
					}
					return infra.RollbackMigrations(cfg.DSN(), cfg.MigrationsDir, int(cmd.Int("steps")), logger)
				},
			},
			{
				Name:  "expire-pending",
				Usage: "mark pending payments older than a threshold as failed",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "older-than", Usage: "age threshold (defaults to PENDING_EXPIRY_THRESHOLD)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return expirePending(ctx, logger, cmd.Duration("older-than"))
				},
			},
			{
				Name:  "next-invoice",
				Usage: "show the invoice number the next checkout on a channel would receive",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "channel", Value: string(domain.ChannelDomestic), Usage: "domestic or cross_border"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return nextInvoice(ctx, cmd.String("channel"))
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("learnctl failed", "error", err)
		os.Exit(1)
	}
}

func expirePending(ctx context.Context, logger *slog.Logger, olderThan time.Duration) error {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if olderThan == 0 {
		olderThan = cfg.PendingExpiryThreshold
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	svcs := app.NewServices(pool, cfg, logger, nil, nil)
	n, err := svcs.Reconcile.ExpireStale(ctx, olderThan)
	if err != nil {
		return err
	}
	fmt.Printf("expired %d pending payment(s)\n", n)
	return nil
}

func nextInvoice(ctx context.Context, channel string) error {
	ch, err := domain.ParseChannel(channel)
	if err != nil {
		return err
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	counters := repository.NewInvoiceCounterRepository()
	seq := invoice.NewSequencer(counters, cfg.InvoicePrefix, cfg.FiscalYearStart(), time.Now)

	last, err := counters.Last(ctx, pool, seq.FiscalYearCode(), ch)
	if err != nil {
		return err
	}
	next, err := seq.Preview(last, ch)
	if err != nil {
		return err
	}
	fmt.Println(next)
	return nil
}
