package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/learnly/platform/internal/domain"
	"github.com/learnly/platform/internal/infra"
	"github.com/learnly/platform/internal/notify"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("notify consumer failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reader := infra.NewKafkaConsumer(cfg, logger)
	defer reader.Close()
	if !reader.Enabled() {
		return fmt.Errorf("kafka is disabled; set KAFKA_ENABLED=true and KAFKA_BROKERS")
	}

	logger.Info("notify-consumer starting", "topic", cfg.KafkaNotifyTopic, "group", cfg.KafkaGroupID)

	consumer := notify.NewConsumer(reader, deliver(logger), logger)
	if err := consumer.Run(ctx); err != nil {
		return err
	}

	logger.Info("notify-consumer shutting down")
	return nil
}

// deliver records each notification. Mail and calendar delivery plug in here.
func deliver(logger *slog.Logger) notify.Handler {
	return func(_ context.Context, n domain.Notification) error {
		logger.Info("notification delivered",
			"event_id", n.EventID,
			"kind", n.Kind,
			"payment_id", n.PaymentID,
			"student_id", n.StudentID,
			"enrollment_id", n.EnrollmentID,
			"invoice_number", n.InvoiceNumber,
		)
		return nil
	}
}
