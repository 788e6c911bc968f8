package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/certrail/certrail/internal/config"
	"github.com/certrail/certrail/internal/delivery"
	"github.com/certrail/certrail/pkg/database"
	"github.com/certrail/certrail/pkg/mail"
	"github.com/certrail/certrail/pkg/messaging"
	"github.com/certrail/certrail/pkg/observability"
	"github.com/redis/go-redis/v9"
)

// dispatchTask is the wire shape shared with cmd/api.
type dispatchTask struct {
	Type  string `json:"type"` // "dispatch_all" or "dispatch_one"
	JobID int64  `json:"job_id,omitempty"`
}

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	logger := observability.NewLogger("certrail-worker")

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName: "certrail-worker",
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	store := delivery.NewStore(db)
	transport := mail.NewResendTransport(cfg.ResendAPIKey, cfg.FromEmail)
	engine := delivery.NewEngine(store, transport, logger)

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		engine.WithLease(delivery.NewRedisLease(rdb, "", 0))
	}

	broker, err := messaging.NewClient(messaging.Config{URL: cfg.RabbitURL})
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer broker.Close()
	if _, err := broker.DeclareQueue(messaging.DispatchQueue); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	logger.Info("worker consuming", "queue", messaging.DispatchQueue)
	return broker.ConsumeWithContext(ctx, messaging.DispatchQueue, func(body []byte) error {
		return handleTask(ctx, engine, logger, body)
	})
}

func handleTask(ctx context.Context, engine *delivery.Engine, logger *observability.Logger, body []byte) error {
	var task dispatchTask
	if err := json.Unmarshal(body, &task); err != nil {
		// Malformed tasks are dropped, not requeued.
		logger.Error("dropping malformed task", "error", err)
		return nil
	}

	switch task.Type {
	case "dispatch_all":
		report, err := engine.DispatchAllPending(ctx)
		if err != nil {
			if errors.Is(err, delivery.ErrDispatchLocked) {
				logger.Info("dispatch already running elsewhere; skipping")
				return nil
			}
			logger.Error("dispatch run failed", "error", err)
			return err
		}
		logger.Info("dispatch run complete", "total", report.Total, "sent", report.Sent, "failed", report.Failed)
		return nil
	case "dispatch_one":
		if err := engine.DispatchOne(ctx, task.JobID); err != nil {
			if errors.Is(err, delivery.ErrJobNotFound) {
				logger.Warn("job not dispatchable; dropping task", "job_id", task.JobID)
				return nil
			}
			logger.Error("single dispatch failed", "job_id", task.JobID, "error", err)
			return err
		}
		logger.Info("job dispatched", "job_id", task.JobID)
		return nil
	default:
		logger.Error("dropping task with unknown type", "type", task.Type)
		return nil
	}
}
