package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/certrail/certrail/internal/anchor"
	"github.com/certrail/certrail/internal/config"
	"github.com/certrail/certrail/internal/delivery"
	"github.com/certrail/certrail/internal/ledger"
	"github.com/certrail/certrail/pkg/database"
	"github.com/certrail/certrail/pkg/messaging"
	"github.com/certrail/certrail/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "api:", err)
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
	logger := observability.NewLogger("certrail-api")

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName: "certrail-api",
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

	h := &APIHandler{
		queue:     delivery.NewStore(db),
		taskQueue: messaging.DispatchQueue,
		logger:    logger,
	}

	// The ledger and broker are optional. Their endpoints answer 503
	// when the corresponding backend is not configured.
	if cfg.ContractAddress != "" {
		client, err := ledger.Dial(ctx, ledger.Config{
			RPCURL:          cfg.RPCURL,
			ContractAddress: cfg.ContractAddress,
			PrivateKey:      cfg.PrivateKey,
			ChainID:         cfg.ChainID,
			GasLimit:        cfg.GasLimit,
		})
		if err != nil {
			return fmt.Errorf("dial ledger: %w", err)
		}
		defer client.Close()
		h.verifier = anchor.NewService(client, logger)
	} else {
		logger.Warn("no contract address configured; verification endpoints disabled")
	}

	if cfg.RabbitURL != "" {
		broker, err := messaging.NewClient(messaging.Config{URL: cfg.RabbitURL})
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
		defer broker.Close()
		if _, err := broker.DeclareQueue(messaging.DispatchQueue); err != nil {
			return fmt.Errorf("declare queue: %w", err)
		}
		h.publisher = broker
	} else {
		logger.Warn("no broker configured; async dispatch disabled")
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	api.HandleFunc("/history", h.History).Methods(http.MethodGet)
	api.HandleFunc("/verify/{id}", h.VerifyByID).Methods(http.MethodGet)
	api.HandleFunc("/verify", h.VerifyUpload).Methods(http.MethodPost)
	api.HandleFunc("/certificates/{id}", h.Details).Methods(http.MethodGet)
	api.HandleFunc("/dispatch", h.Dispatch).Methods(http.MethodPost)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      otelhttp.NewHandler(r, "certrail-api"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}
