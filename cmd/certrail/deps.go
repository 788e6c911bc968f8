package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/certrail/certrail/internal/anchor"
	"github.com/certrail/certrail/internal/config"
	"github.com/certrail/certrail/internal/delivery"
	"github.com/certrail/certrail/internal/ledger"
	"github.com/certrail/certrail/pkg/database"
	"github.com/certrail/certrail/pkg/mail"
	"github.com/certrail/certrail/pkg/observability"
)

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	return database.Connect(cfg.DatabaseDSN)
}

func migrateDB(db *sql.DB) error {
	return database.Migrate(db)
}

// openEngine wires the delivery engine: store, resend transport, and,
// when redis is configured, a cross-process dispatch lease.
func openEngine(cfg *config.Config) (*delivery.Engine, func(), error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}

	logger := observability.NewLogger("certrail")
	transport := mail.NewResendTransport(cfg.ResendAPIKey, cfg.FromEmail)
	engine := delivery.NewEngine(delivery.NewStore(db), transport, logger)

	cleanup := func() { db.Close() }
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		engine.WithLease(delivery.NewRedisLease(rdb, "", 0))
		cleanup = func() {
			rdb.Close()
			db.Close()
		}
	}
	return engine, cleanup, nil
}

// openAnchor dials the ledger and wraps it in the anchoring service.
func openAnchor(ctx context.Context, cfg *config.Config) (*anchor.Service, func(), error) {
	if cfg.ContractAddress == "" || cfg.PrivateKey == "" {
		return nil, nil, fmt.Errorf("ledger is not configured: set CONTRACT_ADDRESS and PRIVATE_KEY")
	}

	client, err := ledger.Dial(ctx, ledger.Config{
		RPCURL:          cfg.RPCURL,
		ContractAddress: cfg.ContractAddress,
		PrivateKey:      cfg.PrivateKey,
		ChainID:         cfg.ChainID,
		GasLimit:        cfg.GasLimit,
	})
	if err != nil {
		return nil, nil, err
	}

	svc := anchor.NewService(client, observability.NewLogger("certrail"))
	return svc, client.Close, nil
}
