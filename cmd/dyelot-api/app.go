package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/config"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/database"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/importer"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/integration"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/server"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/shopify"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/storesync"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/webhooks"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const redisPingTimeout = 5 * time.Second

// application holds the wired services shared by every subcommand.
type application struct {
	db           *gorm.DB
	identifiers  *identity.Service
	integrations *integration.Service
	sync         *storesync.Service
	importer     *importer.Service
	commerce     storesync.CommerceProvider
	realtime     *server.RealtimeDispatcher
	logger       *zap.Logger
}

func newApplication(appConfig config.AppConfig, logger *zap.Logger) (*application, error) {
	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	identifiers, err := identity.NewService(identity.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return nil, err
	}
	integrations, err := integration.NewService(integration.ServiceConfig{Database: db, Identifiers: identifiers, Logger: logger})
	if err != nil {
		return nil, err
	}

	realtime := server.NewRealtimeDispatcher()
	commerce := storesync.NewShopifyProvider(shopify.ClientConfig{
		APIVersion:        appConfig.Shopify.APIVersion,
		MaxRetries:        appConfig.Shopify.MaxRetries,
		InitialBackoff:    appConfig.Shopify.InitialBackoff,
		RateLimitFallback: appConfig.Shopify.RateLimitFallback,
		Timeout:           appConfig.Shopify.Timeout,
		RequestsPerSecond: appConfig.Shopify.RequestsPerSecond,
	}, logger)
	syncService, err := storesync.NewService(storesync.ServiceConfig{
		Database:     db,
		Identifiers:  identifiers,
		Integrations: integrations,
		Commerce:     commerce,
		Publisher:    realtime,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	importService, err := importer.NewService(importer.ServiceConfig{
		Database:     db,
		Identifiers:  identifiers,
		Integrations: integrations,
		Sync:         syncService,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	return &application{
		db:           db,
		identifiers:  identifiers,
		integrations: integrations,
		sync:         syncService,
		importer:     importService,
		commerce:     commerce,
		realtime:     realtime,
		logger:       logger,
	}, nil
}

// webhookProcessor picks the redis delivery ledger when an address is configured and the
// in-process ledger otherwise. The returned cleanup closes the redis client.
func (a *application) webhookProcessor(ctx context.Context, appConfig config.AppConfig) (*webhooks.Processor, func(), error) {
	var ledger webhooks.DeliveryLedger = webhooks.NewMemoryLedger(appConfig.DedupeTTL, nil)
	cleanup := func() {}
	if appConfig.RedisAddress != "" {
		client := redis.NewClient(&redis.Options{Addr: appConfig.RedisAddress})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis %s unreachable: %w", appConfig.RedisAddress, err)
		}
		ledger = webhooks.NewRedisLedger(client, appConfig.DedupeTTL)
		cleanup = func() { _ = client.Close() }
		a.logger.Info("webhook dedupe ledger", zap.String("backend", "redis"), zap.String("address", appConfig.RedisAddress))
	} else {
		a.logger.Info("webhook dedupe ledger", zap.String("backend", "memory"))
	}

	processor, err := webhooks.NewProcessor(webhooks.ProcessorConfig{
		Connections: a.integrations,
		Puller:      a.sync,
		Commerce:    a.commerce,
		Ledger:      ledger,
		Logger:      a.logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return processor, cleanup, nil
}

func (a *application) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
