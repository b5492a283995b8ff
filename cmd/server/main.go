// Package main provides the API server entry point for the asset registry client.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asset-registry/internal/api"
	"github.com/asset-registry/internal/circuitbreaker"
	"github.com/asset-registry/internal/config"
	"github.com/asset-registry/internal/ledger"
	"github.com/asset-registry/internal/logging"
	"github.com/asset-registry/internal/metrics"
	"github.com/asset-registry/internal/ratelimit"
	"github.com/asset-registry/internal/service"
	"github.com/asset-registry/internal/storage"
	"github.com/asset-registry/internal/types"
	"github.com/asset-registry/internal/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	fmt.Println("Asset Registry API Server")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	signer, err := wallet.NewKeySigner(cfg.Wallet.PrivateKeys)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load wallet keys")
	}
	logger.WithField("accounts", len(signer.Accounts())).Info("Wallet keys loaded")

	var cache *storage.RedisCache
	if cfg.Redis.Enabled {
		cache, err = storage.NewRedisCache(&cfg.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer cache.Close()
	}

	var dial ledger.DialFunc = ledger.DialEthclient
	if cfg.RPCBudget.Enabled && cache != nil {
		tracker, err := ratelimit.NewBudgetTracker(&ratelimit.BudgetTrackerConfig{
			Redis:          cache.Client(),
			TotalBudget:    cfg.RPCBudget.TotalCU,
			ReservedBudget: cfg.RPCBudget.ReservedCU,
			WindowSize:     cfg.RPCBudget.Window,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to configure RPC budget")
		}
		dial = ratelimit.WrapDial(ledger.DialEthclient, ratelimit.BackendConfig{
			Tracker: tracker,
			Metrics: m,
			MaxWait: cfg.RPCBudget.MaxWait,
		})
		go ratelimit.NewMonitor(tracker, m, 0, 0).Run(logging.WithLogger(ctx, logger))
		logger.WithFields(map[string]interface{}{
			"totalCU":    cfg.RPCBudget.TotalCU,
			"reservedCU": cfg.RPCBudget.ReservedCU,
		}).Info("RPC compute budget enabled")
	}

	provider, err := ledger.NewRPCProvider(cfg.Ledger.RPCPrimary, cfg.Ledger.RPCSecondary)
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure RPC provider")
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, 15*time.Second)
	registryLedger, err := ledger.NewEthereumLedger(dialCtx, ledger.Options{
		ContractAddress: types.Account(cfg.Ledger.ContractAddress),
		ChainID:         cfg.Ledger.ChainID,
		Provider:        provider,
		Dial:            dial,
		Signer:          signer,
		Metrics:         m,
		Breaker:         circuitbreaker.DefaultConfig("ledger"),
		ConfirmPoll:     cfg.Ledger.ConfirmPoll,
		ConfirmTimeout:  cfg.Ledger.ConfirmTimeout,
	})
	cancelDial()
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ledger")
	}
	defer registryLedger.Close()

	sessionConfig := service.SessionConfig{
		SampleSize: cfg.Reconcile.SampleSize,
		FeedSize:   cfg.Reconcile.FeedSize,
		Metrics:    m,
		Logger:     logger,
	}

	var snapshots api.SnapshotReader
	if cache != nil {
		store := storage.NewSnapshotStore(cache, cfg.Cache.TTL)
		sessionConfig.Publisher = store
		snapshots = store
		logger.WithField("ttl", cfg.Cache.TTL.String()).Info("Snapshot publication enabled")
	}

	session := service.NewSession(registryLedger, sessionConfig)

	// the session follows whatever account the signer is connected to
	go func() {
		if err := session.Watch(ctx, signer); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Account watcher stopped")
		}
	}()

	if cfg.Wallet.DefaultAccount != "" {
		if err := signer.Connect(types.Account(cfg.Wallet.DefaultAccount)); err != nil {
			logger.WithError(err).Fatal("Failed to connect default account")
		}
	}

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    cfg.Ledger.ConfirmTimeout + 30*time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RequestsPerSec:  cfg.RateLimit.RequestsPerSecond,
		Burst:           cfg.RateLimit.Burst,
		Gatherer:        registry,
	}

	server := api.NewServer(serverConfig, api.Dependencies{
		Session:   session,
		Wallet:    signer,
		Snapshots: snapshots,
		Health:    registryLedger,
	})

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host":     cfg.Server.Host,
		"port":     cfg.Server.Port,
		"contract": cfg.Ledger.ContractAddress,
		"chainId":  cfg.Ledger.ChainID,
	}).Info("Server started successfully")

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		os.Exit(1)
	}

	logger.Info("Server exited")
}
