// Package main provides a read-only command that reconciles one account and
// prints the resulting snapshot as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/asset-registry/internal/address"
	"github.com/asset-registry/internal/config"
	"github.com/asset-registry/internal/ledger"
	"github.com/asset-registry/internal/logging"
	"github.com/asset-registry/internal/service"
	"github.com/asset-registry/internal/types"
)

func main() {
	account := flag.String("account", "", "account address to reconcile (required)")
	history := flag.Uint64("history", 0, "also print the full history of this owned asset id")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	if err := run(*account, *history, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		os.Exit(1)
	}
}

func run(account string, historyID uint64, timeout time.Duration) error {
	if !address.IsValid(types.Account(account)) {
		return fmt.Errorf("-account must be a 0x-prefixed 20-byte hex address, got %q", account)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// logs go to stderr so stdout stays valid JSON
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.SetOutput(os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	provider, err := ledger.NewRPCProvider(cfg.Ledger.RPCPrimary, cfg.Ledger.RPCSecondary)
	if err != nil {
		return err
	}
	registryLedger, err := ledger.NewEthereumLedger(ctx, ledger.Options{
		ContractAddress: types.Account(cfg.Ledger.ContractAddress),
		ChainID:         cfg.Ledger.ChainID,
		Provider:        provider,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to ledger: %w", err)
	}
	defer registryLedger.Close()

	session := service.NewSession(registryLedger, service.SessionConfig{
		SampleSize: cfg.Reconcile.SampleSize,
		FeedSize:   cfg.Reconcile.FeedSize,
		Logger:     logger,
	})

	snapshot, err := session.SwitchAccount(ctx, types.Account(account))
	if err != nil {
		return err
	}

	out := map[string]interface{}{"snapshot": snapshot}
	if historyID != 0 {
		records, err := session.AssetHistory(ctx, historyID)
		if err != nil {
			return err
		}
		out["history"] = records
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
