package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/asset-registry/internal/ledger"
	"github.com/asset-registry/internal/logging"
	"github.com/asset-registry/internal/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Default wait configuration values.
const (
	DefaultMaxWait   = 10 * time.Second
	DefaultBaseDelay = 50 * time.Millisecond
)

// ErrBudgetExhausted is returned when no budget freed up within MaxWait.
// The message avoids transport wording so the ledger never fails over on it.
var ErrBudgetExhausted = errors.New("rpc compute budget exhausted")

// BackendConfig configures a LimitedBackend.
type BackendConfig struct {
	Tracker *BudgetTracker
	Costs   *CostRegistry // defaults to NewCostRegistry(0, nil)
	Metrics *metrics.Metrics

	// MaxWait bounds how long a call waits for budget. Default: 10s.
	MaxWait time.Duration

	// BaseDelay is the first backoff step for background calls; it doubles
	// on each denial up to the window size. Default: 50ms.
	BaseDelay time.Duration
}

// LimitedBackend charges every JSON-RPC call against the shared budget
// before passing it to the wrapped backend. The pool is chosen from the
// call's context, see WithPriority.
type LimitedBackend struct {
	underlying ledger.Backend
	tracker    *BudgetTracker
	costs      *CostRegistry
	metrics    *metrics.Metrics
	maxWait    time.Duration
	baseDelay  time.Duration
}

var _ ledger.Backend = (*LimitedBackend)(nil)

// NewLimitedBackend wraps b.
func NewLimitedBackend(b ledger.Backend, cfg BackendConfig) (*LimitedBackend, error) {
	if b == nil {
		return nil, errors.New("underlying backend is required")
	}
	if cfg.Tracker == nil {
		return nil, errors.New("budget tracker is required")
	}

	costs := cfg.Costs
	if costs == nil {
		costs = NewCostRegistry(0, nil)
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}

	return &LimitedBackend{
		underlying: b,
		tracker:    cfg.Tracker,
		costs:      costs,
		metrics:    cfg.Metrics,
		maxWait:    maxWait,
		baseDelay:  baseDelay,
	}, nil
}

// WrapDial returns a DialFunc whose backends are budget-limited
func WrapDial(dial ledger.DialFunc, cfg BackendConfig) ledger.DialFunc {
	return func(ctx context.Context, url string) (ledger.Backend, error) {
		b, err := dial(ctx, url)
		if err != nil {
			return nil, err
		}
		limited, err := NewLimitedBackend(b, cfg)
		if err != nil {
			b.Close()
			return nil, err
		}
		return limited, nil
	}
}

// waitForBudget blocks until cu is granted, ctx ends or MaxWait passes.
// Background calls back off exponentially; interactive calls retry at the
// next window.
func (b *LimitedBackend) waitForBudget(ctx context.Context, method string) error {
	priority := PriorityFrom(ctx)
	cu := b.costs.GetCost(method)
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"method":   method,
		"priority": priority.String(),
		"cu":       cu,
	})

	start := time.Now()
	deadline := start.Add(b.maxWait)
	delay := b.baseDelay
	waited := false

	for {
		allowed, wait, err := b.tracker.TryConsume(ctx, cu, priority)
		if err != nil {
			logger.WithError(err).Warn("RPC budget check failed")
		}
		if allowed {
			if waited {
				b.metrics.ObserveBudgetWait(priority.String(), "granted", time.Since(start))
			}
			if err := b.tracker.RecordMethodUsage(ctx, method, cu); err != nil {
				logger.WithError(err).Debug("Failed to record method usage")
			}
			return nil
		}

		if priority == PriorityBackground && delay > wait {
			wait = delay
		}
		delay *= 2
		if limit := b.tracker.WindowSize(); delay > limit {
			delay = limit
		}

		if time.Now().Add(wait).After(deadline) {
			b.metrics.ObserveBudgetWait(priority.String(), "exhausted", time.Since(start))
			logger.WithField("waited", time.Since(start).String()).Warn("RPC budget wait exceeded")
			return ErrBudgetExhausted
		}

		if !waited {
			logger.WithField("wait", wait.String()).Debug("Waiting for RPC budget")
			waited = true
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (b *LimitedBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := b.waitForBudget(ctx, MethodCall); err != nil {
		return nil, fmt.Errorf("%s: %w", MethodCall, err)
	}
	return b.underlying.CallContract(ctx, msg, blockNumber)
}

func (b *LimitedBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := b.waitForBudget(ctx, MethodGetTransactionCount); err != nil {
		return 0, fmt.Errorf("%s: %w", MethodGetTransactionCount, err)
	}
	return b.underlying.PendingNonceAt(ctx, account)
}

func (b *LimitedBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := b.waitForBudget(ctx, MethodGasPrice); err != nil {
		return nil, fmt.Errorf("%s: %w", MethodGasPrice, err)
	}
	return b.underlying.SuggestGasPrice(ctx)
}

func (b *LimitedBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := b.waitForBudget(ctx, MethodEstimateGas); err != nil {
		return 0, fmt.Errorf("%s: %w", MethodEstimateGas, err)
	}
	return b.underlying.EstimateGas(ctx, msg)
}

func (b *LimitedBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	if err := b.waitForBudget(ctx, MethodSendRawTransaction); err != nil {
		return fmt.Errorf("%s: %w", MethodSendRawTransaction, err)
	}
	return b.underlying.SendTransaction(ctx, tx)
}

func (b *LimitedBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	if err := b.waitForBudget(ctx, MethodGetTransactionReceipt); err != nil {
		return nil, fmt.Errorf("%s: %w", MethodGetTransactionReceipt, err)
	}
	return b.underlying.TransactionReceipt(ctx, txHash)
}

// Close closes the wrapped backend
func (b *LimitedBackend) Close() {
	b.underlying.Close()
}
