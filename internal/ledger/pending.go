package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/asset-registry/internal/errors"
	"github.com/asset-registry/internal/retry"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

type pendingTx struct {
	method  string
	hash    common.Hash
	backend Backend
	poll    time.Duration
	timeout time.Duration
}

func (p *pendingTx) Hash() string {
	return p.hash.Hex()
}

// Wait polls for the receipt until the transaction is mined, the context
// ends or the confirmation timeout elapses
func (p *pendingTx) Wait(ctx context.Context) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	cfg := &retry.RetryConfig{
		InitialDelay: p.poll,
		MaxDelay:     8 * p.poll,
		Multiplier:   1.5,
		ShouldRetry: apperrors.IsRetryable,
	}

	var receipt *ethtypes.Receipt
	result := retry.WithExponentialBackoff(ctx, cfg, func(ctx context.Context, attempt int) error {
		r, err := p.backend.TransactionReceipt(ctx, p.hash)
		if err != nil {
			// not mined yet or a flaky endpoint: keep polling
			if errors.Is(err, ethereum.NotFound) || shouldFailover(err) {
				return apperrors.NewLedgerReadFailedError("getTransactionReceipt", err)
			}
			return err
		}
		receipt = r
		return nil
	})
	if !result.Success {
		return apperrors.NewTransactionFailedError(p.method, p.Hash(), result.LastError)
	}

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return apperrors.NewTransactionFailedError(p.method, p.Hash(),
			fmt.Errorf("reverted in block %v", receipt.BlockNumber))
	}
	return nil
}
