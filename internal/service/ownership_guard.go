package service

import (
	"context"

	"github.com/asset-registry/internal/address"
	apperrors "github.com/asset-registry/internal/errors"
	"github.com/asset-registry/internal/ledger"
	"github.com/asset-registry/internal/logging"
	"github.com/asset-registry/internal/metrics"
	"github.com/asset-registry/internal/types"
)

// OwnershipGuard decides whether the session account may view an asset.
// Any doubt resolves to denial.
type OwnershipGuard struct {
	metrics *metrics.Metrics
}

func NewOwnershipGuard(m *metrics.Metrics) *OwnershipGuard {
	return &OwnershipGuard{metrics: m}
}

// Authorize checks the cached collection first, which costs no ledger call,
// then confirms against a fresh read. The fresh asset is returned.
func (g *OwnershipGuard) Authorize(ctx context.Context, account types.Account, assetID uint64, cached types.AssetCollection, r ledger.Reader) (*types.Asset, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"account": address.Display(account),
		"assetId": assetID,
	})

	local, ok := cached.Find(assetID)
	if !ok || !address.Equal(local.Owner, account) {
		g.metrics.ObserveGuardDecision(metrics.DecisionNotOwned)
		logger.Debug("Asset not in session collection")
		return nil, apperrors.NewNotOwnedError(account, assetID)
	}

	rec, err := r.GetAsset(ctx, assetID)
	if err == nil && rec == nil {
		err = errNoRecord
	}
	if err != nil {
		g.metrics.ObserveGuardDecision(metrics.DecisionError)
		logger.WithError(err).Warn("Ownership check read failed, denying")
		return nil, apperrors.NewLedgerReadFailedError("getAsset", err)
	}

	fresh := assetFromRecord(rec)
	if !address.Equal(fresh.Owner, account) {
		g.metrics.ObserveGuardDecision(metrics.DecisionStale)
		logger.WithField("currentOwner", address.Display(fresh.Owner)).Info("Cached ownership is stale")
		return nil, apperrors.NewOwnershipStaleError(account, assetID, fresh.Owner)
	}

	g.metrics.ObserveGuardDecision(metrics.DecisionAllowed)
	return fresh, nil
}
