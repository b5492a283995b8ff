package service

import (
	"context"
	"sort"

	apperrors "github.com/asset-registry/internal/errors"
	"github.com/asset-registry/internal/ledger"
	"github.com/asset-registry/internal/types"
	"golang.org/x/sync/errgroup"
)

// AssetSetLoader resolves every asset owned by an account
type AssetSetLoader struct{}

// Load lists the owner's ids and resolves them concurrently. Any failed
// resolution fails the whole load; a partial collection is never returned.
// The result has one entry per listed id; an id listed twice is read once.
func (AssetSetLoader) Load(ctx context.Context, r ledger.Reader, account types.Account) (types.AssetCollection, error) {
	ids, err := r.GetAssetIDsByOwner(ctx, account)
	if err != nil {
		return nil, apperrors.NewLedgerReadFailedError("getAssetsByOwner", err)
	}

	unique := uniqueIDs(ids)
	resolved := make([]*types.Asset, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range unique {
		i, id := i, id
		g.Go(func() error {
			rec, err := r.GetAsset(gctx, id)
			if err == nil && rec == nil {
				err = errNoRecord
			}
			if err != nil {
				return apperrors.NewAssetResolutionFailedError(account, id, err)
			}
			resolved[i] = assetFromRecord(rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[uint64]*types.Asset, len(resolved))
	for _, a := range resolved {
		byID[a.ID] = a
	}
	assets := make(types.AssetCollection, 0, len(ids))
	for _, id := range ids {
		a := *byID[id]
		assets = append(assets, &a)
	}

	sortAssets(assets)
	return assets, nil
}

// sortAssets orders newest first, ties by ascending id
func sortAssets(assets types.AssetCollection) {
	sort.SliceStable(assets, func(i, j int) bool {
		if assets[i].CreatedAtMillis != assets[j].CreatedAtMillis {
			return assets[i].CreatedAtMillis > assets[j].CreatedAtMillis
		}
		return assets[i].ID < assets[j].ID
	})
}

func uniqueIDs(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
