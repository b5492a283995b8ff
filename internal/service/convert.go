package service

import (
	"errors"

	"github.com/asset-registry/internal/ledger"
	"github.com/asset-registry/internal/types"
)

// errNoRecord is reported when a Reader answers with neither a record nor an error
var errNoRecord = errors.New("ledger returned no record")

// epochMillis is the single place on-chain seconds become milliseconds
func epochMillis(seconds uint64) int64 {
	return int64(seconds) * 1000
}

func profileFromRecord(rec *ledger.ProfileRecord) *types.Profile {
	return &types.Profile{
		Address:            rec.Address,
		Name:               rec.Name,
		Email:              rec.Email,
		RegisteredAtMillis: epochMillis(rec.RegisteredAt),
		IsRegistered:       rec.IsRegistered,
	}
}

func assetFromRecord(rec *ledger.AssetRecord) *types.Asset {
	return &types.Asset{
		ID:              rec.ID,
		Name:            rec.Name,
		Description:     rec.Description,
		Owner:           rec.Owner,
		CreatedAtMillis: epochMillis(rec.CreatedAt),
	}
}

func historyFromEntries(entries []ledger.HistoryEntry) []types.HistoryRecord {
	out := make([]types.HistoryRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, types.HistoryRecord{
			AssetID:         e.AssetID,
			From:            e.From,
			To:              e.To,
			TimestampMillis: epochMillis(e.Timestamp),
			TransactionType: types.TransactionType(e.TransactionType),
		})
	}
	return out
}
