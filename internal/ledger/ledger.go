// Package ledger is the boundary to the asset registry contract. Every value
// returned here is exactly what the contract reports; timestamps are whole
// seconds and no conversion happens in this package.
package ledger

import (
	"context"

	"github.com/asset-registry/internal/types"
)

// ProfileRecord is the raw getUser result
type ProfileRecord struct {
	Address      types.Account
	Name         string
	Email        string
	RegisteredAt uint64 // epoch seconds
	IsRegistered bool
}

// AssetRecord is the raw getAsset result
type AssetRecord struct {
	ID          uint64
	Name        string
	Description string
	Owner       types.Account
	CreatedAt   uint64 // epoch seconds
}

// HistoryEntry is one element of getAssetHistory
type HistoryEntry struct {
	AssetID         uint64
	From            types.Account
	To              types.Account
	Timestamp       uint64 // epoch seconds
	TransactionType string
}

// PendingTx is a submitted write whose confirmation must be awaited
// before state is read back
type PendingTx interface {
	Hash() string
	// Wait blocks until the transaction is mined. A reverted transaction
	// is reported as an error.
	Wait(ctx context.Context) error
}

// Reader covers the contract's view functions used by reconciliation
type Reader interface {
	GetProfile(ctx context.Context, account types.Account) (*ProfileRecord, error)
	GetAsset(ctx context.Context, assetID uint64) (*AssetRecord, error)
	GetAssetIDsByOwner(ctx context.Context, account types.Account) ([]uint64, error)
	GetAssetHistory(ctx context.Context, assetID uint64) ([]HistoryEntry, error)
}

// Writer covers the state-changing contract calls. Each write is sent from
// the given account, which must be the one the signer has connected.
type Writer interface {
	RegisterProfile(ctx context.Context, from types.Account, name, email string) (PendingTx, error)
	UpdateProfile(ctx context.Context, from types.Account, name, email string) (PendingTx, error)
	RegisterAsset(ctx context.Context, from types.Account, name, description string) (PendingTx, error)
	TransferAsset(ctx context.Context, from types.Account, assetID uint64, to types.Account) (PendingTx, error)
}

// Ledger is the full contract surface
type Ledger interface {
	Reader
	Writer
}

// StatsReader is implemented by ledgers that expose contract-wide totals
type StatsReader interface {
	GetTotals(ctx context.Context) (*types.Totals, error)
}
