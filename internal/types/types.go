// Package types provides common type definitions for the asset registry client.
package types

import "time"

// Account is a 20-byte account address carried as a hex string.
// Compare accounts with the address package, never with ==.
type Account string

// String returns the account as given by its source
func (a Account) String() string {
	return string(a)
}

// TransactionType identifies the kind of a history record
type TransactionType string

const (
	// TxRegister is appended when an asset is first registered
	TxRegister TransactionType = "REGISTER"
	// TxTransfer is appended on every ownership transfer
	TxTransfer TransactionType = "TRANSFER"
)

// SessionState represents the reconciliation state of a session
type SessionState string

const (
	// StateIdle means no reconciliation is running
	StateIdle SessionState = "idle"
	// StateLoading means a reconciliation is in flight
	StateLoading SessionState = "loading"
	// StateReady means the snapshot reflects the last successful reconciliation
	StateReady SessionState = "ready"
	// StateFailed means the last reconciliation failed
	StateFailed SessionState = "failed"
)

// WriteKind identifies a write submitted to the ledger
type WriteKind string

const (
	WriteRegisterProfile WriteKind = "register_profile"
	WriteUpdateProfile   WriteKind = "update_profile"
	WriteRegisterAsset   WriteKind = "register_asset"
	WriteTransferAsset   WriteKind = "transfer_asset"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// Profile is the client view of a registered user
type Profile struct {
	Address            Account `json:"address"`
	Name               string  `json:"name"`
	Email              string  `json:"email"`
	RegisteredAtMillis int64   `json:"registeredAtMillis"`
	IsRegistered       bool    `json:"isRegistered"`
}

// Asset is the client view of a registered asset
type Asset struct {
	ID              uint64  `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Owner           Account `json:"owner"`
	CreatedAtMillis int64   `json:"createdAtMillis"`
}

// HistoryRecord is one append-only entry of an asset's history
type HistoryRecord struct {
	AssetID         uint64          `json:"assetId"`
	From            Account         `json:"from"`
	To              Account         `json:"to"`
	TimestampMillis int64           `json:"timestampMillis"`
	TransactionType TransactionType `json:"transactionType"`
}

// AssetCollection holds the assets owned by the session account,
// most recently created first.
type AssetCollection []*Asset

// Find returns the asset with the given id, if present
func (c AssetCollection) Find(id uint64) (*Asset, bool) {
	for _, a := range c {
		if a != nil && a.ID == id {
			return a, true
		}
	}
	return nil, false
}

// RecentFeed is the merged, truncated activity feed across sampled assets
type RecentFeed []HistoryRecord

// Snapshot is the result of one successful reconciliation
type Snapshot struct {
	Account      Account         `json:"account"`
	Profile      *Profile        `json:"profile,omitempty"`
	Assets       AssetCollection `json:"assets"`
	Feed         RecentFeed      `json:"feed"`
	RunID        string          `json:"runId"`
	ReconciledAt time.Time       `json:"reconciledAt"`
}

// PendingWrite is a submitted transaction still awaiting confirmation
type PendingWrite struct {
	Hash        string    `json:"hash"`
	Kind        WriteKind `json:"kind"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Totals holds contract-wide counters
type Totals struct {
	Users  uint64 `json:"users"`
	Assets uint64 `json:"assets"`
}
