package service

import (
	"context"
	"strings"
	"time"

	"github.com/asset-registry/internal/address"
	apperrors "github.com/asset-registry/internal/errors"
	"github.com/asset-registry/internal/ledger"
	"github.com/asset-registry/internal/types"
)

// ProfileInput carries registerUser / updateProfile arguments
type ProfileInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AssetInput carries registerAsset arguments
type AssetInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TransferInput carries transferAsset arguments
type TransferInput struct {
	AssetID uint64        `json:"assetId"`
	To      types.Account `json:"to"`
}

// WriteResult reports a confirmed write and the state read back after it.
// RefreshError is set when the write confirmed but the re-read failed.
type WriteResult struct {
	TxHash       string              `json:"txHash"`
	Kind         types.WriteKind     `json:"kind"`
	Snapshot     *types.Snapshot     `json:"snapshot,omitempty"`
	RefreshError *types.ServiceError `json:"refreshError,omitempty"`
}

func (in ProfileInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperrors.NewInvalidParameterError("name", "name is required")
	}
	return nil
}

func (in AssetInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperrors.NewInvalidParameterError("name", "asset name is required")
	}
	return nil
}

func (in TransferInput) validate(from types.Account) error {
	if in.AssetID == 0 {
		return apperrors.NewInvalidParameterError("assetId", "asset id is required")
	}
	if strings.TrimSpace(string(in.To)) == "" {
		return apperrors.NewInvalidParameterError("to", "target address is required")
	}
	if !address.IsValid(in.To) {
		return apperrors.NewInvalidAddressError(string(in.To))
	}
	if address.IsZero(in.To) {
		return apperrors.NewInvalidParameterError("to", "cannot transfer to the zero address")
	}
	if address.Equal(in.To, from) {
		return apperrors.NewInvalidParameterError("to", "cannot transfer to the current owner")
	}
	return nil
}

// RegisterProfile registers the session account's profile
func (s *Session) RegisterProfile(ctx context.Context, in ProfileInput) (*WriteResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return s.submit(ctx, types.WriteRegisterProfile, func(ctx context.Context, from types.Account) (ledger.PendingTx, error) {
		return s.ledger.RegisterProfile(ctx, from, strings.TrimSpace(in.Name), strings.TrimSpace(in.Email))
	})
}

// UpdateProfile changes the session account's name and email
func (s *Session) UpdateProfile(ctx context.Context, in ProfileInput) (*WriteResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return s.submit(ctx, types.WriteUpdateProfile, func(ctx context.Context, from types.Account) (ledger.PendingTx, error) {
		return s.ledger.UpdateProfile(ctx, from, strings.TrimSpace(in.Name), strings.TrimSpace(in.Email))
	})
}

// RegisterAsset registers a new asset owned by the session account
func (s *Session) RegisterAsset(ctx context.Context, in AssetInput) (*WriteResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return s.submit(ctx, types.WriteRegisterAsset, func(ctx context.Context, from types.Account) (ledger.PendingTx, error) {
		return s.ledger.RegisterAsset(ctx, from, strings.TrimSpace(in.Name), in.Description)
	})
}

// TransferAsset transfers an asset away from the session account. Ownership
// itself is enforced by the contract.
func (s *Session) TransferAsset(ctx context.Context, in TransferInput) (*WriteResult, error) {
	if err := in.validate(s.Account()); err != nil {
		return nil, err
	}
	to := address.Checksum(in.To)
	return s.submit(ctx, types.WriteTransferAsset, func(ctx context.Context, from types.Account) (ledger.PendingTx, error) {
		return s.ledger.TransferAsset(ctx, from, in.AssetID, to)
	})
}

// submit sends a write from the session account, tracks it as pending until
// confirmed, then re-reads that same account. The snapshot is never edited
// from the write itself.
func (s *Session) submit(ctx context.Context, kind types.WriteKind, send func(ctx context.Context, from types.Account) (ledger.PendingTx, error)) (*WriteResult, error) {
	s.mu.RLock()
	account, epoch := s.account, s.epoch
	s.mu.RUnlock()
	if account == "" {
		return nil, apperrors.NewNoSessionError()
	}

	logger := s.logger.WithFields(map[string]interface{}{
		"account": address.Display(account),
		"kind":    kind,
	})

	tx, err := send(ctx, account)
	if err != nil {
		s.metrics.ObserveWrite(string(kind), err)
		logger.WithError(err).Warn("Write rejected before confirmation")
		return nil, asTransactionError(string(kind), "", err)
	}

	s.addPending(epoch, types.PendingWrite{Hash: tx.Hash(), Kind: kind, SubmittedAt: time.Now().UTC()})
	err = tx.Wait(ctx)
	s.removePending(epoch, tx.Hash())
	s.metrics.ObserveWrite(string(kind), err)
	if err != nil {
		logger.WithError(err).WithField("txHash", tx.Hash()).Warn("Write failed")
		return nil, asTransactionError(string(kind), tx.Hash(), err)
	}
	logger.WithField("txHash", tx.Hash()).Info("Write confirmed")
	s.invalidate(ctx, account)

	result := &WriteResult{TxHash: tx.Hash(), Kind: kind}
	seq := s.writeSeq.Add(1)

	// nil when the session switched away from account meanwhile
	snapshot, err := s.refreshFor(ctx, account, epoch, seq)
	if err != nil {
		result.RefreshError = apperrors.Categorize(err).ToServiceError()
		return result, nil
	}
	result.Snapshot = snapshot
	return result, nil
}

func asTransactionError(op, txHash string, err error) error {
	if apperrors.Categorize(err).Code != apperrors.CodeInternalError {
		return err
	}
	return apperrors.NewTransactionFailedError(op, txHash, err)
}

func (s *Session) addPending(epoch uint64, w types.PendingWrite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return
	}
	s.pending[w.Hash] = w
}

func (s *Session) removePending(epoch uint64, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return
	}
	delete(s.pending, hash)
}
