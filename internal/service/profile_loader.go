package service

import (
	"context"

	apperrors "github.com/asset-registry/internal/errors"
	"github.com/asset-registry/internal/ledger"
	"github.com/asset-registry/internal/types"
)

// ProfileLoader reads the session account's profile
type ProfileLoader struct{}

// Load returns nil without error when the account has never registered
func (ProfileLoader) Load(ctx context.Context, r ledger.Reader, account types.Account) (*types.Profile, error) {
	rec, err := r.GetProfile(ctx, account)
	if err != nil {
		return nil, apperrors.NewLedgerReadFailedError("getUser", err)
	}
	if rec == nil || !rec.IsRegistered {
		return nil, nil
	}
	return profileFromRecord(rec), nil
}
