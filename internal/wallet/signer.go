// Package wallet holds the local signing keys and tracks which account is
// currently connected.
package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/asset-registry/internal/address"
	apperrors "github.com/asset-registry/internal/errors"
	"github.com/asset-registry/internal/logging"
	"github.com/asset-registry/internal/types"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer exposes the connected account and its changes
type Signer interface {
	CurrentAccount() types.Account
	// Subscribe delivers every subsequent account change, the empty
	// account meaning disconnect. Call cancel to stop delivery.
	Subscribe() (<-chan types.Account, func())
}

// KeySigner signs with in-memory secp256k1 keys
type KeySigner struct {
	mu      sync.RWMutex
	keys    map[string]*ecdsa.PrivateKey // normalized address -> key
	order   []types.Account
	current types.Account

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan types.Account
}

// NewKeySigner loads hex-encoded private keys. Nothing is connected until
// Connect is called.
func NewKeySigner(hexKeys []string) (*KeySigner, error) {
	s := &KeySigner{
		keys: make(map[string]*ecdsa.PrivateKey),
		subs: make(map[int]chan types.Account),
	}
	for i, raw := range hexKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
		if err != nil {
			return nil, fmt.Errorf("wallet key %d: %w", i, err)
		}
		account := address.FromCommon(crypto.PubkeyToAddress(key.PublicKey))
		norm := address.Normalize(account)
		if _, dup := s.keys[norm]; dup {
			continue
		}
		s.keys[norm] = key
		s.order = append(s.order, account)
	}
	return s, nil
}

// Accounts lists the accounts the signer holds keys for, in load order
func (s *KeySigner) Accounts() []types.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Account, len(s.order))
	copy(out, s.order)
	return out
}

// CurrentAccount returns the connected account or the empty account
func (s *KeySigner) CurrentAccount() types.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Connect switches to account. Connecting the already-connected account
// is a no-op and publishes nothing.
func (s *KeySigner) Connect(account types.Account) error {
	if !address.IsValid(account) {
		return apperrors.NewInvalidAddressError(string(account))
	}

	s.mu.Lock()
	key := s.keys[address.Normalize(account)]
	if key == nil {
		s.mu.Unlock()
		return apperrors.NewUnknownAccountError(account)
	}
	next := address.FromCommon(crypto.PubkeyToAddress(key.PublicKey))
	if address.Equal(s.current, next) {
		s.mu.Unlock()
		return nil
	}
	s.current = next
	s.mu.Unlock()

	logging.WithField("account", address.Display(next)).Info("Signer connected")
	s.publish(next)
	return nil
}

// Disconnect clears the connected account
func (s *KeySigner) Disconnect() {
	s.mu.Lock()
	if s.current == "" {
		s.mu.Unlock()
		return
	}
	s.current = ""
	s.mu.Unlock()

	logging.Info("Signer disconnected")
	s.publish("")
}

// SignTx signs tx with account's key. account must be the connected one,
// so a write prepared before a switch cannot go out under the new account.
func (s *KeySigner) SignTx(account types.Account, tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	s.mu.RLock()
	key := s.keys[address.Normalize(account)]
	current := s.current
	s.mu.RUnlock()

	if current == "" {
		return nil, apperrors.NewNoSessionError()
	}
	if key == nil {
		return nil, apperrors.NewUnknownAccountError(account)
	}
	if !address.Equal(account, current) {
		return nil, apperrors.NewNotConnectedError(account)
	}
	return ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), key)
}

// Subscribe registers for account changes. The channel holds the most
// recent change only; a slow reader sees the latest account, not every one.
func (s *KeySigner) Subscribe() (<-chan types.Account, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan types.Account, 1)
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (s *KeySigner) publish(account types.Account) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		// drop a stale unread value so the latest account wins
		select {
		case <-ch:
		default:
		}
		ch <- account
	}
}
