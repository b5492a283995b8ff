package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/asset-registry/internal/address"
	apperrors "github.com/asset-registry/internal/errors"
	"github.com/asset-registry/internal/ledger"
	"github.com/asset-registry/internal/types"
)

const (
	accountA = types.Account("0xAAAaaaAAAaaaAAAaaaAAAaaaAAAaaaAAAaaaAAAa")
	accountB = types.Account("0xBBBbbbBBBbbbBBBbbbBBBbbbBBBbbbBBBbbbBBBb")
	accountC = types.Account("0xCCCcccCCCcccCCCcccCCCcccCCCcccCCCcccCCCc")
)

var errNode = errors.New("node unavailable")

// fakeLedger is an in-memory registry with call counters, per-call failure
// injection and gates that hold a profile read open
type fakeLedger struct {
	mu       sync.Mutex
	profiles map[string]*ledger.ProfileRecord
	assets   map[uint64]*ledger.AssetRecord
	history  map[uint64][]ledger.HistoryEntry
	nextID   uint64
	clock    uint64

	listErr    error
	profileErr error
	assetErr   map[uint64]error
	historyErr map[uint64]error
	sendErr    error
	waitErr    error

	// profile reads for a gated account block until the gate is closed
	gates   map[string]chan struct{}
	entered chan types.Account
	// pending transactions block in Wait until waitGate is closed
	waitGate chan struct{}

	profileCalls atomic.Int64
	listCalls    atomic.Int64
	assetCalls   atomic.Int64
	historyCalls atomic.Int64
	sent         atomic.Int64

	// signer reports the wallet's connected account; nil accepts any sender
	signer func() types.Account
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		profiles:   make(map[string]*ledger.ProfileRecord),
		assets:     make(map[uint64]*ledger.AssetRecord),
		history:    make(map[uint64][]ledger.HistoryEntry),
		assetErr:   make(map[uint64]error),
		historyErr: make(map[uint64]error),
		gates:      make(map[string]chan struct{}),
		entered:    make(chan types.Account, 16),
		clock:      1_700_000_000,
	}
}

func (f *fakeLedger) addProfile(account types.Account, name string, registeredAt uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[address.Normalize(account)] = &ledger.ProfileRecord{
		Address:      account,
		Name:         name,
		Email:        name + "@example.com",
		RegisteredAt: registeredAt,
		IsRegistered: true,
	}
}

func (f *fakeLedger) addAsset(id uint64, owner types.Account, createdAt uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[id] = &ledger.AssetRecord{
		ID:          id,
		Name:        fmt.Sprintf("asset-%d", id),
		Description: fmt.Sprintf("description %d", id),
		Owner:       owner,
		CreatedAt:   createdAt,
	}
	f.history[id] = append(f.history[id], ledger.HistoryEntry{
		AssetID:         id,
		From:            "0x0000000000000000000000000000000000000000",
		To:              owner,
		Timestamp:       createdAt,
		TransactionType: string(types.TxRegister),
	})
	if id > f.nextID {
		f.nextID = id
	}
}

func (f *fakeLedger) setOwner(id uint64, owner types.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[id].Owner = owner
}

func (f *fakeLedger) gate(account types.Account) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[address.Normalize(account)] = ch
	return ch
}

func (f *fakeLedger) GetProfile(ctx context.Context, account types.Account) (*ledger.ProfileRecord, error) {
	f.profileCalls.Add(1)

	f.mu.Lock()
	gate := f.gates[address.Normalize(account)]
	f.mu.Unlock()
	if gate != nil {
		f.entered <- account
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	if p, ok := f.profiles[address.Normalize(account)]; ok {
		cp := *p
		return &cp, nil
	}
	return &ledger.ProfileRecord{Address: "0x0000000000000000000000000000000000000000"}, nil
}

func (f *fakeLedger) GetAsset(ctx context.Context, assetID uint64) (*ledger.AssetRecord, error) {
	f.assetCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.assetErr[assetID]; err != nil {
		return nil, err
	}
	a, ok := f.assets[assetID]
	if !ok {
		return nil, errors.New("execution reverted: asset does not exist")
	}
	cp := *a
	return &cp, nil
}

func (f *fakeLedger) GetAssetIDsByOwner(ctx context.Context, account types.Account) ([]uint64, error) {
	f.listCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var ids []uint64
	for id := uint64(1); id <= f.nextID; id++ {
		if a, ok := f.assets[id]; ok && address.Equal(a.Owner, account) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeLedger) GetAssetHistory(ctx context.Context, assetID uint64) ([]ledger.HistoryEntry, error) {
	f.historyCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.historyErr[assetID]; err != nil {
		return nil, err
	}
	out := make([]ledger.HistoryEntry, len(f.history[assetID]))
	copy(out, f.history[assetID])
	return out, nil
}

func (f *fakeLedger) GetTotals(ctx context.Context) (*types.Totals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &types.Totals{Users: uint64(len(f.profiles)), Assets: uint64(len(f.assets))}, nil
}

type fakeTx struct {
	hash    string
	ledger  *fakeLedger
	confirm func()
}

func (t *fakeTx) Hash() string { return t.hash }

func (t *fakeTx) Wait(ctx context.Context) error {
	t.ledger.mu.Lock()
	gate, waitErr := t.ledger.waitGate, t.ledger.waitErr
	t.ledger.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if waitErr != nil {
		return waitErr
	}
	t.confirm()
	return nil
}

func (f *fakeLedger) send(confirm func()) (ledger.PendingTx, error) {
	f.mu.Lock()
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	n := f.sent.Add(1)
	return &fakeTx{hash: fmt.Sprintf("0x%064x", n), ledger: f, confirm: confirm}, nil
}

// authorize mirrors the wallet: only the connected account may send
func (f *fakeLedger) authorize(from types.Account) error {
	if from == "" {
		return apperrors.NewNoSessionError()
	}
	if f.signer != nil && !address.Equal(from, f.signer()) {
		return apperrors.NewNotConnectedError(from)
	}
	return nil
}

func (f *fakeLedger) RegisterProfile(ctx context.Context, from types.Account, name, email string) (ledger.PendingTx, error) {
	if err := f.authorize(from); err != nil {
		return nil, err
	}
	return f.send(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.clock++
		f.profiles[address.Normalize(from)] = &ledger.ProfileRecord{
			Address: from, Name: name, Email: email, RegisteredAt: f.clock, IsRegistered: true,
		}
	})
}

func (f *fakeLedger) UpdateProfile(ctx context.Context, from types.Account, name, email string) (ledger.PendingTx, error) {
	if err := f.authorize(from); err != nil {
		return nil, err
	}
	return f.send(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if p, ok := f.profiles[address.Normalize(from)]; ok {
			p.Name, p.Email = name, email
		}
	})
}

func (f *fakeLedger) RegisterAsset(ctx context.Context, from types.Account, name, description string) (ledger.PendingTx, error) {
	if err := f.authorize(from); err != nil {
		return nil, err
	}
	return f.send(func() {
		f.mu.Lock()
		f.clock++
		id, at := f.nextID+1, f.clock
		f.mu.Unlock()
		f.addAsset(id, from, at)
		f.mu.Lock()
		f.assets[id].Name = name
		f.assets[id].Description = description
		f.mu.Unlock()
	})
}

func (f *fakeLedger) TransferAsset(ctx context.Context, from types.Account, assetID uint64, to types.Account) (ledger.PendingTx, error) {
	if err := f.authorize(from); err != nil {
		return nil, err
	}
	return f.send(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.clock++
		f.assets[assetID].Owner = to
		f.history[assetID] = append(f.history[assetID], ledger.HistoryEntry{
			AssetID: assetID, From: from, To: to, Timestamp: f.clock, TransactionType: string(types.TxTransfer),
		})
	})
}

var (
	_ ledger.Ledger      = (*fakeLedger)(nil)
	_ ledger.StatsReader = (*fakeLedger)(nil)
)
