package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asset-registry/internal/address"
	apperrors "github.com/asset-registry/internal/errors"
	"github.com/asset-registry/internal/ledger"
	"github.com/asset-registry/internal/logging"
	"github.com/asset-registry/internal/metrics"
	"github.com/asset-registry/internal/types"
	"github.com/google/uuid"
)

// SnapshotPublisher receives every confirmed snapshot. Invalidate drops an
// account's published snapshot once a write makes it outdated.
type SnapshotPublisher interface {
	Publish(ctx context.Context, snapshot *types.Snapshot) error
	Invalidate(ctx context.Context, account types.Account) error
}

// AccountSource reports the connected account and its changes
type AccountSource interface {
	CurrentAccount() types.Account
	Subscribe() (<-chan types.Account, func())
}

// SessionConfig configures a Session
type SessionConfig struct {
	SampleSize int
	FeedSize   int
	Metrics    *metrics.Metrics
	Publisher  SnapshotPublisher // optional
	Logger     *logging.Logger   // defaults to the global logger
}

// Status is a point-in-time view of the session
type Status struct {
	State          types.SessionState   `json:"state"`
	Account        types.Account        `json:"account"`
	DisplayAccount string               `json:"displayAccount"`
	Snapshot       *types.Snapshot      `json:"snapshot,omitempty"`
	Pending        []types.PendingWrite `json:"pending"`
	LastError      *types.ServiceError  `json:"lastError,omitempty"`

	// refresh calls that joined an in-flight run, process lifetime
	CoalescedRefreshes int64 `json:"coalescedRefreshes"`
}

// Session owns the reconciled view of one connected account. It is the only
// writer of that view; a result is applied only if it was started for the
// account and epoch still current when it resolves.
type Session struct {
	ledger    ledger.Ledger
	profiles  ProfileLoader
	assets    AssetSetLoader
	history   HistoryAggregator
	guard     *OwnershipGuard
	metrics   *metrics.Metrics
	publisher SnapshotPublisher
	logger    *logging.Logger

	mu       sync.RWMutex
	account  types.Account
	epoch    uint64
	state    types.SessionState
	snapshot *types.Snapshot
	lastErr  error
	pending  map[string]types.PendingWrite

	inflightMu sync.Mutex
	inflight   map[string]*reconcileRun

	// bumped after every confirmed write; a run started before the bump
	// cannot satisfy a post-write refresh
	writeSeq  atomic.Uint64
	coalesced atomic.Int64
}

type reconcileRun struct {
	seq      uint64
	done     chan struct{}
	snapshot *types.Snapshot
	err      error
	dropped  bool
}

// NewSession creates an idle session with no account
func NewSession(l ledger.Ledger, cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Session{
		ledger:    l,
		history:   HistoryAggregator{SampleSize: cfg.SampleSize, FeedSize: cfg.FeedSize},
		guard:     NewOwnershipGuard(cfg.Metrics),
		metrics:   cfg.Metrics,
		publisher: cfg.Publisher,
		logger:    logger,
		state:     types.StateIdle,
		pending:   make(map[string]types.PendingWrite),
		inflight:  make(map[string]*reconcileRun),
	}
}

// Account returns the session account
func (s *Session) Account() types.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

// State returns the reconciliation state
func (s *Session) State() types.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns the last applied snapshot, nil if none
func (s *Session) Snapshot() *types.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// LastError returns the error of the last failed reconciliation
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Status returns a copy of the session view
func (s *Session) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Status{
		State:          s.state,
		Account:        s.account,
		DisplayAccount: address.Display(s.account),
		Snapshot:       s.snapshot,
		Pending:        make([]types.PendingWrite, 0, len(s.pending)),

		CoalescedRefreshes: s.coalesced.Load(),
	}
	for _, p := range s.pending {
		st.Pending = append(st.Pending, p)
	}
	sort.Slice(st.Pending, func(i, j int) bool {
		return st.Pending[i].SubmittedAt.Before(st.Pending[j].SubmittedAt)
	})
	if s.lastErr != nil {
		st.LastError = apperrors.Categorize(s.lastErr).ToServiceError()
	}
	return st
}

// SwitchAccount starts a new session for account and reconciles it.
// The empty account disconnects.
func (s *Session) SwitchAccount(ctx context.Context, account types.Account) (*types.Snapshot, error) {
	if account == "" {
		s.Disconnect()
		return nil, nil
	}
	s.switchTo(account)
	return s.Refresh(ctx)
}

// switchTo installs account as the session account. A change bumps the
// epoch and clears everything tied to the previous account.
func (s *Session) switchTo(account types.Account) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if address.Equal(s.account, account) {
		return false
	}
	s.epoch++
	s.account = account
	s.snapshot = nil
	s.lastErr = nil
	s.pending = make(map[string]types.PendingWrite)
	s.setStateLocked(types.StateIdle)

	s.logger.WithFields(map[string]interface{}{
		"account": address.Display(account),
		"epoch":   s.epoch,
	}).Info("Session account changed")
	return true
}

// Disconnect drops the account and everything reconciled for it
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.account == "" && s.snapshot == nil {
		return
	}
	s.epoch++
	s.account = ""
	s.snapshot = nil
	s.lastErr = nil
	s.pending = make(map[string]types.PendingWrite)
	s.setStateLocked(types.StateIdle)
	s.logger.Info("Session disconnected")
}

// Watch follows account changes until ctx ends or the source closes. Every
// change is reconciled in the background so a later change is never held
// up behind an earlier run.
func (s *Session) Watch(ctx context.Context, source AccountSource) error {
	changes, cancel := source.Subscribe()
	defer cancel()

	if current := source.CurrentAccount(); current != "" {
		s.onAccountChange(ctx, current)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case account, ok := <-changes:
			if !ok {
				return nil
			}
			s.onAccountChange(ctx, account)
		}
	}
}

func (s *Session) onAccountChange(ctx context.Context, account types.Account) {
	if account == "" {
		s.Disconnect()
		return
	}
	if !s.switchTo(account) {
		return
	}
	go func() {
		if _, err := s.Refresh(context.WithoutCancel(ctx)); err != nil {
			s.logger.WithError(err).WithField("account", address.Display(account)).
				Warn("Reconciliation after account change failed")
		}
	}()
}

// Refresh reconciles the session account. A call made while a run for the
// same account and epoch is in flight joins that run instead of reading
// again. The returned snapshot is nil when the run was superseded by an
// account change.
func (s *Session) Refresh(ctx context.Context) (*types.Snapshot, error) {
	return s.refresh(ctx, 0)
}

func (s *Session) refresh(ctx context.Context, minSeq uint64) (*types.Snapshot, error) {
	s.mu.RLock()
	account, epoch := s.account, s.epoch
	s.mu.RUnlock()
	if account == "" {
		return nil, apperrors.NewNoSessionError()
	}
	return s.refreshFor(ctx, account, epoch, minSeq)
}

// refreshFor reconciles account for epoch only. Once the session has moved
// past epoch it returns nil, nil rather than reading the new account.
func (s *Session) refreshFor(ctx context.Context, account types.Account, epoch, minSeq uint64) (*types.Snapshot, error) {
	s.mu.RLock()
	superseded := s.epoch != epoch
	s.mu.RUnlock()
	if superseded {
		return nil, nil
	}

	key := fmt.Sprintf("%d:%s", epoch, address.Normalize(account))
	for {
		run, isNew := s.getOrCreateInflight(key)
		if !isNew && run.seq < minSeq {
			// started before the write we must observe; let it finish
			select {
			case <-run.done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if isNew {
			s.mu.Lock()
			if s.epoch == epoch {
				s.setStateLocked(types.StateLoading)
			}
			s.mu.Unlock()
			go s.execute(context.WithoutCancel(ctx), key, run, account, epoch)
		} else {
			s.coalesced.Add(1)
			s.metrics.ObserveReconciliation(metrics.OutcomeCoalesced, 0)
		}

		select {
		case <-run.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if run.dropped {
			return nil, nil
		}
		return run.snapshot, run.err
	}
}

// execute runs one reconciliation. ctx carries no cancellation: a stale run
// finishes and its result is discarded.
func (s *Session) execute(ctx context.Context, key string, run *reconcileRun, account types.Account, epoch uint64) {
	runID := uuid.NewString()
	logger := s.logger.WithFields(map[string]interface{}{
		"runId":   runID,
		"account": address.Display(account),
		"epoch":   epoch,
	})
	ctx = logging.WithLogger(ctx, logger)

	start := time.Now()
	snapshot, err := s.reconcile(ctx, account, runID)
	elapsed := time.Since(start)

	applied := s.apply(account, epoch, snapshot, err)
	switch {
	case !applied:
		run.dropped = true
		s.metrics.ObserveReconciliation(metrics.OutcomeDropped, elapsed)
		logger.Debug("Discarding result for superseded session")
	case err != nil:
		s.metrics.ObserveReconciliation(metrics.OutcomeFailed, elapsed)
		logger.WithError(err).Warn("Reconciliation failed")
	default:
		s.metrics.ObserveReconciliation(metrics.OutcomeReady, elapsed)
		logger.WithFields(map[string]interface{}{
			"assets":   len(snapshot.Assets),
			"feed":     len(snapshot.Feed),
			"duration": elapsed.String(),
		}).Info("Reconciliation complete")
		s.publish(ctx, snapshot)
	}

	run.snapshot, run.err = snapshot, err
	s.completeInflight(key, run)
}

// reconcile reads profile, then assets, then the feed built from those assets
func (s *Session) reconcile(ctx context.Context, account types.Account, runID string) (*types.Snapshot, error) {
	profile, err := s.profiles.Load(ctx, s.ledger, account)
	if err != nil {
		return nil, err
	}

	assets, err := s.assets.Load(ctx, s.ledger, account)
	if err != nil {
		return nil, err
	}

	feed := s.history.Aggregate(ctx, s.ledger, assets)

	return &types.Snapshot{
		Account:      account,
		Profile:      profile,
		Assets:       assets,
		Feed:         feed,
		RunID:        runID,
		ReconciledAt: time.Now().UTC(),
	}, nil
}

// apply installs a run's outcome if the session still belongs to the run's
// account and epoch. A failure keeps the previous snapshot.
func (s *Session) apply(account types.Account, epoch uint64, snapshot *types.Snapshot, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch || !address.Equal(s.account, account) {
		return false
	}
	if err != nil {
		s.lastErr = err
		s.setStateLocked(types.StateFailed)
		s.setStateLocked(types.StateIdle)
		return true
	}
	s.snapshot = snapshot
	s.lastErr = nil
	s.setStateLocked(types.StateReady)
	return true
}

func (s *Session) setStateLocked(state types.SessionState) {
	if s.state == state {
		return
	}
	s.logger.WithFields(map[string]interface{}{
		"from": s.state,
		"to":   state,
	}).Debug("Session state transition")
	s.state = state
}

func (s *Session) publish(ctx context.Context, snapshot *types.Snapshot) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, snapshot); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to publish snapshot")
	}
}

func (s *Session) invalidate(ctx context.Context, account types.Account) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Invalidate(ctx, account); err != nil {
		s.logger.WithError(err).WithField("account", address.Display(account)).
			Warn("Failed to invalidate published snapshot")
	}
}

// getOrCreateInflight returns the run for key and whether the caller created it
func (s *Session) getOrCreateInflight(key string) (*reconcileRun, bool) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()

	if run, exists := s.inflight[key]; exists {
		return run, false
	}
	run := &reconcileRun{seq: s.writeSeq.Load(), done: make(chan struct{})}
	s.inflight[key] = run
	return run, true
}

// completeInflight releases every waiter of run
func (s *Session) completeInflight(key string, run *reconcileRun) {
	s.inflightMu.Lock()
	if s.inflight[key] == run {
		delete(s.inflight, key)
	}
	s.inflightMu.Unlock()
	close(run.done)
}

// AssetDetail returns the fresh on-chain asset if the session account owns it
func (s *Session) AssetDetail(ctx context.Context, assetID uint64) (*types.Asset, error) {
	account, cached, err := s.guardInputs()
	if err != nil {
		return nil, err
	}
	return s.guard.Authorize(ctx, account, assetID, cached, s.ledger)
}

// AssetHistory returns an owned asset's history in ledger order
func (s *Session) AssetHistory(ctx context.Context, assetID uint64) ([]types.HistoryRecord, error) {
	account, cached, err := s.guardInputs()
	if err != nil {
		return nil, err
	}
	if _, err := s.guard.Authorize(ctx, account, assetID, cached, s.ledger); err != nil {
		return nil, err
	}

	entries, err := s.ledger.GetAssetHistory(ctx, assetID)
	if err != nil {
		return nil, apperrors.NewLedgerReadFailedError("getAssetHistory", err)
	}
	return historyFromEntries(entries), nil
}

// guardInputs returns the session account and its cached collection. A
// session without a snapshot has an empty collection, so every check denies.
func (s *Session) guardInputs() (types.Account, types.AssetCollection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.account == "" {
		return "", nil, apperrors.NewNoSessionError()
	}
	if s.snapshot == nil {
		return s.account, nil, nil
	}
	return s.account, s.snapshot.Assets, nil
}

// Totals returns contract-wide counters when the ledger exposes them
func (s *Session) Totals(ctx context.Context) (*types.Totals, error) {
	stats, ok := s.ledger.(ledger.StatsReader)
	if !ok {
		return nil, apperrors.NewUnsupportedError("contract totals")
	}
	totals, err := stats.GetTotals(ctx)
	if err != nil {
		return nil, apperrors.NewLedgerReadFailedError("getTotals", err)
	}
	return totals, nil
}
