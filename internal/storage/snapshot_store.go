package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/asset-registry/internal/address"
	"github.com/asset-registry/internal/logging"
	"github.com/asset-registry/internal/types"
	"github.com/redis/go-redis/v9"
)

const (
	snapshotKeyPrefix = "snapshot"
	// sorted set of published accounts scored by reconciliation time
	recentKey = "snapshots:recent"
)

// SnapshotStore publishes reconciled snapshots to Redis so other processes
// can read the last known state of an account without touching the ledger.
type SnapshotStore struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewSnapshotStore creates a snapshot store. A zero ttl keeps entries forever.
func NewSnapshotStore(redis *RedisCache, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{redis: redis, ttl: ttl}
}

// SnapshotKey returns the key for an account's snapshot
// Format: snapshot:<lowercase address>
func SnapshotKey(account types.Account) string {
	return strings.Join([]string{snapshotKeyPrefix, address.Normalize(account)}, ":")
}

// Publish stores snapshot under its account and records it as recent
func (s *SnapshotStore) Publish(ctx context.Context, snapshot *types.Snapshot) error {
	if snapshot == nil {
		return nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	account := address.Normalize(snapshot.Account)
	_, err = s.redis.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, SnapshotKey(snapshot.Account), data, s.ttl)
		pipe.ZAdd(ctx, recentKey, redis.Z{
			Score:  float64(snapshot.ReconciledAt.UnixMilli()),
			Member: account,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"account": address.Display(snapshot.Account),
		"runId":   snapshot.RunID,
	}).Debug("Snapshot published")
	return nil
}

// Get returns the published snapshot for account. The bool is false on a miss.
func (s *SnapshotStore) Get(ctx context.Context, account types.Account) (*types.Snapshot, bool, error) {
	data, err := s.redis.Get(ctx, SnapshotKey(account))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snapshot types.Snapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, true, nil
}

// ExpiresIn returns how long account's snapshot stays published. Zero means
// it never expires or is not published.
func (s *SnapshotStore) ExpiresIn(ctx context.Context, account types.Account) (time.Duration, error) {
	ttl, err := s.redis.TTL(ctx, SnapshotKey(account))
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot ttl: %w", err)
	}
	// redis answers -1 for no expiry and -2 for a missing key
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Recent returns up to limit published accounts, most recently reconciled
// first. Accounts whose snapshot has expired are skipped.
func (s *SnapshotStore) Recent(ctx context.Context, limit int64) ([]types.Account, error) {
	if limit <= 0 {
		return []types.Account{}, nil
	}
	members, err := s.redis.Client().ZRevRange(ctx, recentKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list recent snapshots: %w", err)
	}

	out := make([]types.Account, 0, len(members))
	for _, m := range members {
		ok, err := s.redis.Exists(ctx, SnapshotKey(types.Account(m)))
		if err != nil {
			return nil, err
		}
		if !ok {
			s.redis.Client().ZRem(ctx, recentKey, m)
			continue
		}
		out = append(out, types.Account(m))
	}
	return out, nil
}

// Invalidate removes an account's snapshot
func (s *SnapshotStore) Invalidate(ctx context.Context, account types.Account) error {
	_, err := s.redis.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, SnapshotKey(account))
		pipe.ZRem(ctx, recentKey, address.Normalize(account))
		return nil
	})
	return err
}
