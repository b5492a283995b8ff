package service

import (
	"context"
	"sort"
	"sync"

	"github.com/asset-registry/internal/ledger"
	"github.com/asset-registry/internal/logging"
	"github.com/asset-registry/internal/ratelimit"
	"github.com/asset-registry/internal/types"
)

const (
	DefaultSampleSize = 5
	DefaultFeedSize   = 10
)

// HistoryAggregator builds the recent activity feed from the newest assets
type HistoryAggregator struct {
	SampleSize int
	FeedSize   int
}

func (h HistoryAggregator) sizes() (sample, feed int) {
	sample, feed = h.SampleSize, h.FeedSize
	if sample <= 0 {
		sample = DefaultSampleSize
	}
	if feed <= 0 {
		feed = DefaultFeedSize
	}
	return sample, feed
}

// Aggregate fetches history for the first SampleSize assets concurrently and
// merges it newest first. A failed fetch contributes nothing; Aggregate
// itself never fails.
func (h HistoryAggregator) Aggregate(ctx context.Context, r ledger.Reader, assets types.AssetCollection) types.RecentFeed {
	feed := types.RecentFeed{}
	if len(assets) == 0 {
		return feed
	}

	sampleSize, feedSize := h.sizes()
	if len(assets) > sampleSize {
		assets = assets[:sampleSize]
	}

	// the feed is best effort, so it yields RPC budget to interactive calls
	ctx = ratelimit.WithPriority(ctx, ratelimit.PriorityBackground)
	logger := logging.FromContext(ctx)
	parts := make([][]types.HistoryRecord, len(assets))
	var wg sync.WaitGroup
	for i, asset := range assets {
		if asset == nil {
			continue
		}
		i, asset := i, asset
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, err := r.GetAssetHistory(ctx, asset.ID)
			if err != nil {
				logger.WithError(err).WithField("assetId", asset.ID).
					Warn("History fetch failed, skipping asset in feed")
				return
			}
			parts[i] = historyFromEntries(entries)
		}()
	}
	wg.Wait()

	for _, p := range parts {
		feed = append(feed, p...)
	}

	// stable: equal timestamps keep asset order, then ledger order
	sort.SliceStable(feed, func(i, j int) bool {
		return feed[i].TimestampMillis > feed[j].TimestampMillis
	})

	if len(feed) > feedSize {
		feed = feed[:feedSize]
	}
	return feed
}
