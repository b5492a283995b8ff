package ratelimit

import (
	"context"
	"time"

	"github.com/asset-registry/internal/logging"
	"github.com/asset-registry/internal/metrics"
)

// Default monitor thresholds, in percent of the total budget
const (
	DefaultWarningThreshold = 80
	DefaultMonitorInterval  = 30 * time.Second
)

// Monitor periodically samples budget usage into metrics and warns when
// utilization crosses the warning threshold. Each sample also reports what
// is left per pool and the CU charged per known RPC method.
type Monitor struct {
	tracker   *BudgetTracker
	metrics   *metrics.Metrics
	interval  time.Duration
	threshold float64
	methods   []string
}

// NewMonitor creates a monitor. Zero values pick the defaults.
func NewMonitor(tracker *BudgetTracker, m *metrics.Metrics, interval time.Duration, warningThreshold float64) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	if warningThreshold <= 0 {
		warningThreshold = DefaultWarningThreshold
	}
	return &Monitor{
		tracker:   tracker,
		metrics:   m,
		interval:  interval,
		threshold: warningThreshold,
		methods:   NewCostRegistry(0, nil).KnownMethods(),
	}
}

// Run samples until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample(ctx)
		}
	}
}

// Sample records one usage reading and returns it
func (m *Monitor) Sample(ctx context.Context) *UsageStats {
	logger := logging.FromContext(ctx)

	stats, err := m.tracker.GetUsage(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to sample RPC budget")
		return nil
	}

	utilization := stats.Utilization()
	m.metrics.SetBudgetUtilization(utilization)

	if utilization >= m.threshold {
		logger.WithFields(map[string]interface{}{
			"utilization":  utilization,
			"totalUsed":    stats.TotalUsed,
			"reservedUsed": stats.ReservedUsed,
			"sharedUsed":   stats.SharedUsed,
		}).Warn("RPC budget utilization high")
	}

	for _, p := range []Priority{PriorityInteractive, PriorityBackground} {
		available, err := m.tracker.Available(ctx, p)
		if err != nil {
			logger.WithError(err).WithField("priority", p.String()).Debug("Failed to read available budget")
			continue
		}
		m.metrics.SetBudgetAvailable(p.String(), available)
	}
	for _, method := range m.methods {
		used, err := m.tracker.MethodUsage(ctx, method)
		if err != nil {
			logger.WithError(err).WithField("method", method).Debug("Failed to read method usage")
			continue
		}
		m.metrics.SetMethodUsage(method, used)
	}
	return stats
}
