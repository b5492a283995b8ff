package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveLedgerRead("getAsset", nil, time.Millisecond)
	m.ObserveLedgerRead("getAsset", errors.New("boom"), time.Millisecond)
	m.ObserveReconciliation(OutcomeReady, time.Second)
	m.ObserveReconciliation(OutcomeCoalesced, 0)
	m.ObserveGuardDecision(DecisionStale)
	m.ObserveWrite("transfer_asset", nil)
	m.SetBreakerOpen("primary", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerReads.WithLabelValues("getAsset", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerReads.WithLabelValues("getAsset", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciliations.WithLabelValues(OutcomeCoalesced)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.guardDecisions.WithLabelValues(DecisionStale)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues("transfer_asset", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerOpen.WithLabelValues("primary")))

	count, err := testutil.GatherAndCount(reg, "registry_reconcile_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveLedgerRead("getUser", nil, 0)
		m.ObserveReconciliation(OutcomeFailed, 0)
		m.ObserveGuardDecision(DecisionAllowed)
		m.ObserveWrite("register_asset", errors.New("reverted"))
		m.SetBreakerOpen("secondary", false)
		m.ObserveBudgetWait("background", "granted", time.Millisecond)
		m.SetBudgetUtilization(42)
	})
}

func TestMetrics_Budget(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveBudgetWait("interactive", "granted", 20*time.Millisecond)
	m.ObserveBudgetWait("interactive", "exhausted", time.Second)
	m.SetBudgetUtilization(85.5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.budgetWaits.WithLabelValues("interactive", "exhausted")))
	assert.Equal(t, 85.5, testutil.ToFloat64(m.budgetUtilization))

	count, err := testutil.GatherAndCount(reg, "registry_rpc_budget_wait_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}
