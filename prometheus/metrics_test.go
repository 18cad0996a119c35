package prometheus_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/ledger"
	ledgerprom "github.com/kode4food/ledger/prometheus"
)

func TestRepositoryMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := ledgerprom.NewMetrics(reg)

	m.LoadDuration("cart").ObserveDuration()
	m.SaveDuration("cart").ObserveDuration()
	m.EventsAppended("cart", 3)
	m.EventsAppended("cart", 2)
	m.ConcurrencyConflict("cart")

	count, err := testutil.GatherAndCount(reg,
		"ledger_repository_load_duration_seconds",
		"ledger_repository_save_duration_seconds",
		"ledger_events_appended_total",
		"ledger_concurrency_conflicts_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	appended := family(t, reg, "ledger_events_appended_total")
	assert.Equal(t, 5.0, appended.GetMetric()[0].GetCounter().GetValue())
}

func TestSubscriptionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := ledgerprom.NewMetrics(reg)

	m.EventDuration("proj", true).ObserveDuration()
	m.EventProcessed("proj", true, true)
	m.EventProcessed("proj", false, true)
	m.EventProcessed("proj", false, false)
	m.CheckpointSaved("proj", 42)
	m.StateChanged("proj", ledger.CatchingUp)
	m.StateChanged("proj", ledger.Live)

	count, err := testutil.GatherAndCount(reg,
		"ledger_subscription_events_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = testutil.GatherAndCount(reg, "ledger_subscription_state")
	require.NoError(t, err)
	assert.Equal(t, 6, count)

	cp := family(t, reg, "ledger_subscription_checkpoint_position")
	assert.Equal(t, 42.0, cp.GetMetric()[0].GetGauge().GetValue())

	for _, metric := range family(t, reg, "ledger_subscription_state").
		GetMetric() {
		want := 0.0
		for _, l := range metric.GetLabel() {
			if l.GetName() == "state" && l.GetValue() == "live" {
				want = 1
			}
		}
		assert.Equal(t, want, metric.GetGauge().GetValue())
	}
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	ledgerprom.NewMetrics(reg)
	assert.Panics(t, func() {
		ledgerprom.NewMetrics(reg)
	})
}

func family(
	t *testing.T, reg *prometheus.Registry, name string,
) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %s not gathered", name)
	return nil
}
