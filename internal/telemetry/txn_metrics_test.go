package internaltelemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojotxn/pkg/telemetry"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	res := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			res[m.Name] = m.Data
		}
	}
	return res
}

func sumOf(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "unexpected aggregation %T", agg)
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestTxnMetrics_RecordsLifecycle(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewTxnMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.TxnStarted(ctx, "coordinator-0")
	m.TxnStarted(ctx, "coordinator-0")
	m.Vote(ctx, "coordinator-0", "YES")
	m.TxnDecided(ctx, "coordinator-0", "coordinator", "COMMIT", time.Now().Add(-time.Millisecond))
	m.Crash(ctx, "server-1", "server.vote.after-vote")
	m.Recovery(ctx, "server-1")
	m.TerminationRound(ctx, "server-1")
	m.Timeout(ctx, "server-1")

	data := collect(t, reader)
	require.EqualValues(t, 1, sumOf(t, data["gojotxn_txn_decisions"]))
	require.EqualValues(t, 1, sumOf(t, data["gojotxn_txn_active"]))
	require.EqualValues(t, 1, sumOf(t, data["gojotxn_txn_votes"]))
	require.EqualValues(t, 1, sumOf(t, data["gojotxn_node_crashes"]))
	require.EqualValues(t, 1, sumOf(t, data["gojotxn_node_recoveries"]))
	require.EqualValues(t, 1, sumOf(t, data["gojotxn_txn_termination_rounds"]))
	require.EqualValues(t, 1, sumOf(t, data["gojotxn_txn_timeouts"]))

	hist, ok := data["gojotxn_txn_decision_latency"].(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	require.EqualValues(t, 1, hist.DataPoints[0].Count)
}

func TestNewNoopTxnMetrics(t *testing.T) {
	m := NewNoopTxnMetrics()
	require.NotNil(t, m)
	m.TxnDecided(context.Background(), "n", "coordinator", "ABORT", time.Time{})
}

func TestTxnMetrics_PrometheusNames(t *testing.T) {
	tel, shutdown, err := telemetry.New(telemetry.Config{Enabled: true, ServiceName: "gojotxn-test"})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, shutdown(context.Background())) })

	m, err := NewTxnMetrics(tel.Meter)
	require.NoError(t, err)
	ctx := context.Background()
	m.TxnStarted(ctx, "coordinator-0")
	m.Vote(ctx, "coordinator-0", "YES")
	m.TxnDecided(ctx, "coordinator-0", "coordinator", "COMMIT", time.Now())
	m.Crash(ctx, "server-0", "server.vote.after-vote")
	m.Recovery(ctx, "server-0")
	m.TerminationRound(ctx, "server-0")
	m.Timeout(ctx, "server-0")

	families, err := tel.Registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"gojotxn_txn_decisions_total",
		"gojotxn_txn_votes_total",
		"gojotxn_node_crashes_total",
		"gojotxn_node_recoveries_total",
		"gojotxn_txn_timeouts_total",
		"gojotxn_txn_termination_rounds_total",
		"gojotxn_txn_active",
		"gojotxn_txn_decision_latency_milliseconds",
	} {
		require.True(t, names[want], "missing metric family %s in %v", want, names)
	}
}
