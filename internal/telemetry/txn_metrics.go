package internaltelemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// TxnMetrics holds the metric instruments shared by the coordinator and
// shard server engines. Every recording method takes the node address as an
// attribute.
type TxnMetrics struct {
	DecisionsCounter         metric.Int64Counter
	VotesCounter             metric.Int64Counter
	CrashesCounter           metric.Int64Counter
	RecoveriesCounter        metric.Int64Counter
	TimeoutsCounter          metric.Int64Counter
	TerminationRoundsCounter metric.Int64Counter
	ActiveTxnsUpDownCounter  metric.Int64UpDownCounter
	DecisionLatencyHistogram metric.Int64Histogram
}

// NewTxnMetrics creates and registers all the transaction metrics.
// Counter names carry no _total suffix: the Prometheus exporter appends it.
func NewTxnMetrics(meter metric.Meter) (*TxnMetrics, error) {
	decisions, err := meter.Int64Counter(
		"gojotxn_txn_decisions",
		metric.WithDescription("Total number of fixed decisions, by role and outcome."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	votes, err := meter.Int64Counter(
		"gojotxn_txn_votes",
		metric.WithDescription("Total number of votes cast or received, by vote."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	crashes, err := meter.Int64Counter(
		"gojotxn_node_crashes",
		metric.WithDescription("Total number of injected crashes, by phase."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	recoveries, err := meter.Int64Counter(
		"gojotxn_node_recoveries",
		metric.WithDescription("Total number of recoveries from an injected crash."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	timeouts, err := meter.Int64Counter(
		"gojotxn_txn_timeouts",
		metric.WithDescription("Total number of live protocol timeouts."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	rounds, err := meter.Int64Counter(
		"gojotxn_txn_termination_rounds",
		metric.WithDescription("Total number of termination protocol rounds started by shard servers."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	active, err := meter.Int64UpDownCounter(
		"gojotxn_txn_active",
		metric.WithDescription("Number of transactions awaiting a decision."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Int64Histogram(
		"gojotxn_txn_decision_latency",
		metric.WithDescription("Time from TxnBegin to the coordinator decision."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &TxnMetrics{
		DecisionsCounter:         decisions,
		VotesCounter:             votes,
		CrashesCounter:           crashes,
		RecoveriesCounter:        recoveries,
		TimeoutsCounter:          timeouts,
		TerminationRoundsCounter: rounds,
		ActiveTxnsUpDownCounter:  active,
		DecisionLatencyHistogram: latency,
	}, nil
}

// NewNoopTxnMetrics returns instruments that record nothing.
func NewNoopTxnMetrics() *TxnMetrics {
	m, _ := NewTxnMetrics(noop.NewMeterProvider().Meter(""))
	return m
}

func nodeAttr(node string) attribute.KeyValue { return attribute.String("node", node) }

func (m *TxnMetrics) TxnStarted(ctx context.Context, node string) {
	m.ActiveTxnsUpDownCounter.Add(ctx, 1, metric.WithAttributes(nodeAttr(node)))
}

// TxnDecided records a decision. A zero started skips the latency histogram.
func (m *TxnMetrics) TxnDecided(ctx context.Context, node, role, decision string, started time.Time) {
	attrs := metric.WithAttributes(nodeAttr(node), attribute.String("role", role), attribute.String("decision", decision))
	m.DecisionsCounter.Add(ctx, 1, attrs)
	m.ActiveTxnsUpDownCounter.Add(ctx, -1, metric.WithAttributes(nodeAttr(node)))
	if !started.IsZero() {
		m.DecisionLatencyHistogram.Record(ctx, time.Since(started).Milliseconds(), attrs)
	}
}

func (m *TxnMetrics) Vote(ctx context.Context, node, vote string) {
	m.VotesCounter.Add(ctx, 1, metric.WithAttributes(nodeAttr(node), attribute.String("vote", vote)))
}

func (m *TxnMetrics) Timeout(ctx context.Context, node string) {
	m.TimeoutsCounter.Add(ctx, 1, metric.WithAttributes(nodeAttr(node)))
}

func (m *TxnMetrics) TerminationRound(ctx context.Context, node string) {
	m.TerminationRoundsCounter.Add(ctx, 1, metric.WithAttributes(nodeAttr(node)))
}

func (m *TxnMetrics) Crash(ctx context.Context, node, phase string) {
	m.CrashesCounter.Add(ctx, 1, metric.WithAttributes(nodeAttr(node), attribute.String("phase", phase)))
}

func (m *TxnMetrics) Recovery(ctx context.Context, node string) {
	m.RecoveriesCounter.Add(ctx, 1, metric.WithAttributes(nodeAttr(node)))
}
