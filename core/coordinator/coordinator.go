// Package coordinator implements the transaction coordinator: it mediates a
// client's transaction across the shards it touches, drives the vote, and
// fixes and propagates a single decision. Any timeout or crash recovery
// aborts the pending transactions instead of blocking on a slow shard.
package coordinator

import (
	"context"
	"time"

	"github.com/sushant-115/gojotxn/core/crash"
	"github.com/sushant-115/gojotxn/core/message"
	"github.com/sushant-115/gojotxn/core/node"
	"github.com/sushant-115/gojotxn/core/transaction"
	internaltelemetry "github.com/sushant-115/gojotxn/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const role = message.RoleCoordinator

// Config holds the routing and timeout settings of a coordinator.
type Config struct {
	// Servers is the number of shards; shard i is reached at message.ServerAddress(i).
	Servers   int
	ShardSize int
	// Timeout bounds the wait for a read reply or a vote.
	Timeout time.Duration
}

// Coordinator is the engine of one coordinator node. It is driven by a
// single actor and is not safe for concurrent use.
type Coordinator struct {
	cfg       Config
	txns      *transaction.Registry[Transaction]
	byClient  map[int]tracked
	decisions *transaction.DecisionLog
	nextTimer transaction.TimerID

	tracer  trace.Tracer
	metrics *internaltelemetry.TxnMetrics
}

// tracked is the latest attempt of a client.
type tracked struct {
	id     transaction.ID
	handle transaction.Handle
}

var (
	_ node.Handler  = (*Coordinator)(nil)
	_ node.Reporter = (*Coordinator)(nil)
)

// New creates a coordinator. A nil tracer or metrics falls back to no-op
// instruments.
func New(cfg Config, tracer trace.Tracer, metrics *internaltelemetry.TxnMetrics) *Coordinator {
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("")
	}
	if metrics == nil {
		metrics = internaltelemetry.NewNoopTxnMetrics()
	}
	return &Coordinator{
		cfg:       cfg,
		txns:      transaction.NewRegistry[Transaction](),
		byClient:  make(map[int]tracked),
		decisions: transaction.NewDecisionLog(),
		tracer:    tracer,
		metrics:   metrics,
	}
}

// Handle dispatches one message.
func (c *Coordinator) Handle(env node.Env, from message.Address, msg message.Message) error {
	switch m := msg.(type) {
	case message.TxnBegin:
		return c.onTxnBegin(env, from, m)
	case message.Read:
		return c.onRead(env, m)
	case message.Write:
		return c.onWrite(env, m)
	case message.TxnEnd:
		return c.onTxnEnd(env, m)
	case message.ReadResponse:
		return c.onReadResponse(env, from, m)
	case message.VoteResponse:
		return c.onVoteResponse(env, from, m)
	case message.Timeout:
		return c.onTimeout(env, m)
	case message.DecisionRequest:
		c.onDecisionRequest(env, from, m)
		return nil
	case message.Recovery:
		return c.onRecovery(env)
	default:
		env.Logger().Debug("ignoring unexpected message", zap.String("kind", msg.Kind()))
		return nil
	}
}

// Report answers the correctness check. Coordinators own no data.
func (c *Coordinator) Report() message.CorrectnessReport {
	return message.CorrectnessReport{Role: role}
}

// Pending returns the ids of the transactions still awaiting a decision.
func (c *Coordinator) Pending() []transaction.ID { return c.txns.IDs() }

// Decision returns the decision fixed for id, if any.
func (c *Coordinator) Decision(id transaction.ID) (transaction.Decision, bool) {
	return c.decisions.Get(id)
}

func (c *Coordinator) onTxnBegin(env node.Env, from message.Address, m message.TxnBegin) error {
	id := transaction.ID{ClientID: m.ClientID, Attempt: m.Attempt}
	logger := env.Logger().With(zap.Stringer("txn", id))

	if _, known := c.decisions.Get(id); known {
		logger.Debug("ignoring begin for decided transaction")
		return nil
	}
	if t, ok := c.byClient[m.ClientID]; ok {
		prev := t.id
		if prev.Attempt > m.Attempt {
			logger.Debug("ignoring stale begin", zap.Int("tracked_attempt", prev.Attempt))
			return nil
		}
		if prev == id {
			if _, _, live := c.txns.Lookup(id); live {
				env.Send(from, message.TxnAccept{ClientID: m.ClientID, Attempt: m.Attempt})
				return nil
			}
		}
		// A client that starts over never learns the outcome of its previous attempt.
		if err := c.fixDecision(env, prev, transaction.DecisionAbort); err != nil {
			return err
		}
	}

	_, span := c.tracer.Start(context.Background(), "coordinator.txn", trace.WithAttributes(
		attribute.String("txn.id", id.String()),
		attribute.String("coordinator", string(env.Self())),
	))
	h := c.txns.Add(id, newTransaction(id, from, span))
	c.byClient[m.ClientID] = tracked{id: id, handle: h}
	c.metrics.TxnStarted(context.Background(), string(env.Self()))
	logger.Debug("transaction registered")

	if err := env.MaybeCrash(crash.CoordinatorBeforeAccept); err != nil {
		return err
	}
	env.Send(from, message.TxnAccept{ClientID: m.ClientID, Attempt: m.Attempt})
	return nil
}

// current returns the live, undecided transaction the client is tracked
// under, provided attempt matches.
func (c *Coordinator) current(clientID, attempt int) *Transaction {
	t, ok := c.byClient[clientID]
	if !ok || t.id.Attempt != attempt {
		return nil
	}
	txn, ok := c.txns.Get(t.handle)
	if !ok || txn.Decided() {
		return nil
	}
	return txn
}

// route maps key to its shard. ok is false for keys outside the key space.
func (c *Coordinator) route(key int) (message.Address, bool) {
	if key < 0 || c.cfg.ShardSize <= 0 || key >= c.cfg.Servers*c.cfg.ShardSize {
		return "", false
	}
	return message.ServerAddress(key / c.cfg.ShardSize), true
}

// track resolves the shard of key and adds it to the participants.
func (c *Coordinator) track(env node.Env, txn *Transaction, key int) (message.Address, bool, error) {
	server, ok := c.route(key)
	if !ok {
		env.Logger().Warn("ignoring action on key outside the key space",
			zap.Stringer("txn", txn.ID), zap.Int("key", key))
		return "", false, nil
	}
	if txn.AddServer(server) {
		if err := env.MaybeCrash(crash.CoordinatorTrackServer); err != nil {
			return "", false, err
		}
	}
	return server, true, nil
}

func (c *Coordinator) onRead(env node.Env, m message.Read) error {
	txn := c.current(m.ClientID, m.Attempt)
	if txn == nil {
		return nil
	}
	server, ok, err := c.track(env, txn, m.Key)
	if err != nil || !ok {
		return err
	}
	txn.Forwarded(server)
	env.Send(server, message.TransactionRead{Txn: txn.ID, Key: m.Key})
	c.arm(env, txn, server)
	return nil
}

func (c *Coordinator) onWrite(env node.Env, m message.Write) error {
	txn := c.current(m.ClientID, m.Attempt)
	if txn == nil {
		return nil
	}
	server, ok, err := c.track(env, txn, m.Key)
	if err != nil || !ok {
		return err
	}
	txn.Forwarded(server)
	env.Send(server, message.TransactionWrite{Txn: txn.ID, Key: m.Key, Value: m.Value})
	return nil
}

func (c *Coordinator) onReadResponse(env node.Env, from message.Address, m message.ReadResponse) error {
	_, txn, ok := c.txns.Lookup(m.Txn)
	if !ok || txn.Decided() {
		return nil
	}
	txn.Queue(from).CancelOldest()

	if err := env.MaybeCrash(crash.CoordinatorBeforeForwardRead); err != nil {
		return err
	}
	env.Send(txn.Client, message.ReadResult{
		ClientID: m.Txn.ClientID,
		Attempt:  m.Txn.Attempt,
		Key:      m.Key,
		Value:    m.Value,
	})
	return nil
}

func (c *Coordinator) onTxnEnd(env node.Env, m message.TxnEnd) error {
	txn := c.current(m.ClientID, m.Attempt)
	if txn == nil || txn.State() != transaction.StateInit {
		return nil
	}
	if !m.Commit {
		return c.fixDecision(env, txn.ID, transaction.DecisionAbort)
	}
	if len(txn.Servers) == 0 {
		return c.fixDecision(env, txn.ID, transaction.DecisionCommit)
	}

	txn.MarkReady()
	for _, server := range txn.Servers {
		c.arm(env, txn, server)
	}
	servers := append([]message.Address(nil), txn.Servers...)
	env.Logger().Debug("requesting votes", zap.Stringer("txn", txn.ID), zap.Int("servers", len(servers)))
	return env.Multicast(crash.CoordinatorVote, servers, func(to message.Address) message.Message {
		return message.VoteRequest{Txn: txn.ID, Servers: servers, Ops: txn.Ops(to)}
	})
}

func (c *Coordinator) onVoteResponse(env node.Env, from message.Address, m message.VoteResponse) error {
	_, txn, ok := c.txns.Lookup(m.Txn)
	if !ok || txn.State() != transaction.StateReady || !txn.HasServer(from) {
		return nil
	}
	txn.Queue(from).CancelOldest()
	c.metrics.Vote(context.Background(), string(env.Self()), m.Vote.String())

	if m.Vote == transaction.VoteNo {
		return c.fixDecision(env, txn.ID, transaction.DecisionAbort)
	}
	if txn.AddYes(from) {
		return c.fixDecision(env, txn.ID, transaction.DecisionCommit)
	}
	return nil
}

func (c *Coordinator) onTimeout(env node.Env, m message.Timeout) error {
	_, txn, ok := c.txns.Lookup(m.Txn)
	if !ok || txn.Decided() {
		return nil
	}
	q := txn.Queue(m.Peer)
	if !q.Remove(m.Timer) {
		return nil
	}
	c.metrics.Timeout(context.Background(), string(env.Self()))
	env.Logger().Info("timed out waiting for shard, aborting",
		zap.Stringer("txn", m.Txn), zap.String("server", string(m.Peer)),
		zap.Int("yes_votes", txn.YesVoters()), zap.Int("servers", len(txn.Servers)))
	return c.fixDecision(env, txn.ID, transaction.DecisionAbort)
}

func (c *Coordinator) onDecisionRequest(env node.Env, from message.Address, m message.DecisionRequest) {
	if d, ok := c.decisions.Get(m.Txn); ok {
		env.Send(from, message.DecisionResponse{Txn: m.Txn, Decision: d})
	}
}

// onRecovery aborts every transaction left pending by the crash: the votes
// and participants it was tracking can no longer be trusted.
func (c *Coordinator) onRecovery(env node.Env) error {
	pending := c.txns.IDs()
	if len(pending) > 0 {
		env.Logger().Info("recovered, aborting pending transactions", zap.Int("pending", len(pending)))
	}
	for _, id := range pending {
		if err := c.fixDecision(env, id, transaction.DecisionAbort); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) arm(env node.Env, txn *Transaction, server message.Address) {
	c.nextTimer++
	id := c.nextTimer
	t := env.After(c.cfg.Timeout, message.Timeout{Txn: txn.ID, Peer: server, Timer: id})
	txn.Queue(server).Push(id, t)
}

// fixDecision makes d the outcome of id, tells the client and propagates it
// to the participants. It is a no-op for unknown or decided transactions.
func (c *Coordinator) fixDecision(env node.Env, id transaction.ID, d transaction.Decision) error {
	_, txn, ok := c.txns.Lookup(id)
	if !ok || !txn.Decide(d) {
		return nil
	}
	c.decisions.Record(id, d)
	txn.CancelTimers()
	c.txns.Remove(id)

	c.metrics.TxnDecided(context.Background(), string(env.Self()), role, d.String(), txn.started)
	txn.span.SetAttributes(
		attribute.String("txn.decision", d.String()),
		attribute.Int("txn.servers", len(txn.Servers)),
	)
	if d.Committed() {
		txn.span.SetStatus(otelcodes.Ok, "committed")
	} else {
		txn.span.SetStatus(otelcodes.Error, "aborted")
	}
	txn.span.End()
	env.Logger().Debug("decision fixed", zap.Stringer("txn", id), zap.Stringer("decision", d))

	env.Send(txn.Client, message.TxnResult{ClientID: id.ClientID, Attempt: id.Attempt, Commit: d.Committed()})
	return env.Multicast(crash.CoordinatorDecision, txn.Servers, func(message.Address) message.Message {
		return message.DecisionResponse{Txn: id, Decision: d}
	})
}
