// Package participant implements the shard server: it stages a transaction's
// reads and writes in a private workspace, validates them optimistically at
// vote time, applies or discards them once a decision is known, and asks the
// coordinator and its peers for the decision when it is left waiting after a
// YES vote.
package participant

import (
	"context"
	"time"

	"github.com/sushant-115/gojotxn/core/crash"
	"github.com/sushant-115/gojotxn/core/message"
	"github.com/sushant-115/gojotxn/core/node"
	"github.com/sushant-115/gojotxn/core/storage"
	"github.com/sushant-115/gojotxn/core/transaction"
	internaltelemetry "github.com/sushant-115/gojotxn/internal/telemetry"
	"go.uber.org/zap"
)

const role = message.RoleServer

type Config struct {
	Shard        int
	ShardSize    int
	DefaultValue int
	// Timeout bounds the silence of a transaction that has not voted yet,
	// the wait for a decision after a YES vote, and each termination round.
	Timeout time.Duration
	// MaxTerminationRounds bounds the termination protocol; 0 means unlimited.
	MaxTerminationRounds int
}

// Server is the engine of one shard. It is driven by a single actor and is
// not safe for concurrent use.
type Server struct {
	cfg       Config
	store     *storage.Store
	locks     *storage.LockTable[transaction.ID]
	txns      *transaction.Registry[Transaction]
	decisions *transaction.DecisionLog
	nextTimer transaction.TimerID

	metrics *internaltelemetry.TxnMetrics
}

var (
	_ node.Handler  = (*Server)(nil)
	_ node.Reporter = (*Server)(nil)
)

func New(cfg Config, metrics *internaltelemetry.TxnMetrics) *Server {
	if metrics == nil {
		metrics = internaltelemetry.NewNoopTxnMetrics()
	}
	return &Server{
		cfg:       cfg,
		store:     storage.NewStore(cfg.Shard, cfg.ShardSize, cfg.DefaultValue),
		locks:     storage.NewLockTable[transaction.ID](),
		txns:      transaction.NewRegistry[Transaction](),
		decisions: transaction.NewDecisionLog(),
		metrics:   metrics,
	}
}

func (s *Server) Handle(env node.Env, from message.Address, msg message.Message) error {
	switch m := msg.(type) {
	case message.TransactionRead:
		return s.onTransactionRead(env, from, m)
	case message.TransactionWrite:
		s.onTransactionWrite(env, from, m)
		return nil
	case message.VoteRequest:
		return s.onVoteRequest(env, from, m)
	case message.DecisionResponse:
		s.fixDecision(env, m.Txn, m.Decision)
		return nil
	case message.DecisionRequest:
		s.onDecisionRequest(env, from, m)
		return nil
	case message.Timeout:
		return s.onTimeout(env, m)
	case message.Recovery:
		return s.onRecovery(env)
	default:
		env.Logger().Debug("ignoring unexpected message", zap.String("kind", msg.Kind()))
		return nil
	}
}

// Report answers the correctness check with the sum of the live values.
func (s *Server) Report() message.CorrectnessReport {
	return message.CorrectnessReport{Role: role, Sum: s.store.Sum()}
}

// Store exposes the live resources, for inspection.
func (s *Server) Store() *storage.Store { return s.store }

// Locked returns the keys currently pending-locked.
func (s *Server) Locked() []int { return s.locks.Locked() }

// Pending returns the ids of the transactions not yet decided on this shard.
func (s *Server) Pending() []transaction.ID { return s.txns.IDs() }

// Txn returns the live transaction registered under id.
func (s *Server) Txn(id transaction.ID) (*Transaction, bool) {
	_, txn, ok := s.txns.Lookup(id)
	return txn, ok
}

func (s *Server) Decision(id transaction.ID) (transaction.Decision, bool) {
	return s.decisions.Get(id)
}

// admit returns the transaction an action belongs to, registering it on
// first sight. Actions for decided or voted transactions are dropped. Every
// admitted action restarts the timer of the transaction, so one that stops
// hearing from its coordinator before the vote aborts.
func (s *Server) admit(env node.Env, from message.Address, id transaction.ID) *Transaction {
	if _, decided := s.decisions.Get(id); decided {
		return nil
	}
	_, txn, ok := s.txns.Lookup(id)
	if !ok {
		txn = newTransaction(id, from)
		s.txns.Add(id, txn)
		s.metrics.TxnStarted(context.Background(), string(env.Self()))
	} else if txn.State() != transaction.StateInit {
		return nil
	}
	s.arm(env, txn)
	return txn
}

func (s *Server) onTransactionRead(env node.Env, from message.Address, m message.TransactionRead) error {
	txn := s.admit(env, from, m.Txn)
	if txn == nil {
		return nil
	}
	txn.ops++
	value, err := txn.Workspace.Read(m.Key, s.store)
	if err != nil {
		env.Logger().Warn("read rejected", zap.Stringer("txn", m.Txn), zap.Error(err))
		return nil
	}

	if err := env.MaybeCrash(crash.ServerBeforeReadReply); err != nil {
		return err
	}
	env.Send(from, message.ReadResponse{Txn: m.Txn, Key: m.Key, Value: value})
	return nil
}

func (s *Server) onTransactionWrite(env node.Env, from message.Address, m message.TransactionWrite) {
	txn := s.admit(env, from, m.Txn)
	if txn == nil {
		return
	}
	txn.ops++
	if err := txn.Workspace.Write(m.Key, m.Value, s.store); err != nil {
		env.Logger().Warn("write rejected", zap.Stringer("txn", m.Txn), zap.Error(err))
	}
}

// canCommit validates the workspace of txn against the live store and the
// pending locks. ops is the number of actions the coordinator forwarded.
func (s *Server) canCommit(txn *Transaction, ops int) bool {
	if txn.ops != ops {
		return false
	}
	for _, key := range txn.Workspace.Keys() {
		entry, _ := txn.Workspace.Entry(key)
		live, err := s.store.Get(key)
		if err != nil || live.Version != entry.Version || s.locks.LockedByOther(key, txn.ID) {
			return false
		}
	}
	return true
}

func (s *Server) onVoteRequest(env node.Env, from message.Address, m message.VoteRequest) error {
	if err := env.MaybeCrash(crash.ServerVoteNoVote); err != nil {
		return err
	}
	logger := env.Logger().With(zap.Stringer("txn", m.Txn))

	if d, decided := s.decisions.Get(m.Txn); decided {
		vote := transaction.VoteNo
		if d.Committed() {
			vote = transaction.VoteYes
		}
		env.Send(from, message.VoteResponse{Txn: m.Txn, Vote: vote})
		return nil
	}

	_, txn, ok := s.txns.Lookup(m.Txn)
	if !ok {
		logger.Info("vote requested for unknown transaction, voting NO")
		s.decisions.Record(m.Txn, transaction.DecisionAbort)
		s.vote(env, from, m.Txn, transaction.VoteNo)
		return nil
	}
	if txn.State() == transaction.StateReady {
		s.vote(env, from, m.Txn, transaction.VoteYes)
		return nil
	}

	if !s.canCommit(txn, m.Ops) || s.locks.Lock(txn.ID, txn.Workspace.Keys()) != nil {
		logger.Debug("validation failed", zap.Int("ops", txn.ops), zap.Int("expected_ops", m.Ops))
		s.fixDecision(env, txn.ID, transaction.DecisionAbort)
		s.vote(env, from, m.Txn, transaction.VoteNo)
		return nil
	}

	txn.Coordinator = from
	txn.Servers = append([]message.Address(nil), m.Servers...)
	txn.MarkReady()
	s.vote(env, from, m.Txn, transaction.VoteYes)
	s.arm(env, txn)

	return env.MaybeCrash(crash.ServerVoteAfterVote)
}

func (s *Server) vote(env node.Env, to message.Address, id transaction.ID, v transaction.Vote) {
	s.metrics.Vote(context.Background(), string(env.Self()), v.String())
	env.Send(to, message.VoteResponse{Txn: id, Vote: v})
}

func (s *Server) onDecisionRequest(env node.Env, from message.Address, m message.DecisionRequest) {
	if d, ok := s.decisions.Get(m.Txn); ok {
		env.Send(from, message.DecisionResponse{Txn: m.Txn, Decision: d})
	}
}

func (s *Server) onTimeout(env node.Env, m message.Timeout) error {
	_, txn, ok := s.txns.Lookup(m.Txn)
	if !ok || txn.Decided() || !txn.live(m.Timer) {
		return nil
	}
	s.metrics.Timeout(context.Background(), string(env.Self()))

	switch txn.State() {
	case transaction.StateReady:
		return s.terminate(env, txn)
	case transaction.StateInit:
		env.Logger().Warn("timed out before voting, aborting", zap.Stringer("txn", m.Txn))
		s.fixDecision(env, txn.ID, transaction.DecisionAbort)
	}
	return nil
}

// onRecovery resolves what the crash left pending: transactions that never
// voted abort locally, voted ones ask around for the decision.
func (s *Server) onRecovery(env node.Env) error {
	for _, id := range s.txns.IDs() {
		_, txn, ok := s.txns.Lookup(id)
		if !ok {
			continue
		}
		switch txn.State() {
		case transaction.StateInit:
			s.fixDecision(env, id, transaction.DecisionAbort)
		case transaction.StateReady:
			if err := s.terminate(env, txn); err != nil {
				return err
			}
		}
	}
	return nil
}

// terminate runs one round of the termination protocol: ask the coordinator
// and every peer for the decision, and wait for another timeout.
func (s *Server) terminate(env node.Env, txn *Transaction) error {
	logger := env.Logger().With(zap.Stringer("txn", txn.ID))
	if s.cfg.MaxTerminationRounds > 0 && txn.rounds >= s.cfg.MaxTerminationRounds {
		txn.stopTimer()
		logger.Warn("termination protocol gave up, transaction stays blocked",
			zap.Int("rounds", txn.rounds), zap.Ints("locked_keys", txn.Workspace.Keys()))
		return nil
	}
	txn.rounds++
	s.metrics.TerminationRound(context.Background(), string(env.Self()))
	logger.Info("asking for the decision", zap.Int("round", txn.rounds))

	s.arm(env, txn)
	targets := []message.Address{txn.Coordinator}
	for _, peer := range txn.Servers {
		if peer != env.Self() && peer != txn.Coordinator {
			targets = append(targets, peer)
		}
	}
	id := txn.ID
	return env.Multicast(crash.ServerTermination, targets, func(message.Address) message.Message {
		return message.DecisionRequest{Txn: id}
	})
}

func (s *Server) arm(env node.Env, txn *Transaction) {
	s.nextTimer++
	id := s.nextTimer
	txn.setTimer(id, env.After(s.cfg.Timeout, message.Timeout{Txn: txn.ID, Timer: id}))
}

// fixDecision records d for id and, for a live transaction, applies or
// discards its workspace and frees it. Later calls have no effect.
func (s *Server) fixDecision(env node.Env, id transaction.ID, d transaction.Decision) {
	_, txn, ok := s.txns.Lookup(id)
	if !ok {
		s.decisions.Record(id, d)
		return
	}
	if !txn.Decide(d) {
		return
	}
	s.decisions.Record(id, d)

	keys := txn.Workspace.Keys()
	if d.Committed() {
		for _, key := range keys {
			entry, _ := txn.Workspace.Entry(key)
			if !entry.Changed {
				continue
			}
			if err := s.store.Apply(key, entry.Value, entry.Version); err != nil {
				env.Logger().Error("commit could not apply workspace entry",
					zap.Stringer("txn", id), zap.Int("key", key), zap.Error(err))
			}
		}
	}
	s.locks.Release(id, keys)
	txn.stopTimer()
	s.txns.Remove(id)

	s.metrics.TxnDecided(context.Background(), string(env.Self()), role, d.String(), txn.started)
	env.Logger().Debug("decision applied", zap.Stringer("txn", id), zap.Stringer("decision", d))
}
