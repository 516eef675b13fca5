// Package transaction holds the role-independent transaction model shared by
// the coordinator and the participant engines: identity, the
// INIT -> READY -> DECIDED state machine, votes and decisions, the
// handle-based registry and the per-peer timer queues.
package transaction

import "fmt"

// ID identifies a logical transaction across every node: the client that
// issued it and the client's attempt number.
type ID struct {
	ClientID int `json:"client_id"`
	Attempt  int `json:"attempt"`
}

func (id ID) String() string {
	return fmt.Sprintf("c%d#%d", id.ClientID, id.Attempt)
}

// State represents where a transaction is in the commit protocol on one node.
type State int

const (
	StateInit    State = iota // Registered, no vote exchanged yet
	StateReady                // Vote requested (coordinator) or cast YES (participant), awaiting decision
	StateDecided              // Terminal, carries the fixed decision
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateReady:
		return "READY"
	case StateDecided:
		return "DECIDED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Vote int

const (
	VoteNo Vote = iota
	VoteYes
)

func (v Vote) String() string {
	if v == VoteYes {
		return "YES"
	}
	return "NO"
}

type Decision int

const (
	DecisionAbort Decision = iota
	DecisionCommit
)

func (d Decision) String() string {
	if d == DecisionCommit {
		return "COMMIT"
	}
	return "ABORT"
}

// Committed is a convenience used when a decision is reported to clients.
func (d Decision) Committed() bool { return d == DecisionCommit }

// Transaction is the state shared by both roles. Transitions are monotonic
// and the decision is fixed by the first call to Decide.
type Transaction struct {
	ID       ID
	state    State
	decision Decision
}

func New(id ID) Transaction {
	return Transaction{ID: id, state: StateInit}
}

func (t *Transaction) State() State { return t.state }

func (t *Transaction) Decided() bool { return t.state == StateDecided }

// Decision returns the fixed outcome; ok is false until the transaction is DECIDED.
func (t *Transaction) Decision() (d Decision, ok bool) {
	return t.decision, t.state == StateDecided
}

// MarkReady moves INIT to READY. It reports false for any other state.
func (t *Transaction) MarkReady() bool {
	if t.state != StateInit {
		return false
	}
	t.state = StateReady
	return true
}

// Decide fixes d as the outcome. Only the first call has an effect.
func (t *Transaction) Decide(d Decision) bool {
	if t.state == StateDecided {
		return false
	}
	t.decision = d
	t.state = StateDecided
	return true
}
