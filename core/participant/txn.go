package participant

import (
	"time"

	"github.com/sushant-115/gojotxn/core/message"
	"github.com/sushant-115/gojotxn/core/storage"
	"github.com/sushant-115/gojotxn/core/transaction"
)

// Transaction is the shard-side state of one transaction.
type Transaction struct {
	transaction.Transaction

	Coordinator message.Address
	// Servers is the participant set received with the VoteRequest.
	Servers   []message.Address
	Workspace *storage.Workspace

	ops     int
	rounds  int
	timer   transaction.Timer
	timerID transaction.TimerID
	started time.Time
}

func newTransaction(id transaction.ID, coordinator message.Address) *Transaction {
	return &Transaction{
		Transaction: transaction.New(id),
		Coordinator: coordinator,
		Workspace:   storage.NewWorkspace(),
		started:     time.Now(),
	}
}

// Ops is the number of actions applied to the workspace.
func (t *Transaction) Ops() int { return t.ops }

// Rounds is the number of termination rounds started.
func (t *Transaction) Rounds() int { return t.rounds }

// setTimer replaces the single decision timer of the transaction.
func (t *Transaction) setTimer(id transaction.TimerID, timer transaction.Timer) {
	t.stopTimer()
	t.timerID = id
	t.timer = timer
}

func (t *Transaction) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// live reports whether id is the outstanding timer.
func (t *Transaction) live(id transaction.TimerID) bool {
	return t.timer != nil && t.timerID == id
}
