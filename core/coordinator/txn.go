package coordinator

import (
	"time"

	"github.com/sushant-115/gojotxn/core/message"
	"github.com/sushant-115/gojotxn/core/transaction"
	"go.opentelemetry.io/otel/trace"
)

// Transaction is the coordinator-side state of one client transaction.
type Transaction struct {
	transaction.Transaction

	Client  message.Address
	Servers []message.Address

	yes    map[message.Address]struct{}
	timers map[message.Address]*transaction.TimerQueue
	ops    map[message.Address]int

	span    trace.Span
	started time.Time
}

func newTransaction(id transaction.ID, client message.Address, span trace.Span) *Transaction {
	return &Transaction{
		Transaction: transaction.New(id),
		Client:      client,
		yes:         make(map[message.Address]struct{}),
		timers:      make(map[message.Address]*transaction.TimerQueue),
		ops:         make(map[message.Address]int),
		span:        span,
		started:     time.Now(),
	}
}

// AddServer tracks server as a participant. It reports whether the server is new.
func (t *Transaction) AddServer(server message.Address) bool {
	if t.HasServer(server) {
		return false
	}
	t.Servers = append(t.Servers, server)
	return true
}

func (t *Transaction) HasServer(server message.Address) bool {
	for _, s := range t.Servers {
		if s == server {
			return true
		}
	}
	return false
}

// AddYes records a YES vote and reports whether every participant has voted YES.
func (t *Transaction) AddYes(server message.Address) bool {
	t.yes[server] = struct{}{}
	return len(t.yes) == len(t.Servers)
}

func (t *Transaction) YesVoters() int { return len(t.yes) }

// Queue returns the timer queue toward server, creating it on first use.
func (t *Transaction) Queue(server message.Address) *transaction.TimerQueue {
	q, ok := t.timers[server]
	if !ok {
		q = &transaction.TimerQueue{}
		t.timers[server] = q
	}
	return q
}

// Forwarded counts an action sent to server.
func (t *Transaction) Forwarded(server message.Address) { t.ops[server]++ }

func (t *Transaction) Ops(server message.Address) int { return t.ops[server] }

// CancelTimers stops every outstanding timeout of the transaction.
func (t *Transaction) CancelTimers() {
	for _, q := range t.timers {
		q.CancelAll()
	}
}
