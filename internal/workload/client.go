// Package workload implements the client actors that drive a simulation.
// Each client runs one transaction at a time against a random coordinator:
// it repeatedly reads two distinct keys and, with some probability, moves a
// random amount from the first to the second, so every committed
// transaction preserves the total of the store.
package workload

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/sushant-115/gojotxn/core/message"
	"github.com/sushant-115/gojotxn/core/node"
	"github.com/sushant-115/gojotxn/core/transaction"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Next tells a client to begin its next transaction.
type Next struct{}

// Timeout fires when a coordinator did not answer in time. Seq identifies the
// armed timer.
type Timeout struct{ Seq uint64 }

// Stop ends the workload of a client.
type Stop struct{}

func (Next) Kind() string    { return "ClientNext" }
func (Timeout) Kind() string { return "ClientTimeout" }
func (Stop) Kind() string    { return "Stop" }

type Config struct {
	ID           int
	Coordinators int
	// MaxKey is the largest key of the shared key space [0, MaxKey].
	MaxKey            int
	MinOps            int
	MaxOps            int
	WriteProbability  float64
	CommitProbability float64
	Timeout           time.Duration
}

// Stats counts the transactions of a client. It is safe for concurrent use.
type Stats struct {
	attempted atomic.Int64
	committed atomic.Int64
}

func (s *Stats) Attempted() int64 { return s.attempted.Load() }
func (s *Stats) Committed() int64 { return s.committed.Load() }

// Client is the workload generator of one client actor.
type Client struct {
	cfg     Config
	rng     *rand.Rand
	limiter *rate.Limiter
	stats   Stats

	attempt     int
	coordinator message.Address
	accepted    bool
	waiting     bool
	stopped     bool

	opsTotal int
	opsDone  int

	firstKey, secondKey     int
	firstValue, secondValue int
	haveFirst, haveSecond   bool

	timer    transaction.Timer
	timerSeq uint64
}

var _ node.Handler = (*Client)(nil)

// New creates a client. A nil limiter begins transactions back to back.
func New(cfg Config, rng *rand.Rand, limiter *rate.Limiter) *Client {
	return &Client{cfg: cfg, rng: rng, limiter: limiter}
}

func (c *Client) Stats() *Stats { return &c.stats }

func (c *Client) Handle(env node.Env, _ message.Address, msg message.Message) error {
	if c.stopped {
		return nil
	}
	switch m := msg.(type) {
	case Next:
		c.waiting = false
		c.begin(env)
	case message.TxnAccept:
		c.onAccept(env, m)
	case message.ReadResult:
		c.onReadResult(env, m)
	case message.TxnResult:
		c.onResult(env, m)
	case Timeout:
		c.onTimeout(env, m)
	case Stop:
		c.stopped = true
		c.disarm()
		env.Logger().Info("client stopped",
			zap.Int64("committed", c.stats.Committed()),
			zap.Int64("attempted", c.stats.Attempted()))
	}
	return nil
}

func (c *Client) arm(env node.Env) {
	c.disarm()
	c.timerSeq++
	c.timer = env.After(c.cfg.Timeout, Timeout{Seq: c.timerSeq})
}

func (c *Client) disarm() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// scheduleNext begins the next transaction as soon as the limiter allows.
func (c *Client) scheduleNext(env node.Env) {
	c.disarm()
	if c.limiter == nil {
		c.begin(env)
		return
	}
	if d := c.limiter.Reserve().Delay(); d > 0 {
		c.waiting = true
		env.After(d, Next{})
		return
	}
	c.begin(env)
}

func (c *Client) begin(env node.Env) {
	c.attempt++
	c.stats.attempted.Add(1)
	c.accepted = false
	c.coordinator = message.CoordinatorAddress(c.rng.Intn(c.cfg.Coordinators))
	c.opsTotal = c.cfg.MinOps + c.rng.Intn(c.cfg.MaxOps-c.cfg.MinOps+1)
	c.opsDone = 0

	env.Send(c.coordinator, message.TxnBegin{ClientID: c.cfg.ID, Attempt: c.attempt})
	c.arm(env)
}

func (c *Client) onAccept(env node.Env, m message.TxnAccept) {
	if m.Attempt != c.attempt || c.accepted || c.waiting {
		return
	}
	c.accepted = true
	c.readTwo(env)
}

func (c *Client) readTwo(env node.Env) {
	c.firstKey = c.rng.Intn(c.cfg.MaxKey + 1)
	c.secondKey = (c.firstKey + 1 + c.rng.Intn(c.cfg.MaxKey)) % (c.cfg.MaxKey + 1)
	c.haveFirst, c.haveSecond = false, false

	env.Send(c.coordinator, message.Read{ClientID: c.cfg.ID, Attempt: c.attempt, Key: c.firstKey})
	env.Send(c.coordinator, message.Read{ClientID: c.cfg.ID, Attempt: c.attempt, Key: c.secondKey})
	c.arm(env)
}

func (c *Client) onReadResult(env node.Env, m message.ReadResult) {
	if m.Attempt != c.attempt || !c.accepted || c.waiting {
		return
	}
	switch m.Key {
	case c.firstKey:
		c.firstValue, c.haveFirst = m.Value, true
	case c.secondKey:
		c.secondValue, c.haveSecond = m.Value, true
	}
	if !c.haveFirst || !c.haveSecond {
		return
	}
	c.haveFirst, c.haveSecond = false, false

	if c.rng.Float64() < c.cfg.WriteProbability {
		c.writeTwo(env)
	}
	c.opsDone++
	if c.opsDone >= c.opsTotal {
		c.end(env)
		return
	}
	c.readTwo(env)
}

// writeTwo moves a random amount from the first key to the second.
func (c *Client) writeTwo(env node.Env) {
	amount := 0
	if c.firstValue >= 1 {
		amount = 1 + c.rng.Intn(c.firstValue)
	}
	env.Send(c.coordinator, message.Write{ClientID: c.cfg.ID, Attempt: c.attempt, Key: c.firstKey, Value: c.firstValue - amount})
	env.Send(c.coordinator, message.Write{ClientID: c.cfg.ID, Attempt: c.attempt, Key: c.secondKey, Value: c.secondValue + amount})
}

func (c *Client) end(env node.Env) {
	commit := c.rng.Float64() < c.cfg.CommitProbability
	env.Send(c.coordinator, message.TxnEnd{ClientID: c.cfg.ID, Attempt: c.attempt, Commit: commit})
	c.arm(env)
}

func (c *Client) onResult(env node.Env, m message.TxnResult) {
	if m.Attempt != c.attempt || c.waiting {
		return
	}
	if m.Commit {
		c.stats.committed.Add(1)
	}
	env.Logger().Debug("transaction finished",
		zap.Int("attempt", m.Attempt), zap.Bool("committed", m.Commit))
	c.scheduleNext(env)
}

func (c *Client) onTimeout(env node.Env, m Timeout) {
	if m.Seq != c.timerSeq || c.timer == nil || c.waiting {
		return
	}
	c.timer = nil
	env.Logger().Info("coordinator did not answer, restarting",
		zap.Int("attempt", c.attempt), zap.Bool("accepted", c.accepted))
	c.scheduleNext(env)
}
