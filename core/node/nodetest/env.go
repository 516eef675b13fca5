// Package nodetest provides a recording node.Env so protocol engines can be
// driven one message at a time in tests.
package nodetest

import (
	"math/rand"
	"testing"
	"time"

	"github.com/sushant-115/gojotxn/core/crash"
	"github.com/sushant-115/gojotxn/core/message"
	"github.com/sushant-115/gojotxn/core/node"
	"github.com/sushant-115/gojotxn/core/transaction"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Timer is an armed timeout that the test fires by hand.
type Timer struct {
	Delay   time.Duration
	Msg     message.Message
	Stopped bool
}

func (t *Timer) Stop() bool {
	was := !t.Stopped
	t.Stopped = true
	return was
}

// Env records everything a handler does instead of performing it.
type Env struct {
	self     message.Address
	logger   *zap.Logger
	injector *crash.Injector

	Sent   []message.Envelope
	Timers []*Timer
}

var _ node.Env = (*Env)(nil)

// New returns an Env for self. Every phase listed crashes on first reach.
func New(t testing.TB, self message.Address, phases ...crash.Phase) *Env {
	return &Env{
		self:   self,
		logger: zaptest.NewLogger(t),
		injector: crash.NewInjector(crash.Config{
			Phases:      phases,
			Probability: 1,
			MinRecovery: time.Second,
			MaxRecovery: time.Second,
		}, rand.New(rand.NewSource(1))),
	}
}

// Disarm stops injecting crashes, e.g. once a scenario has crashed.
func (e *Env) Disarm() {
	e.injector = crash.NewInjector(crash.Config{}, rand.New(rand.NewSource(1)))
}

func (e *Env) Self() message.Address { return e.self }

func (e *Env) Logger() *zap.Logger { return e.logger }

func (e *Env) Send(to message.Address, msg message.Message) {
	e.Sent = append(e.Sent, message.Envelope{From: e.self, To: to, Msg: msg})
}

func (e *Env) After(d time.Duration, msg message.Message) transaction.Timer {
	t := &Timer{Delay: d, Msg: msg}
	e.Timers = append(e.Timers, t)
	return t
}

func (e *Env) MaybeCrash(p crash.Phase) error {
	return e.injector.MaybeCrash(p)
}

func (e *Env) Multicast(f crash.FanOut, to []message.Address, build func(message.Address) message.Message) error {
	return e.injector.Multicast(f, len(to), func(i int) { e.Send(to[i], build(to[i])) })
}

// Crashes returns the crash counts recorded so far.
func (e *Env) Crashes() crash.Counts { return e.injector.Counts() }

// Take returns the recorded messages and forgets them.
func (e *Env) Take() []message.Envelope {
	sent := e.Sent
	e.Sent = nil
	return sent
}

// SentTo returns the recorded messages addressed to to.
func (e *Env) SentTo(to message.Address) []message.Message {
	var msgs []message.Message
	for _, env := range e.Sent {
		if env.To == to {
			msgs = append(msgs, env.Msg)
		}
	}
	return msgs
}

// Live returns the armed timers that were not stopped.
func (e *Env) Live() []*Timer {
	var live []*Timer
	for _, t := range e.Timers {
		if !t.Stopped {
			live = append(live, t)
		}
	}
	return live
}

// Last returns the most recently armed timer.
func (e *Env) Last() *Timer {
	if len(e.Timers) == 0 {
		return nil
	}
	return e.Timers[len(e.Timers)-1]
}

// Of returns every recorded message of type T, in send order.
func Of[T message.Message](msgs []message.Envelope) []T {
	var res []T
	for _, env := range msgs {
		if m, ok := env.Msg.(T); ok {
			res = append(res, m)
		}
	}
	return res
}
