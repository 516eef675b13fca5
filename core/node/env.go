// Package node is the actor runtime shared by every simulated process: a
// mailbox loop that handles one message at a time, the Normal/Crashed mode
// switch, self-addressed timers and the simulated network connecting the
// actors.
package node

import (
	"time"

	"github.com/sushant-115/gojotxn/core/crash"
	"github.com/sushant-115/gojotxn/core/message"
	"github.com/sushant-115/gojotxn/core/transaction"
	"go.uber.org/zap"
)

// Env is the view of the runtime offered to a handler while it processes a
// message.
type Env interface {
	Self() message.Address
	Send(to message.Address, msg message.Message)
	// After delivers msg to Self once d has elapsed.
	After(d time.Duration, msg message.Message) transaction.Timer
	// MaybeCrash returns a *crash.Signal when the node crashes at p.
	MaybeCrash(p crash.Phase) error
	// Multicast sends build(to[i]) to every recipient in order, injecting the
	// fan-out crash variants of f.
	Multicast(f crash.FanOut, to []message.Address, build func(message.Address) message.Message) error
	Logger() *zap.Logger
}

// Handler is the protocol logic of one actor. Returning a *crash.Signal
// switches the node to crashed mode; any other error is logged.
type Handler interface {
	Handle(env Env, from message.Address, msg message.Message) error
}

// Reporter is implemented by handlers that answer the correctness check. The
// runtime fills in the crash counts and terminates the node afterwards.
type Reporter interface {
	Report() message.CorrectnessReport
}

// Mode is the message-acceptance mode of a node.
type Mode int32

const (
	ModeNormal Mode = iota
	ModeCrashed
	ModeStopped
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeCrashed:
		return "crashed"
	case ModeStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ModeHook observes mode changes. phase is set when the change is a crash.
type ModeHook func(addr message.Address, mode Mode, phase crash.Phase)
