package node

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sushant-115/gojotxn/core/crash"
	"github.com/sushant-115/gojotxn/core/message"
	"github.com/sushant-115/gojotxn/core/transaction"
	"go.uber.org/zap"
)

// Options configures a node at registration.
type Options struct {
	// Injector decides crashes; nil disables crash injection.
	Injector *crash.Injector
	Logger   *zap.Logger
	OnMode   ModeHook
}

// Node runs one actor: it owns the mailbox and processes one message to
// completion at a time. Node implements Env for its handler.
type Node struct {
	addr     message.Address
	handler  Handler
	net      *Network
	injector *crash.Injector
	logger   *zap.Logger
	onMode   ModeHook

	mailbox *queue[message.Envelope]
	mode    atomic.Int32
	done    chan struct{}
}

var _ Env = (*Node)(nil)

func newNode(addr message.Address, h Handler, net *Network, opts Options) *Node {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Node{
		addr:     addr,
		handler:  h,
		net:      net,
		injector: opts.Injector,
		logger:   logger.With(zap.String("node", string(addr))),
		onMode:   opts.OnMode,
		mailbox:  newQueue[message.Envelope](),
		done:     make(chan struct{}),
	}
}

func (n *Node) Self() message.Address { return n.addr }

func (n *Node) Logger() *zap.Logger { return n.logger }

func (n *Node) Mode() Mode { return Mode(n.mode.Load()) }

// Done is closed once the actor loop has exited.
func (n *Node) Done() <-chan struct{} { return n.done }

func (n *Node) Send(to message.Address, msg message.Message) {
	n.net.Send(n.addr, to, msg)
}

func (n *Node) After(d time.Duration, msg message.Message) transaction.Timer {
	return time.AfterFunc(d, func() {
		n.deliver(message.Envelope{From: n.addr, To: n.addr, Msg: msg})
	})
}

func (n *Node) MaybeCrash(p crash.Phase) error {
	if n.injector == nil {
		return nil
	}
	return n.injector.MaybeCrash(p)
}

func (n *Node) Multicast(f crash.FanOut, to []message.Address, build func(message.Address) message.Message) error {
	send := func(i int) { n.Send(to[i], build(to[i])) }
	if n.injector == nil {
		for i := range to {
			send(i)
		}
		return nil
	}
	return n.injector.Multicast(f, len(to), send)
}

// CrashCounts returns the crash counts recorded so far.
func (n *Node) CrashCounts() crash.Counts {
	if n.injector == nil {
		return crash.Counts{}
	}
	return n.injector.Counts()
}

func (n *Node) deliver(env message.Envelope) {
	n.mailbox.push(env)
}

func (n *Node) loop(ctx context.Context) {
	defer close(n.done)
	for {
		env, ok := n.mailbox.pop(ctx)
		if !ok {
			return
		}
		n.dispatch(env)
		if n.Mode() == ModeStopped {
			n.mailbox.close()
			return
		}
	}
}

func (n *Node) dispatch(env message.Envelope) {
	switch env.Msg.(type) {
	case message.CheckCorrectness:
		if r, ok := n.handler.(Reporter); ok {
			report := r.Report()
			report.Crashes = n.CrashCounts().Strings()
			n.Send(env.From, report)
			n.setMode(ModeStopped, "")
			n.logger.Info("answered correctness check, stopping", zap.Int("sum", report.Sum))
			return
		}
	case message.Recovery:
		if n.Mode() != ModeCrashed {
			return
		}
		n.setMode(ModeNormal, "")
		n.logger.Info("recovered")
	default:
		if n.Mode() == ModeCrashed {
			return
		}
	}

	if err := n.handler.Handle(n, env.From, env.Msg); err != nil {
		n.fail(err)
	}
}

func (n *Node) fail(err error) {
	var sig *crash.Signal
	if !errors.As(err, &sig) {
		n.logger.Error("handler failed", zap.Error(err))
		return
	}
	n.setMode(ModeCrashed, sig.Phase)
	n.After(sig.RecoverIn, message.Recovery{})
	n.logger.Warn("crashed",
		zap.String("phase", string(sig.Phase)),
		zap.Duration("recover_in", sig.RecoverIn))
}

func (n *Node) setMode(m Mode, phase crash.Phase) {
	n.mode.Store(int32(m))
	if n.onMode != nil {
		n.onMode(n.addr, m, phase)
	}
}
