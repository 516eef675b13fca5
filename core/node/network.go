package node

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sushant-115/gojotxn/core/message"
	"go.uber.org/zap"
)

type linkKey struct {
	from message.Address
	to   message.Address
}

type delivery struct {
	env       message.Envelope
	deliverAt time.Time
}

// link carries the messages of one ordered pair of actors. Delivery times are
// non-decreasing, so a link never reorders.
type link struct {
	q    *queue[delivery]
	last time.Time
}

// Network connects the actors of one simulation. Each message is delayed by
// a uniform random amount in [0, MaxDelay) while per-link FIFO order is kept.
// Messages to unknown or stopped actors are dropped.
type Network struct {
	maxDelay time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	nodes   map[message.Address]*Node
	links   map[linkKey]*link
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

func NewNetwork(maxDelay time.Duration, rng *rand.Rand, logger *zap.Logger) *Network {
	return &Network{
		maxDelay: maxDelay,
		logger:   logger,
		rng:      rng,
		nodes:    make(map[message.Address]*Node),
		links:    make(map[linkKey]*link),
	}
}

// Register adds an actor. Actors registered after Start begin running
// immediately.
func (n *Network) Register(addr message.Address, h Handler, opts Options) (*Node, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.nodes[addr]; exists {
		return nil, fmt.Errorf("node %s already registered", addr)
	}
	nd := newNode(addr, h, n, opts)
	n.nodes[addr] = nd
	if n.started {
		n.run(nd)
	}
	return nd, nil
}

// Start launches every registered actor.
func (n *Network) Start(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return
	}
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.started = true
	for _, nd := range n.nodes {
		n.run(nd)
	}
}

// run must be called with n.mu held.
func (n *Network) run(nd *Node) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		nd.loop(n.ctx)
	}()
}

// Stop cancels every actor and link and waits for them to exit.
func (n *Network) Stop() {
	n.mu.Lock()
	if n.cancel != nil {
		n.cancel()
	}
	for _, l := range n.links {
		l.q.close()
	}
	n.mu.Unlock()
	n.wg.Wait()
}

// Node returns the actor registered under addr.
func (n *Network) Node(addr message.Address) (*Node, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	nd, ok := n.nodes[addr]
	return nd, ok
}

// Send routes msg from one actor to another.
func (n *Network) Send(from, to message.Address, msg message.Message) {
	env := message.Envelope{From: from, To: to, Msg: msg}

	n.mu.Lock()
	dst, ok := n.nodes[to]
	if !ok {
		n.mu.Unlock()
		n.logger.Debug("dropping message to unknown node",
			zap.String("from", string(from)), zap.String("to", string(to)), zap.String("kind", msg.Kind()))
		return
	}
	if n.maxDelay <= 0 || !n.started {
		n.mu.Unlock()
		dst.deliver(env)
		return
	}

	key := linkKey{from: from, to: to}
	l, ok := n.links[key]
	if !ok {
		l = &link{q: newQueue[delivery]()}
		n.links[key] = l
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.pump(l)
		}()
	}
	at := time.Now().Add(time.Duration(n.rng.Int63n(int64(n.maxDelay))))
	if at.Before(l.last) {
		at = l.last
	}
	l.last = at
	n.mu.Unlock()

	l.q.push(delivery{env: env, deliverAt: at})
}

func (n *Network) pump(l *link) {
	for {
		d, ok := l.q.pop(n.ctx)
		if !ok {
			return
		}
		if wait := time.Until(d.deliverAt); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-n.ctx.Done():
				t.Stop()
				return
			}
		}
		n.mu.Lock()
		dst, ok := n.nodes[d.env.To]
		n.mu.Unlock()
		if ok {
			dst.deliver(d.env)
		}
	}
}
