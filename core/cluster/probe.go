package cluster

import (
	"context"
	"errors"
	"fmt"

	"github.com/sushant-115/gojotxn/core/message"
	"github.com/sushant-115/gojotxn/core/node"
)

var ErrNoTransaction = errors.New("no open transaction")

// Probe is a client driven from Go code, e.g. by tests or the interactive
// driver, one blocking call at a time. It is not safe for concurrent use.
type Probe struct {
	id          int
	addr        message.Address
	net         *node.Network
	inbox       chan message.Message
	attempt     int
	coordinator message.Address
	open        bool
}

type inboxHandler struct {
	inbox chan message.Message
}

func (h inboxHandler) Handle(_ node.Env, _ message.Address, msg message.Message) error {
	select {
	case h.inbox <- msg:
	default:
	}
	return nil
}

// NewProbe registers a probe under message.ClientAddress(id). The id must
// not collide with a workload client.
func (c *Cluster) NewProbe(id int) (*Probe, error) {
	p := &Probe{
		id:    id,
		addr:  message.ClientAddress(id),
		net:   c.net,
		inbox: make(chan message.Message, 64),
	}
	if _, err := c.net.Register(p.addr, inboxHandler{inbox: p.inbox}, node.Options{Logger: c.logger}); err != nil {
		return nil, err
	}
	return p, nil
}

// Attempt is the attempt number of the current or last transaction.
func (p *Probe) Attempt() int { return p.attempt }

// Begin opens a new transaction on coordinator i.
func (p *Probe) Begin(ctx context.Context, i int) error {
	p.attempt++
	p.coordinator = message.CoordinatorAddress(i)
	p.open = false
	p.net.Send(p.addr, p.coordinator, message.TxnBegin{ClientID: p.id, Attempt: p.attempt})

	attempt := p.attempt
	_, err := p.await(ctx, func(m message.Message) bool {
		a, ok := m.(message.TxnAccept)
		return ok && a.Attempt == attempt
	})
	if err != nil {
		return fmt.Errorf("begin attempt %d on %s: %w", attempt, p.coordinator, err)
	}
	p.open = true
	return nil
}

func (p *Probe) Read(ctx context.Context, key int) (int, error) {
	if !p.open {
		return 0, ErrNoTransaction
	}
	p.net.Send(p.addr, p.coordinator, message.Read{ClientID: p.id, Attempt: p.attempt, Key: key})

	attempt := p.attempt
	m, err := p.await(ctx, func(m message.Message) bool {
		r, ok := m.(message.ReadResult)
		return ok && r.Attempt == attempt && r.Key == key
	})
	if err != nil {
		return 0, fmt.Errorf("read key %d: %w", key, err)
	}
	return m.(message.ReadResult).Value, nil
}

// Write stages a write; the coordinator does not acknowledge it.
func (p *Probe) Write(key, value int) error {
	if !p.open {
		return ErrNoTransaction
	}
	p.net.Send(p.addr, p.coordinator, message.Write{ClientID: p.id, Attempt: p.attempt, Key: key, Value: value})
	return nil
}

// End closes the transaction and reports whether it committed.
func (p *Probe) End(ctx context.Context, commit bool) (bool, error) {
	if !p.open {
		return false, ErrNoTransaction
	}
	p.open = false
	p.net.Send(p.addr, p.coordinator, message.TxnEnd{ClientID: p.id, Attempt: p.attempt, Commit: commit})

	attempt := p.attempt
	m, err := p.await(ctx, func(m message.Message) bool {
		r, ok := m.(message.TxnResult)
		return ok && r.Attempt == attempt
	})
	if err != nil {
		return false, fmt.Errorf("end attempt %d: %w", attempt, err)
	}
	return m.(message.TxnResult).Commit, nil
}

// await drops messages until match accepts one.
func (p *Probe) await(ctx context.Context, match func(message.Message) bool) (message.Message, error) {
	for {
		select {
		case m := <-p.inbox:
			if match(m) {
				return m, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
