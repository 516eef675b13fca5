package crash

import (
	"fmt"
	"math/rand"
	"time"
)

// Signal is returned by a handler that crashed at an injection point. It
// short-circuits the rest of the handler: effects performed before the
// injection point stand, nothing after it runs. The node runtime reacts by
// entering crashed mode and scheduling recovery after RecoverIn.
type Signal struct {
	Phase     Phase
	RecoverIn time.Duration
}

func (s *Signal) Error() string {
	return fmt.Sprintf("crashed in phase %s (recovering in %v)", s.Phase, s.RecoverIn)
}

// Config selects the injection points of one node.
type Config struct {
	Phases      []Phase
	Probability float64
	MinRecovery time.Duration
	MaxRecovery time.Duration
}

// Injector decides whether a node crashes at an injection point. It is owned
// by a single actor and is not safe for concurrent use.
type Injector struct {
	enabled     map[Phase]struct{}
	probability float64
	minRecovery time.Duration
	maxRecovery time.Duration
	rng         *rand.Rand
	counts      Counts
}

func NewInjector(cfg Config, rng *rand.Rand) *Injector {
	enabled := make(map[Phase]struct{}, len(cfg.Phases))
	for _, p := range cfg.Phases {
		enabled[p] = struct{}{}
	}
	return &Injector{
		enabled:     enabled,
		probability: cfg.Probability,
		minRecovery: cfg.MinRecovery,
		maxRecovery: cfg.MaxRecovery,
		rng:         rng,
		counts:      make(Counts),
	}
}

// Enabled reports whether p is configured as an injection point.
func (i *Injector) Enabled(p Phase) bool {
	if p == "" {
		return false
	}
	_, ok := i.enabled[p]
	return ok
}

// MaybeCrash draws against the configured probability when p is enabled.
// It returns a *Signal when the node must crash, nil otherwise.
func (i *Injector) MaybeCrash(p Phase) error {
	if !i.Enabled(p) || i.rng.Float64() >= i.probability {
		return nil
	}
	return i.Crash(p)
}

// Crash unconditionally produces a crash signal for p and records it.
func (i *Injector) Crash(p Phase) error {
	i.counts[p]++
	return &Signal{Phase: p, RecoverIn: i.recoveryDelay()}
}

// Multicast sends to every recipient in order, injecting the fan-out variants:
// Zero before the first send, Random after a random prefix, All after the
// last send.
func (i *Injector) Multicast(f FanOut, n int, send func(idx int)) error {
	if err := i.MaybeCrash(f.Zero); err != nil {
		return err
	}
	cut := n
	var pending error
	if i.Enabled(f.Random) && n > 0 && i.rng.Float64() < i.probability {
		cut = i.rng.Intn(n + 1)
		pending = i.Crash(f.Random)
	}
	for idx := 0; idx < cut; idx++ {
		send(idx)
	}
	if pending != nil {
		return pending
	}
	return i.MaybeCrash(f.All)
}

// Counts returns a snapshot of the crash counts.
func (i *Injector) Counts() Counts {
	return i.counts.Clone()
}

func (i *Injector) recoveryDelay() time.Duration {
	span := i.maxRecovery - i.minRecovery
	if span <= 0 {
		return i.minRecovery
	}
	return i.minRecovery + time.Duration(i.rng.Int63n(int64(span)))
}
