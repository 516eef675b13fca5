package node

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojotxn/core/crash"
	"github.com/sushant-115/gojotxn/core/message"
	"go.uber.org/zap/zaptest"
)

// --- Test Helpers ---

type seq struct{ N int }

func (seq) Kind() string { return "seq" }

type boom struct{}

func (boom) Kind() string { return "boom" }

type recorder struct {
	mu   sync.Mutex
	got  []message.Message
	from []message.Address
}

func (r *recorder) Handle(env Env, from message.Address, msg message.Message) error {
	r.mu.Lock()
	r.got = append(r.got, msg)
	r.from = append(r.from, from)
	r.mu.Unlock()
	if _, ok := msg.(boom); ok {
		return env.MaybeCrash(crash.ServerVoteAfterVote)
	}
	return nil
}

func (r *recorder) Report() message.CorrectnessReport {
	return message.CorrectnessReport{Role: "test", Sum: 42}
}

func (r *recorder) messages() []message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.Message(nil), r.got...)
}

func (r *recorder) count(kind string) int {
	n := 0
	for _, m := range r.messages() {
		if m.Kind() == kind {
			n++
		}
	}
	return n
}

func newNetwork(t *testing.T, maxDelay time.Duration) *Network {
	t.Helper()
	net := NewNetwork(maxDelay, rand.New(rand.NewSource(3)), zaptest.NewLogger(t))
	t.Cleanup(net.Stop)
	return net
}

// --- Test Cases ---

func TestNetwork_PreservesPerLinkOrder(t *testing.T) {
	net := newNetwork(t, 3*time.Millisecond)
	rec := &recorder{}
	_, err := net.Register("b", rec, Options{})
	require.NoError(t, err)
	net.Start(context.Background())

	const total = 200
	for i := 0; i < total; i++ {
		net.Send("a", "b", seq{N: i})
	}

	require.Eventually(t, func() bool { return len(rec.messages()) == total }, 5*time.Second, 5*time.Millisecond)
	for i, m := range rec.messages() {
		require.Equal(t, seq{N: i}, m)
	}
}

func TestNetwork_DropsUnknownAndDuplicateRegistration(t *testing.T) {
	net := newNetwork(t, 0)
	rec := &recorder{}
	_, err := net.Register("b", rec, Options{})
	require.NoError(t, err)
	_, err = net.Register("b", rec, Options{})
	require.Error(t, err)

	net.Start(context.Background())
	net.Send("a", "nobody", seq{N: 1})
	net.Send("a", "b", seq{N: 2})
	require.Eventually(t, func() bool { return len(rec.messages()) == 1 }, time.Second, time.Millisecond)
}

func TestNode_CrashDropsTrafficUntilRecovery(t *testing.T) {
	net := newNetwork(t, 0)
	rec := &recorder{}

	var modesMu sync.Mutex
	var modes []Mode
	inj := crash.NewInjector(crash.Config{
		Phases:      []crash.Phase{crash.ServerVoteAfterVote},
		Probability: 1,
		MinRecovery: 50 * time.Millisecond,
		MaxRecovery: 60 * time.Millisecond,
	}, rand.New(rand.NewSource(1)))

	nd, err := net.Register("s", rec, Options{
		Injector: inj,
		Logger:   zaptest.NewLogger(t),
		OnMode: func(_ message.Address, m Mode, _ crash.Phase) {
			modesMu.Lock()
			modes = append(modes, m)
			modesMu.Unlock()
		},
	})
	require.NoError(t, err)
	net.Start(context.Background())

	net.Send("x", "s", boom{})
	require.Eventually(t, func() bool { return nd.Mode() == ModeCrashed }, time.Second, time.Millisecond)

	net.Send("x", "s", seq{N: 1})
	require.Eventually(t, func() bool { return rec.count("Recovery") == 1 }, time.Second, time.Millisecond)
	require.Equal(t, ModeNormal, nd.Mode())
	require.Zero(t, rec.count("seq"), "protocol traffic is dropped while crashed")

	net.Send("x", "s", seq{N: 2})
	require.Eventually(t, func() bool { return rec.count("seq") == 1 }, time.Second, time.Millisecond)

	modesMu.Lock()
	require.Equal(t, []Mode{ModeCrashed, ModeNormal}, modes)
	modesMu.Unlock()
	require.Equal(t, 1, nd.CrashCounts()[crash.ServerVoteAfterVote])
}

func TestNode_AnswersCorrectnessCheckWhileCrashed(t *testing.T) {
	net := newNetwork(t, 0)
	server := &recorder{}
	auditor := &recorder{}

	inj := crash.NewInjector(crash.Config{
		Phases:      []crash.Phase{crash.ServerVoteAfterVote},
		Probability: 1,
		MinRecovery: time.Hour,
		MaxRecovery: time.Hour,
	}, rand.New(rand.NewSource(1)))

	nd, err := net.Register("s", server, Options{Injector: inj})
	require.NoError(t, err)
	_, err = net.Register(message.AuditorAddress, auditor, Options{})
	require.NoError(t, err)
	net.Start(context.Background())

	net.Send("x", "s", boom{})
	require.Eventually(t, func() bool { return nd.Mode() == ModeCrashed }, time.Second, time.Millisecond)

	net.Send(message.AuditorAddress, "s", message.CheckCorrectness{})
	require.Eventually(t, func() bool { return len(auditor.messages()) == 1 }, time.Second, time.Millisecond)

	report, ok := auditor.messages()[0].(message.CorrectnessReport)
	require.True(t, ok)
	require.Equal(t, 42, report.Sum)
	require.Equal(t, map[string]int{string(crash.ServerVoteAfterVote): 1}, report.Crashes)

	select {
	case <-nd.Done():
	case <-time.After(time.Second):
		t.Fatal("node did not stop after the correctness check")
	}
	require.Equal(t, ModeStopped, nd.Mode())
}

func TestNode_TimerDeliversToSelf(t *testing.T) {
	net := newNetwork(t, 0)
	rec := &recorder{}
	nd, err := net.Register("s", rec, Options{})
	require.NoError(t, err)
	net.Start(context.Background())

	nd.After(5*time.Millisecond, seq{N: 7})
	stopped := nd.After(time.Hour, seq{N: 8})
	require.True(t, stopped.Stop())

	require.Eventually(t, func() bool { return rec.count("seq") == 1 }, time.Second, time.Millisecond)
	require.Equal(t, seq{N: 7}, rec.messages()[0])
	rec.mu.Lock()
	require.Equal(t, message.Address("s"), rec.from[0])
	rec.mu.Unlock()
}
