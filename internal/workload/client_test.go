package workload

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojotxn/core/message"
	"github.com/sushant-115/gojotxn/core/node/nodetest"
	"golang.org/x/time/rate"
)

// --- Test Helpers ---

func newClient(t *testing.T, limiter *rate.Limiter) (*Client, *nodetest.Env) {
	t.Helper()
	c := New(Config{
		ID:                4,
		Coordinators:      3,
		MaxKey:            29,
		MinOps:            1,
		MaxOps:            1,
		WriteProbability:  1,
		CommitProbability: 1,
		Timeout:           time.Second,
	}, rand.New(rand.NewSource(11)), limiter)
	return c, nodetest.New(t, message.ClientAddress(4))
}

func deliver(t *testing.T, c *Client, env *nodetest.Env, msg message.Message) {
	t.Helper()
	require.NoError(t, c.Handle(env, "test", msg))
}

// start begins attempt 1 and returns the coordinator it went to.
func start(t *testing.T, c *Client, env *nodetest.Env) message.Address {
	t.Helper()
	deliver(t, c, env, Next{})
	sent := env.Take()
	require.Len(t, sent, 1)
	require.Equal(t, message.TxnBegin{ClientID: 4, Attempt: 1}, sent[0].Msg)
	return sent[0].To
}

// --- Test Cases ---

func TestClient_TransferPreservesSum(t *testing.T) {
	c, env := newClient(t, nil)
	coord := start(t, c, env)

	deliver(t, c, env, message.TxnAccept{ClientID: 4, Attempt: 1})
	reads := nodetest.Of[message.Read](env.Take())
	require.Len(t, reads, 2)
	require.NotEqual(t, reads[0].Key, reads[1].Key)
	for _, r := range reads {
		require.GreaterOrEqual(t, r.Key, 0)
		require.LessOrEqual(t, r.Key, 29)
	}

	deliver(t, c, env, message.ReadResult{ClientID: 4, Attempt: 1, Key: reads[0].Key, Value: 100})
	require.Empty(t, env.Sent, "waits for both values")
	deliver(t, c, env, message.ReadResult{ClientID: 4, Attempt: 1, Key: reads[1].Key, Value: 50})

	sent := env.Take()
	writes := nodetest.Of[message.Write](sent)
	require.Len(t, writes, 2)
	require.Equal(t, reads[0].Key, writes[0].Key)
	require.Equal(t, reads[1].Key, writes[1].Key)
	require.Equal(t, 150, writes[0].Value+writes[1].Value)
	require.Less(t, writes[0].Value, 100)

	ends := nodetest.Of[message.TxnEnd](sent)
	require.Equal(t, []message.TxnEnd{{ClientID: 4, Attempt: 1, Commit: true}}, ends)
	for _, e := range sent {
		require.Equal(t, coord, e.To)
	}

	deliver(t, c, env, message.TxnResult{ClientID: 4, Attempt: 1, Commit: true})
	require.EqualValues(t, 1, c.Stats().Committed())
	require.Equal(t, []message.TxnBegin{{ClientID: 4, Attempt: 2}}, nodetest.Of[message.TxnBegin](env.Take()))
	require.EqualValues(t, 2, c.Stats().Attempted())
}

func TestClient_TimeoutRestartsWithNewAttempt(t *testing.T) {
	c, env := newClient(t, nil)
	start(t, c, env)

	timeout, ok := env.Last().Msg.(Timeout)
	require.True(t, ok)

	// A stale accept or result for another attempt is ignored.
	deliver(t, c, env, message.TxnResult{ClientID: 4, Attempt: 9, Commit: true})
	require.Empty(t, env.Sent)

	deliver(t, c, env, timeout)
	require.Equal(t, []message.TxnBegin{{ClientID: 4, Attempt: 2}}, nodetest.Of[message.TxnBegin](env.Take()))

	// The old timer firing again changes nothing.
	deliver(t, c, env, timeout)
	require.Empty(t, env.Sent)

	deliver(t, c, env, message.TxnAccept{ClientID: 4, Attempt: 1})
	require.Empty(t, env.Sent)
	require.Zero(t, c.Stats().Committed())
}

func TestClient_LimiterDelaysNextBegin(t *testing.T) {
	c, env := newClient(t, rate.NewLimiter(rate.Every(time.Hour), 1))
	start(t, c, env)

	// The burst token lets the second transaction start right away.
	deliver(t, c, env, message.TxnResult{ClientID: 4, Attempt: 1, Commit: false})
	require.Len(t, nodetest.Of[message.TxnBegin](env.Take()), 1)

	deliver(t, c, env, message.TxnResult{ClientID: 4, Attempt: 2, Commit: false})
	require.Empty(t, env.Sent)
	next := env.Last()
	require.Equal(t, Next{}, next.Msg)
	require.Greater(t, next.Delay, time.Minute)

	deliver(t, c, env, next.Msg)
	require.Equal(t, []message.TxnBegin{{ClientID: 4, Attempt: 3}}, nodetest.Of[message.TxnBegin](env.Take()))
}

func TestClient_StopIgnoresFurtherTraffic(t *testing.T) {
	c, env := newClient(t, nil)
	start(t, c, env)

	deliver(t, c, env, Stop{})
	deliver(t, c, env, message.TxnAccept{ClientID: 4, Attempt: 1})
	deliver(t, c, env, Next{})
	require.Empty(t, env.Sent)
	require.Empty(t, env.Live())
	require.EqualValues(t, 1, c.Stats().Attempted())
}
