package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct{ stopped bool }

func (f *fakeTimer) Stop() bool {
	was := !f.stopped
	f.stopped = true
	return was
}

func TestTransaction_DecideFirstWriteWins(t *testing.T) {
	txn := New(ID{ClientID: 1, Attempt: 3})
	require.Equal(t, StateInit, txn.State())

	require.True(t, txn.MarkReady())
	require.False(t, txn.MarkReady(), "READY is entered once")

	require.True(t, txn.Decide(DecisionCommit))
	require.False(t, txn.Decide(DecisionAbort))

	d, ok := txn.Decision()
	require.True(t, ok)
	require.Equal(t, DecisionCommit, d)
	require.False(t, txn.MarkReady(), "no transition out of DECIDED")
	require.Equal(t, StateDecided, txn.State())
}

func TestTransaction_UndecidedHasNoDecision(t *testing.T) {
	txn := New(ID{ClientID: 2, Attempt: 1})
	_, ok := txn.Decision()
	assert.False(t, ok)
	assert.Equal(t, "c2#1", txn.ID.String())
}

func TestRegistry_HandlesAndOrder(t *testing.T) {
	r := NewRegistry[Transaction]()
	a := New(ID{1, 1})
	b := New(ID{2, 1})

	ha := r.Add(a.ID, &a)
	hb := r.Add(b.ID, &b)
	require.NotEqual(t, ha, hb)

	h, got, ok := r.Lookup(ID{2, 1})
	require.True(t, ok)
	require.Equal(t, hb, h)
	require.Same(t, &b, got)

	require.Equal(t, []ID{{1, 1}, {2, 1}}, r.IDs())

	r.Remove(ID{1, 1})
	_, ok = r.Get(ha)
	require.False(t, ok)
	require.Equal(t, 1, r.Len())

	// Re-adding an id issues a fresh handle.
	a2 := New(ID{2, 1})
	h2 := r.Add(a2.ID, &a2)
	require.NotEqual(t, hb, h2)
	require.Equal(t, 1, r.Len())
}

func TestDecisionLog_RecordIsIdempotent(t *testing.T) {
	log := NewDecisionLog()
	d, set := log.Record(ID{1, 1}, DecisionAbort)
	require.True(t, set)
	require.Equal(t, DecisionAbort, d)

	d, set = log.Record(ID{1, 1}, DecisionCommit)
	require.False(t, set)
	require.Equal(t, DecisionAbort, d)
}

func TestTimerQueue_FIFOCancel(t *testing.T) {
	var q TimerQueue
	t1, t2, t3 := &fakeTimer{}, &fakeTimer{}, &fakeTimer{}
	q.Push(1, t1)
	q.Push(2, t2)
	q.Push(3, t3)

	require.True(t, q.CancelOldest())
	require.True(t, t1.stopped)
	require.False(t, t2.stopped)
	require.False(t, q.Contains(1))
	require.True(t, q.Contains(2))

	require.True(t, q.Remove(3))
	require.False(t, t3.stopped, "Remove forgets a fired timer without stopping it")

	q.CancelAll()
	require.True(t, t2.stopped)
	require.Zero(t, q.Len())
	require.False(t, q.CancelOldest())
}
