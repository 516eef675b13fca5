package crash

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Helpers ---

func newInjector(t *testing.T, probability float64, phases ...Phase) *Injector {
	t.Helper()
	return NewInjector(Config{
		Phases:      phases,
		Probability: probability,
		MinRecovery: 100 * time.Millisecond,
		MaxRecovery: 300 * time.Millisecond,
	}, rand.New(rand.NewSource(7)))
}

func collect(sent *[]int) func(int) {
	return func(idx int) { *sent = append(*sent, idx) }
}

// --- Test Cases ---

func TestMaybeCrash_DisabledPhaseNeverCrashes(t *testing.T) {
	inj := newInjector(t, 1, ServerVoteAfterVote)
	require.NoError(t, inj.MaybeCrash(ServerVoteNoVote))
	require.Zero(t, inj.Counts().Total())
}

func TestMaybeCrash_EnabledPhaseReturnsSignal(t *testing.T) {
	inj := newInjector(t, 1, ServerVoteAfterVote)

	err := inj.MaybeCrash(ServerVoteAfterVote)
	require.Error(t, err)

	var sig *Signal
	require.True(t, errors.As(err, &sig))
	assert.Equal(t, ServerVoteAfterVote, sig.Phase)
	assert.GreaterOrEqual(t, sig.RecoverIn, 100*time.Millisecond)
	assert.Less(t, sig.RecoverIn, 300*time.Millisecond)
	assert.Equal(t, 1, inj.Counts()[ServerVoteAfterVote])
}

func TestMaybeCrash_ZeroProbabilityNeverCrashes(t *testing.T) {
	inj := newInjector(t, 0, CoordinatorBeforeAccept)
	for i := 0; i < 100; i++ {
		require.NoError(t, inj.MaybeCrash(CoordinatorBeforeAccept))
	}
}

func TestMulticast_ZeroVariantSendsNothing(t *testing.T) {
	inj := newInjector(t, 1, CoordinatorVoteZeroMsg)
	var sent []int
	err := inj.Multicast(CoordinatorVote, 3, collect(&sent))
	require.Error(t, err)
	require.Empty(t, sent)
}

func TestMulticast_AllVariantSendsEverything(t *testing.T) {
	inj := newInjector(t, 1, CoordinatorDecisionAllMsg)
	var sent []int
	err := inj.Multicast(CoordinatorDecision, 3, collect(&sent))
	require.Error(t, err)
	require.Equal(t, []int{0, 1, 2}, sent)
}

func TestMulticast_RandomVariantSendsPrefix(t *testing.T) {
	inj := newInjector(t, 1, ServerTerminationRndMsg)
	for i := 0; i < 20; i++ {
		var sent []int
		err := inj.Multicast(ServerTermination, 4, collect(&sent))
		require.Error(t, err)
		require.LessOrEqual(t, len(sent), 4)
		for j, idx := range sent {
			require.Equal(t, j, idx, "recipients are served in order")
		}
	}
	require.Equal(t, 20, inj.Counts()[ServerTerminationRndMsg])
}

func TestMulticast_NoCrashSendsEverything(t *testing.T) {
	inj := newInjector(t, 1)
	var sent []int
	require.NoError(t, inj.Multicast(CoordinatorVote, 2, collect(&sent)))
	require.Equal(t, []int{0, 1}, sent)
}

func TestCounts_MergeAndString(t *testing.T) {
	a := Counts{CoordinatorVoteZeroMsg: 1}
	b := Counts{CoordinatorVoteZeroMsg: 2, CoordinatorBeforeAccept: 1}

	merged := Merge(a, b)
	require.Equal(t, 3, merged[CoordinatorVoteZeroMsg])
	require.Equal(t, 4, merged.Total())
	require.Equal(t,
		"coordinator.begin.before-accept: 1\ncoordinator.vote.zero-msg: 3\n",
		merged.String())

	require.Equal(t, merged, FromStrings(merged.Strings()))
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase(" server.vote.after-vote ")
	require.NoError(t, err)
	require.Equal(t, ServerVoteAfterVote, p)

	_, err = ParsePhase("server.nope")
	require.Error(t, err)
}
