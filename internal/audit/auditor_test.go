package audit

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojotxn/core/crash"
	"github.com/sushant-115/gojotxn/core/message"
	"github.com/sushant-115/gojotxn/core/node/nodetest"
)

func TestAuditor_SumsServerReports(t *testing.T) {
	coords := []message.Address{message.CoordinatorAddress(0)}
	servers := []message.Address{message.ServerAddress(0), message.ServerAddress(1)}
	a := New("run-1", coords, servers, 2000)
	env := nodetest.New(t, message.AuditorAddress)

	require.NoError(t, a.Handle(env, "cluster", message.CheckCorrectness{}))
	require.Len(t, nodetest.Of[message.CheckCorrectness](env.Sent), 3)

	reports := map[message.Address]message.CorrectnessReport{
		coords[0]:  {Role: message.RoleCoordinator, Crashes: map[string]int{string(crash.CoordinatorVoteRndMsg): 2}},
		servers[0]: {Role: message.RoleServer, Sum: 1100, Crashes: map[string]int{string(crash.ServerVoteAfterVote): 1}},
		servers[1]: {Role: message.RoleServer, Sum: 900},
	}
	for from, r := range reports {
		require.NoError(t, a.Handle(env, from, r))
	}
	// A duplicate report is not counted twice.
	require.NoError(t, a.Handle(env, servers[0], reports[servers[0]]))

	res := <-a.Results()
	require.True(t, res.OK())
	require.Equal(t, 2000, res.ActualSum)
	require.Equal(t, 2, res.CoordinatorCrashes[crash.CoordinatorVoteRndMsg])
	require.Equal(t, 1, res.ServerCrashes.Total())
	require.Contains(t, res.String(), "PASSED")
}

func TestAuditor_ReportsViolation(t *testing.T) {
	servers := []message.Address{message.ServerAddress(0)}
	a := New("run-2", nil, servers, 1000)
	env := nodetest.New(t, message.AuditorAddress)

	require.NoError(t, a.Handle(env, "cluster", message.CheckCorrectness{}))
	require.NoError(t, a.Handle(env, servers[0], message.CorrectnessReport{Role: message.RoleServer, Sum: 990}))

	res := <-a.Results()
	require.False(t, res.OK())
	require.Contains(t, res.String(), "FAILED")
}
