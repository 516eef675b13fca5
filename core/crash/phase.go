// Package crash implements the crash-injection model shared by coordinators
// and shard servers: named injection points, the probability draw that turns
// an enabled point into a crash, and the three partial-multicast variants.
package crash

import (
	"fmt"
	"sort"
	"strings"
)

// Phase names an injection point.
type Phase string

// Coordinator injection points.
const (
	CoordinatorBeforeAccept      Phase = "coordinator.begin.before-accept"
	CoordinatorTrackServer       Phase = "coordinator.route.track-server"
	CoordinatorBeforeForwardRead Phase = "coordinator.read.before-forward"
	CoordinatorVoteZeroMsg       Phase = "coordinator.vote.zero-msg"
	CoordinatorVoteRndMsg        Phase = "coordinator.vote.rnd-msg"
	CoordinatorVoteAllMsg        Phase = "coordinator.vote.all-msg"
	CoordinatorDecisionZeroMsg   Phase = "coordinator.decision.zero-msg"
	CoordinatorDecisionRndMsg    Phase = "coordinator.decision.rnd-msg"
	CoordinatorDecisionAllMsg    Phase = "coordinator.decision.all-msg"
)

// Shard server injection points.
const (
	ServerBeforeReadReply    Phase = "server.read.before-reply"
	ServerVoteNoVote         Phase = "server.vote.no-vote"
	ServerVoteAfterVote      Phase = "server.vote.after-vote"
	ServerTerminationNoReply Phase = "server.termination.no-reply"
	ServerTerminationRndMsg  Phase = "server.termination.rnd-reply"
	ServerTerminationAllMsg  Phase = "server.termination.all-reply"
)

// FanOut groups the variants of one multicast: crash before any recipient,
// after a random prefix of recipients, or after all of them. An empty
// variant is never injected.
type FanOut struct {
	Zero   Phase
	Random Phase
	All    Phase
}

var (
	CoordinatorVote = FanOut{
		Zero:   CoordinatorVoteZeroMsg,
		Random: CoordinatorVoteRndMsg,
		All:    CoordinatorVoteAllMsg,
	}
	CoordinatorDecision = FanOut{
		Zero:   CoordinatorDecisionZeroMsg,
		Random: CoordinatorDecisionRndMsg,
		All:    CoordinatorDecisionAllMsg,
	}
	ServerTermination = FanOut{
		Zero:   ServerTerminationNoReply,
		Random: ServerTerminationRndMsg,
		All:    ServerTerminationAllMsg,
	}
)

// CoordinatorPhases lists every coordinator injection point.
func CoordinatorPhases() []Phase {
	return []Phase{
		CoordinatorBeforeAccept, CoordinatorTrackServer, CoordinatorBeforeForwardRead,
		CoordinatorVoteZeroMsg, CoordinatorVoteRndMsg, CoordinatorVoteAllMsg,
		CoordinatorDecisionZeroMsg, CoordinatorDecisionRndMsg, CoordinatorDecisionAllMsg,
	}
}

// ServerPhases lists every shard server injection point.
func ServerPhases() []Phase {
	return []Phase{
		ServerBeforeReadReply, ServerVoteNoVote, ServerVoteAfterVote,
		ServerTerminationNoReply, ServerTerminationRndMsg, ServerTerminationAllMsg,
	}
}

// ParsePhase validates a phase name read from configuration.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.TrimSpace(s))
	for _, known := range append(CoordinatorPhases(), ServerPhases()...) {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown crash phase %q", s)
}

// Counts records how many times a node crashed in each phase.
type Counts map[Phase]int

// Merge sums several count maps, e.g. across all the coordinators.
func Merge(all ...Counts) Counts {
	res := make(Counts)
	for _, c := range all {
		for p, n := range c {
			res[p] += n
		}
	}
	return res
}

// Total is the number of crashes across every phase.
func (c Counts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Clone returns an independent copy that can be sent to another actor.
func (c Counts) Clone() Counts {
	res := make(Counts, len(c))
	for p, n := range c {
		res[p] = n
	}
	return res
}

// Strings converts the counts into the plain map carried by CorrectnessReport.
func (c Counts) Strings() map[string]int {
	res := make(map[string]int, len(c))
	for p, n := range c {
		res[string(p)] = n
	}
	return res
}

// FromStrings is the inverse of Strings.
func FromStrings(m map[string]int) Counts {
	res := make(Counts, len(m))
	for p, n := range m {
		res[Phase(p)] = n
	}
	return res
}

func (c Counts) String() string {
	phases := make([]string, 0, len(c))
	for p := range c {
		phases = append(phases, string(p))
	}
	sort.Strings(phases)
	var b strings.Builder
	for _, p := range phases {
		fmt.Fprintf(&b, "%s: %d\n", p, c[Phase(p)])
	}
	return b.String()
}
