// Package audit implements the correctness auditor: at the end of a run it
// asks every coordinator and shard server for its report, sums the shard
// values and compares the total with the amount the store was seeded with.
package audit

import (
	"fmt"
	"strings"

	"github.com/sushant-115/gojotxn/core/crash"
	"github.com/sushant-115/gojotxn/core/message"
	"github.com/sushant-115/gojotxn/core/node"
	"go.uber.org/zap"
)

// Result is the outcome of one correctness check.
type Result struct {
	RunID              string
	ExpectedSum        int
	ActualSum          int
	CoordinatorCrashes crash.Counts
	ServerCrashes      crash.Counts
}

// OK reports whether the store total was preserved.
func (r Result) OK() bool { return r.ExpectedSum == r.ActualSum }

func (r Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s\n", r.RunID)
	b.WriteString("/---- COORDINATOR CRASHES ----/\n")
	b.WriteString(r.CoordinatorCrashes.String())
	b.WriteString("/---- SERVER CRASHES ----/\n")
	b.WriteString(r.ServerCrashes.String())
	fmt.Fprintf(&b, "expected sum: %d\nactual sum:   %d\n", r.ExpectedSum, r.ActualSum)
	if r.OK() {
		b.WriteString("correctness check PASSED\n")
	} else {
		b.WriteString("correctness check FAILED\n")
	}
	return b.String()
}

// Auditor collects the correctness reports. The check starts when it
// receives CheckCorrectness; the result is published once every node
// answered.
type Auditor struct {
	runID        string
	coordinators []message.Address
	servers      []message.Address
	expected     int

	pending       map[message.Address]struct{}
	sum           int
	coordCrashes  []crash.Counts
	serverCrashes []crash.Counts
	started       bool
	results       chan Result
}

var _ node.Handler = (*Auditor)(nil)

func New(runID string, coordinators, servers []message.Address, expectedSum int) *Auditor {
	return &Auditor{
		runID:        runID,
		coordinators: coordinators,
		servers:      servers,
		expected:     expectedSum,
		pending:      make(map[message.Address]struct{}),
		results:      make(chan Result, 1),
	}
}

// Results delivers the single Result of the check.
func (a *Auditor) Results() <-chan Result { return a.results }

func (a *Auditor) Handle(env node.Env, from message.Address, msg message.Message) error {
	switch m := msg.(type) {
	case message.CheckCorrectness:
		a.start(env)
	case message.CorrectnessReport:
		a.collect(env, from, m)
	}
	return nil
}

func (a *Auditor) start(env node.Env) {
	if a.started {
		return
	}
	a.started = true
	env.Logger().Info("checking correctness",
		zap.Int("coordinators", len(a.coordinators)), zap.Int("servers", len(a.servers)))
	for _, addr := range append(append([]message.Address(nil), a.coordinators...), a.servers...) {
		a.pending[addr] = struct{}{}
		env.Send(addr, message.CheckCorrectness{})
	}
	if len(a.pending) == 0 {
		a.finish(env)
	}
}

func (a *Auditor) collect(env node.Env, from message.Address, m message.CorrectnessReport) {
	if _, ok := a.pending[from]; !ok {
		return
	}
	delete(a.pending, from)

	crashes := crash.FromStrings(m.Crashes)
	if m.Role == message.RoleServer {
		a.sum += m.Sum
		a.serverCrashes = append(a.serverCrashes, crashes)
	} else {
		a.coordCrashes = append(a.coordCrashes, crashes)
	}
	if len(a.pending) == 0 {
		a.finish(env)
	}
}

func (a *Auditor) finish(env node.Env) {
	res := Result{
		RunID:              a.runID,
		ExpectedSum:        a.expected,
		ActualSum:          a.sum,
		CoordinatorCrashes: crash.Merge(a.coordCrashes...),
		ServerCrashes:      crash.Merge(a.serverCrashes...),
	}
	fields := []zap.Field{
		zap.Int("expected_sum", res.ExpectedSum),
		zap.Int("actual_sum", res.ActualSum),
		zap.Int("coordinator_crashes", res.CoordinatorCrashes.Total()),
		zap.Int("server_crashes", res.ServerCrashes.Total()),
	}
	if res.OK() {
		env.Logger().Info("correctness check passed", fields...)
	} else {
		env.Logger().Error("correctness check failed", fields...)
	}
	a.results <- res
}
