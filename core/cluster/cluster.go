// Package cluster wires a complete simulation: the network, the
// coordinators, the shard servers, the workload clients and the auditor.
package cluster

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sushant-115/gojotxn/core/coordinator"
	"github.com/sushant-115/gojotxn/core/crash"
	"github.com/sushant-115/gojotxn/core/message"
	"github.com/sushant-115/gojotxn/core/node"
	"github.com/sushant-115/gojotxn/core/participant"
	"github.com/sushant-115/gojotxn/internal/audit"
	"github.com/sushant-115/gojotxn/internal/config"
	"github.com/sushant-115/gojotxn/internal/health"
	internaltelemetry "github.com/sushant-115/gojotxn/internal/telemetry"
	"github.com/sushant-115/gojotxn/internal/workload"
	"github.com/sushant-115/gojotxn/pkg/logger"
	"github.com/sushant-115/gojotxn/pkg/telemetry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Address used when the harness itself injects messages.
const harness message.Address = "harness"

type Options struct {
	Config    *config.Config
	RunID     string
	Logger    *zap.Logger
	Telemetry *telemetry.Telemetry
	// Health, when set, mirrors the mode of every coordinator and server.
	Health *health.Reporter
}

type Cluster struct {
	cfg    *config.Config
	runID  string
	logger *zap.Logger
	health *health.Reporter

	seed    int64
	net     *node.Network
	metrics *internaltelemetry.TxnMetrics

	coordinators []message.Address
	servers      []message.Address
	clients      []*workload.Client
	clientAddrs  []message.Address
	auditor      *audit.Auditor
}

// New builds every actor of the simulation. Nothing runs until Start.
func New(opts Options) (*Cluster, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	tel := opts.Telemetry
	if tel == nil {
		var err error
		if tel, _, err = telemetry.New(telemetry.Config{}); err != nil {
			return nil, err
		}
	}
	metrics, err := internaltelemetry.NewTxnMetrics(tel.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction metrics: %w", err)
	}

	seed := cfg.Network.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	c := &Cluster{
		cfg:     cfg,
		runID:   opts.RunID,
		logger:  log,
		health:  opts.Health,
		seed:    seed,
		metrics: metrics,
		net:     node.NewNetwork(cfg.Network.MaxDelay, rand.New(rand.NewSource(seed)), log),
	}

	for i := 0; i < cfg.Cluster.Coordinators; i++ {
		addr := message.CoordinatorAddress(i)
		engine := coordinator.New(coordinator.Config{
			Servers:   cfg.Cluster.Servers,
			ShardSize: cfg.Cluster.ShardSize,
			Timeout:   cfg.Protocol.VoteTimeout,
		}, tel.Tracer, metrics)
		if err := c.register(addr, engine, cfg.CoordinatorCrash(), i); err != nil {
			return nil, err
		}
		c.coordinators = append(c.coordinators, addr)
	}

	for i := 0; i < cfg.Cluster.Servers; i++ {
		addr := message.ServerAddress(i)
		engine := participant.New(participant.Config{
			Shard:                i,
			ShardSize:            cfg.Cluster.ShardSize,
			DefaultValue:         cfg.Cluster.DefaultValue,
			Timeout:              cfg.Protocol.DecisionTimeout,
			MaxTerminationRounds: cfg.Protocol.MaxTerminationRounds,
		}, metrics)
		if err := c.register(addr, engine, cfg.ServerCrash(), 1000+i); err != nil {
			return nil, err
		}
		c.servers = append(c.servers, addr)
	}

	for i := 0; i < cfg.Cluster.Clients; i++ {
		addr := message.ClientAddress(i)
		var limiter *rate.Limiter
		if w := cfg.Workload; w.BeginRate > 0 {
			limiter = rate.NewLimiter(rate.Limit(w.BeginRate), max(w.BeginBurst, 1))
		}
		client := workload.New(workload.Config{
			ID:                i,
			Coordinators:      cfg.Cluster.Coordinators,
			MaxKey:            cfg.Cluster.MaxKey(),
			MinOps:            cfg.Workload.MinOps,
			MaxOps:            cfg.Workload.MaxOps,
			WriteProbability:  cfg.Workload.WriteProbability,
			CommitProbability: cfg.Workload.CommitProbability,
			Timeout:           cfg.Workload.ClientTimeout,
		}, c.rng(2000+i), limiter)
		if _, err := c.net.Register(addr, client, node.Options{Logger: logger.ForNode(log, string(addr))}); err != nil {
			return nil, err
		}
		c.clients = append(c.clients, client)
		c.clientAddrs = append(c.clientAddrs, addr)
	}

	c.auditor = audit.New(c.runID, c.coordinators, c.servers, cfg.Cluster.ExpectedSum())
	if _, err := c.net.Register(message.AuditorAddress, c.auditor, node.Options{Logger: logger.ForNode(log, string(message.AuditorAddress))}); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cluster) rng(stream int) *rand.Rand {
	return rand.New(rand.NewSource(c.seed + int64(stream)*7919))
}

func (c *Cluster) register(addr message.Address, h node.Handler, cc crash.Config, stream int) error {
	_, err := c.net.Register(addr, h, node.Options{
		Injector: crash.NewInjector(cc, c.rng(stream)),
		Logger:   logger.ForNode(c.logger, string(addr)),
		OnMode:   c.onMode,
	})
	if err != nil {
		return err
	}
	if c.health != nil {
		c.health.Register(addr)
	}
	return nil
}

func (c *Cluster) onMode(addr message.Address, mode node.Mode, phase crash.Phase) {
	ctx := context.Background()
	switch mode {
	case node.ModeCrashed:
		c.metrics.Crash(ctx, string(addr), string(phase))
	case node.ModeNormal:
		c.metrics.Recovery(ctx, string(addr))
	}
	if c.health != nil {
		c.health.Hook()(addr, mode, phase)
	}
}

func (c *Cluster) Network() *node.Network { return c.net }

func (c *Cluster) Coordinators() []message.Address { return c.coordinators }

func (c *Cluster) Servers() []message.Address { return c.servers }

// Start runs every actor and kicks off the clients.
func (c *Cluster) Start(ctx context.Context) {
	c.net.Start(ctx)
	for _, addr := range c.clientAddrs {
		c.net.Send(harness, addr, workload.Next{})
	}
	c.logger.Info("simulation started",
		zap.Int("coordinators", len(c.coordinators)),
		zap.Int("servers", len(c.servers)),
		zap.Int("clients", len(c.clients)),
		zap.Int64("seed", c.seed))
}

// StopClients ends the workload.
func (c *Cluster) StopClients() {
	for _, addr := range c.clientAddrs {
		c.net.Send(harness, addr, workload.Stop{})
	}
}

// Stats sums the committed and attempted transactions of every client.
func (c *Cluster) Stats() (committed, attempted int64) {
	for _, cl := range c.clients {
		committed += cl.Stats().Committed()
		attempted += cl.Stats().Attempted()
	}
	return committed, attempted
}

// Check runs the correctness check. Every coordinator and server stops
// after answering it.
func (c *Cluster) Check(ctx context.Context) (audit.Result, error) {
	c.net.Send(harness, message.AuditorAddress, message.CheckCorrectness{})
	select {
	case res := <-c.auditor.Results():
		return res, nil
	case <-ctx.Done():
		return audit.Result{}, fmt.Errorf("correctness check did not complete: %w", ctx.Err())
	}
}

// Run drives a whole simulation: load for RunFor, a quiet Settle period,
// then the correctness check.
func (c *Cluster) Run(ctx context.Context) (audit.Result, error) {
	c.Start(ctx)

	if err := sleep(ctx, c.cfg.Workload.RunFor); err != nil {
		return audit.Result{}, err
	}
	c.StopClients()
	if err := sleep(ctx, c.cfg.Workload.Settle); err != nil {
		return audit.Result{}, err
	}

	committed, attempted := c.Stats()
	c.logger.Info("workload finished", zap.Int64("committed", committed), zap.Int64("attempted", attempted))
	return c.Check(ctx)
}

// Close stops every actor.
func (c *Cluster) Close() {
	c.net.Stop()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
