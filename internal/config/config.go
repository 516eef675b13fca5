// Package config holds the configuration of a simulation run: cluster shape,
// protocol timeouts, simulated network, crash injection, workload, and the
// logger/telemetry/admin settings. It is read from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sushant-115/gojotxn/core/crash"
	"github.com/sushant-115/gojotxn/pkg/logger"
	"github.com/sushant-115/gojotxn/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidCluster  = errors.New("invalid cluster configuration")
	ErrInvalidTimeout  = errors.New("invalid protocol timeout")
	ErrInvalidCrash    = errors.New("invalid crash configuration")
	ErrInvalidWorkload = errors.New("invalid workload configuration")
)

type Config struct {
	Cluster   ClusterConfig    `yaml:"cluster"`
	Protocol  ProtocolConfig   `yaml:"protocol"`
	Network   NetworkConfig    `yaml:"network"`
	Crash     CrashConfig      `yaml:"crash"`
	Workload  WorkloadConfig   `yaml:"workload"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Admin     AdminConfig      `yaml:"admin"`
}

type ClusterConfig struct {
	Coordinators int `yaml:"coordinators"`
	Servers      int `yaml:"servers"`
	Clients      int `yaml:"clients"`
	// ShardSize is the number of keys owned by each server.
	ShardSize    int `yaml:"shard_size"`
	DefaultValue int `yaml:"default_value"`
}

// MaxKey is the largest key of the shared key space.
func (c ClusterConfig) MaxKey() int { return c.Servers*c.ShardSize - 1 }

// ExpectedSum is the total every consistent run preserves.
func (c ClusterConfig) ExpectedSum() int { return c.Servers * c.ShardSize * c.DefaultValue }

type ProtocolConfig struct {
	// VoteTimeout bounds how long a coordinator waits for a read reply or a vote.
	VoteTimeout time.Duration `yaml:"vote_timeout"`
	// DecisionTimeout bounds how long a server waits for a decision after voting YES.
	DecisionTimeout time.Duration `yaml:"decision_timeout"`
	// MaxTerminationRounds bounds the termination protocol; 0 means unlimited.
	MaxTerminationRounds int `yaml:"max_termination_rounds"`
}

type NetworkConfig struct {
	// MaxDelay is the upper bound of the simulated per-message delay.
	MaxDelay time.Duration `yaml:"max_delay"`
	// Seed feeds every random source; 0 picks one from the clock.
	Seed int64 `yaml:"seed"`
}

// RoleCrashConfig enables crash phases for every node of one role.
type RoleCrashConfig struct {
	Phases      []string `yaml:"phases"`
	Probability float64  `yaml:"probability"`
}

type CrashConfig struct {
	Coordinator RoleCrashConfig `yaml:"coordinator"`
	Server      RoleCrashConfig `yaml:"server"`
	MinRecovery time.Duration   `yaml:"min_recovery"`
	MaxRecovery time.Duration   `yaml:"max_recovery"`
}

type WorkloadConfig struct {
	MinOps            int           `yaml:"min_ops"`
	MaxOps            int           `yaml:"max_ops"`
	WriteProbability  float64       `yaml:"write_probability"`
	CommitProbability float64       `yaml:"commit_probability"`
	ClientTimeout     time.Duration `yaml:"client_timeout"`
	// BeginRate limits how many transactions per second each client begins.
	BeginRate  float64 `yaml:"begin_rate"`
	BeginBurst int     `yaml:"begin_burst"`
	// RunFor is how long clients generate load before the correctness check.
	RunFor time.Duration `yaml:"run_for"`
	// Settle is the quiet period between stopping clients and the check.
	Settle time.Duration `yaml:"settle"`
}

type AdminConfig struct {
	// GRPCAddr serves the gRPC health service when set, e.g. ":7070".
	GRPCAddr string `yaml:"grpc_addr"`
}

// Default returns the configuration of the reference simulation: three
// clients, coordinators and servers of ten keys each.
func Default() *Config {
	return &Config{
		Cluster: ClusterConfig{
			Coordinators: 3,
			Servers:      3,
			Clients:      3,
			ShardSize:    10,
			DefaultValue: 100,
		},
		Protocol: ProtocolConfig{
			VoteTimeout:          1 * time.Second,
			DecisionTimeout:      2 * time.Second,
			MaxTerminationRounds: 0,
		},
		Network: NetworkConfig{
			MaxDelay: 5 * time.Millisecond,
		},
		Crash: CrashConfig{
			Coordinator: RoleCrashConfig{Probability: 0.01},
			Server:      RoleCrashConfig{Probability: 0.01},
			MinRecovery: 500 * time.Millisecond,
			MaxRecovery: 1500 * time.Millisecond,
		},
		Workload: WorkloadConfig{
			MinOps:            20,
			MaxOps:            40,
			WriteProbability:  0.5,
			CommitProbability: 1,
			ClientTimeout:     3 * time.Second,
			BeginRate:         100,
			BeginBurst:        1,
			RunFor:            10 * time.Second,
			Settle:            5 * time.Second,
		},
		Logger: logger.Config{
			Level:  "info",
			Format: "console",
		},
		Telemetry: telemetry.Config{
			Enabled:          false,
			ServiceName:      "gojotxn",
			PrometheusPort:   9464,
			TraceSampleRatio: 1,
		},
	}
}

// NewTestConfig returns a small, fast configuration without crashes.
func NewTestConfig() *Config {
	cfg := Default()
	cfg.Protocol.VoteTimeout = 200 * time.Millisecond
	cfg.Protocol.DecisionTimeout = 300 * time.Millisecond
	cfg.Network.MaxDelay = time.Millisecond
	cfg.Network.Seed = 1
	cfg.Crash.Coordinator.Probability = 0
	cfg.Crash.Server.Probability = 0
	cfg.Crash.MinRecovery = 50 * time.Millisecond
	cfg.Crash.MaxRecovery = 100 * time.Millisecond
	cfg.Workload.MinOps = 2
	cfg.Workload.MaxOps = 4
	cfg.Workload.ClientTimeout = time.Second
	cfg.Workload.BeginRate = 0
	cfg.Workload.RunFor = 500 * time.Millisecond
	cfg.Workload.Settle = time.Second
	cfg.Logger.Level = "warn"
	return cfg
}

// Load reads the YAML file at path on top of Default and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	cl := c.Cluster
	if cl.Coordinators <= 0 || cl.Servers <= 0 || cl.Clients < 0 || cl.ShardSize <= 0 {
		return fmt.Errorf("%w: need at least one coordinator, one server and a positive shard size", ErrInvalidCluster)
	}
	if cl.Clients > 0 && cl.MaxKey() < 1 {
		return fmt.Errorf("%w: clients need at least two keys", ErrInvalidCluster)
	}
	if c.Protocol.VoteTimeout <= 0 || c.Protocol.DecisionTimeout <= 0 {
		return fmt.Errorf("%w: vote and decision timeouts must be positive", ErrInvalidTimeout)
	}
	if c.Protocol.MaxTerminationRounds < 0 {
		return fmt.Errorf("%w: max_termination_rounds must not be negative", ErrInvalidTimeout)
	}

	for _, rc := range []RoleCrashConfig{c.Crash.Coordinator, c.Crash.Server} {
		if rc.Probability < 0 || rc.Probability > 1 {
			return fmt.Errorf("%w: probability %v out of [0, 1]", ErrInvalidCrash, rc.Probability)
		}
		if _, err := parsePhases(rc.Phases); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCrash, err)
		}
	}
	if c.Crash.MinRecovery < 0 || c.Crash.MaxRecovery < c.Crash.MinRecovery {
		return fmt.Errorf("%w: need 0 <= min_recovery <= max_recovery", ErrInvalidCrash)
	}

	w := c.Workload
	if w.MinOps <= 0 || w.MaxOps < w.MinOps {
		return fmt.Errorf("%w: need 0 < min_ops <= max_ops", ErrInvalidWorkload)
	}
	if w.WriteProbability < 0 || w.WriteProbability > 1 || w.CommitProbability < 0 || w.CommitProbability > 1 {
		return fmt.Errorf("%w: probabilities must be in [0, 1]", ErrInvalidWorkload)
	}
	if w.ClientTimeout <= 0 {
		return fmt.Errorf("%w: client_timeout must be positive", ErrInvalidWorkload)
	}
	return nil
}

// CoordinatorCrash returns the injector settings of the coordinators.
func (c *Config) CoordinatorCrash() crash.Config {
	return c.roleCrash(c.Crash.Coordinator)
}

// ServerCrash returns the injector settings of the shard servers.
func (c *Config) ServerCrash() crash.Config {
	return c.roleCrash(c.Crash.Server)
}

func (c *Config) roleCrash(rc RoleCrashConfig) crash.Config {
	phases, _ := parsePhases(rc.Phases)
	return crash.Config{
		Phases:      phases,
		Probability: rc.Probability,
		MinRecovery: c.Crash.MinRecovery,
		MaxRecovery: c.Crash.MaxRecovery,
	}
}

func parsePhases(names []string) ([]crash.Phase, error) {
	phases := make([]crash.Phase, 0, len(names))
	for _, name := range names {
		p, err := crash.ParsePhase(name)
		if err != nil {
			return nil, err
		}
		phases = append(phases, p)
	}
	return phases, nil
}
