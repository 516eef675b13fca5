// Command gojotxn_cli starts an in-process cluster without workload clients
// and drives transactions against it from an interactive shell.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sushant-115/gojotxn/core/cluster"
	"github.com/sushant-115/gojotxn/internal/config"
	"github.com/sushant-115/gojotxn/pkg/logger"
)

const (
	probeID        = 9000
	requestTimeout = 10 * time.Second
)

var configPath = flag.String("config", "", "Path to a YAML config file; defaults are used when empty")

type shell struct {
	cluster *cluster.Cluster
	probe   *cluster.Probe
	maxKey  int
	// checked is set once the correctness check ran; nodes stop after it.
	checked bool
}

func main() {
	flag.Parse()

	cfg := config.Default()
	// Keep node logs out of the prompt unless a config asks for them.
	cfg.Logger.Level = "warn"
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("CRITICAL: %v", err)
		}
	}
	cfg.Cluster.Clients = 0

	zlogger, err := logger.New(cfg.Logger, uuid.NewString())
	if err != nil {
		log.Fatalf("CRITICAL: Can't initialize zap logger: %v", err)
	}
	defer zlogger.Sync()

	c, err := cluster.New(cluster.Options{Config: cfg, Logger: zlogger})
	if err != nil {
		zlogger.Fatal("Failed to build cluster", zap.Error(err))
	}
	defer c.Close()
	c.Start(context.Background())

	probe, err := c.NewProbe(probeID)
	if err != nil {
		zlogger.Fatal("Failed to register probe client", zap.Error(err))
	}

	l, err := readline.NewEx(&readline.Config{
		Prompt:          "gojotxn> ",
		HistoryFile:     "/tmp/gojotxn_cli.history",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		zlogger.Fatal("Failed to start shell", zap.Error(err))
	}
	defer l.Close()

	sh := &shell{cluster: c, probe: probe, maxKey: cfg.Cluster.MaxKey()}
	fmt.Printf("%d coordinators, %d servers, keys 0..%d. Type 'help' for commands.\n",
		cfg.Cluster.Coordinators, cfg.Cluster.Servers, cfg.Cluster.MaxKey())
	for {
		line, err := l.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			zlogger.Error("Failed to read line", zap.Error(err))
			return
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" {
			return
		}
		if err := sh.exec(args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

func (s *shell) exec(args []string) error {
	if s.checked && args[0] != "help" {
		return errors.New("the correctness check already ran and every node stopped")
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch strings.ToLower(args[0]) {
	case "begin":
		coordinator := 0
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("bad coordinator index %q", args[1])
			}
			coordinator = n
		}
		if coordinator < 0 || coordinator >= len(s.cluster.Coordinators()) {
			return fmt.Errorf("coordinator index %d out of range", coordinator)
		}
		if err := s.probe.Begin(ctx, coordinator); err != nil {
			return err
		}
		fmt.Printf("Transaction %d started on %s\n", s.probe.Attempt(), s.cluster.Coordinators()[coordinator])
	case "read":
		ints, err := parseInts(args[1:], 1)
		if err != nil {
			return err
		}
		if err := s.checkKey(ints[0]); err != nil {
			return err
		}
		v, err := s.probe.Read(ctx, ints[0])
		if err != nil {
			return err
		}
		fmt.Printf("%d = %d\n", ints[0], v)
	case "write":
		ints, err := parseInts(args[1:], 2)
		if err != nil {
			return err
		}
		if err := s.checkKey(ints[0]); err != nil {
			return err
		}
		return s.probe.Write(ints[0], ints[1])
	case "commit", "abort":
		committed, err := s.probe.End(ctx, args[0] == "commit")
		if err != nil {
			return err
		}
		if committed {
			fmt.Println("COMMIT")
		} else {
			fmt.Println("ABORT")
		}
	case "check":
		res, err := s.cluster.Check(ctx)
		if err != nil {
			return err
		}
		s.checked = true
		fmt.Print(res.String())
	case "help":
		fmt.Println(`Commands:
  begin [coordinator]   open a transaction (coordinator index, default 0)
  read <key>            read a key inside the open transaction
  write <key> <value>   stage a write
  commit | abort        end the transaction and print the outcome
  check                 run the correctness check (stops the cluster)
  quit                  leave the shell`)
	default:
		return fmt.Errorf("unknown command %q, try 'help'", args[0])
	}
	return nil
}

func (s *shell) checkKey(key int) error {
	if key < 0 || key > s.maxKey {
		return fmt.Errorf("key %d out of range 0..%d", key, s.maxKey)
	}
	return nil
}

func parseInts(args []string, n int) ([]int, error) {
	if len(args) != n {
		return nil, fmt.Errorf("expected %d integer argument(s), got %d", n, len(args))
	}
	out := make([]int, n)
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("bad integer %q", a)
		}
		out[i] = v
	}
	return out, nil
}
