package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"tessera/internal/cluster"
	"tessera/internal/config"
	"tessera/internal/logging"
	"tessera/internal/ops"

	"github.com/prometheus/client_golang/prometheus"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "tessera-node <node-index> [ip-override]",
		Short: "Run one tessera cluster node",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  run,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to tessera.yaml")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	index, err := strconv.Atoi(args[0])
	if err != nil || index < 0 || index >= len(cfg.Nodes) {
		return fmt.Errorf("node index must be in 0..%d", len(cfg.Nodes)-1)
	}
	spec := cfg.Nodes[index]
	if len(args) == 2 {
		// IP override for non-containerized runs.
		spec.IP = args[1]
	}

	dataKey, err := config.DataKey()
	if err != nil {
		return err
	}

	logging.Init(spec.ID)

	// One process per node directory.
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	lock := flock.New(fmt.Sprintf("%s/%s.lock", cfg.DataDir, spec.ID))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("locking data directory: %w", err)
	}
	if !locked {
		return fmt.Errorf("node %s is already running (lock held)", spec.ID)
	}
	defer lock.Unlock()

	node := cluster.New(cluster.Config{
		ID:             spec.ID,
		IP:             spec.IP,
		ClientPort:     spec.ClientPort,
		PeerPort:       spec.PeerPort,
		DataDir:        cfg.DataDir,
		DataKey:        dataKey,
		GossipInterval: cfg.GossipInterval,
		FlushInterval:  cfg.FlushInterval,
	})

	registry := prometheus.NewRegistry()
	node.SetMetrics(ops.NewMetrics(registry))

	node.LoadFromDisk()
	if err := node.Start(); err != nil {
		return err
	}
	defer node.Stop()

	// Join through the first node unless this is the first node.
	if index != 0 {
		seed := cfg.Nodes[0]
		seedAddr := fmt.Sprintf("%s:%d", seed.IP, seed.PeerPort)
		if err := node.Bootstrap(seedAddr); err != nil {
			logging.Warn("[%s] bootstrap via %s failed, relying on gossip: %v", spec.ID, seedAddr, err)
		}
	}

	opsAddr := fmt.Sprintf("%s:%d", spec.IP, int(spec.ClientPort)+cfg.OpsPortOffset)
	opsServer := ops.NewServer(node, registry)
	go func() {
		if err := http.ListenAndServe(opsAddr, opsServer.Router()); err != nil {
			logging.Warn("[%s] ops endpoint: %v", spec.ID, err)
		}
	}()
	logging.Info("[%s] admin endpoint on http://%s", spec.ID, opsAddr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logging.Info("[%s] shutting down, flushing state", spec.ID)
	node.Flush()
	return nil
}
