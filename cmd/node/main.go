package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cloudflare/circl/dh/x25519"

	"github.com/umbral-exchange/umbral/params"
	"github.com/umbral-exchange/umbral/pkg/api"
	"github.com/umbral-exchange/umbral/pkg/events"
	"github.com/umbral-exchange/umbral/pkg/exchange/coordinator"
	"github.com/umbral-exchange/umbral/pkg/exchange/pair"
	"github.com/umbral-exchange/umbral/pkg/exchange/settle"
	"github.com/umbral-exchange/umbral/pkg/ledger"
	"github.com/umbral-exchange/umbral/pkg/mpc"
	"github.com/umbral-exchange/umbral/pkg/storage"
	"github.com/umbral-exchange/umbral/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = filepath.Join(cfg.Node.DataDir, "node.log")
	}
	os.MkdirAll(cfg.Node.DataDir, 0755)

	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Persistence ----
	store, err := storage.Open(filepath.Join(cfg.Node.DataDir, "exchange"))
	if err != nil {
		sugar.Fatalw("storage_open_failed", "err", err)
	}
	defer store.Close()

	ledgerStore, err := ledger.OpenStore(filepath.Join(cfg.Node.DataDir, "ledger"))
	if err != nil {
		sugar.Fatalw("ledger_open_failed", "err", err)
	}
	defer ledgerStore.Close()

	// ---- Core state ----
	registry := pair.NewRegistry()
	bus := events.NewBus()
	ledgerMgr := ledger.NewManager(ledgerStore, sugar)
	settler := settle.NewExecutor(ledgerMgr, store, bus, sugar)

	// ---- Computation cluster ----
	coordKey, err := mpc.GenerateKeyPair()
	if err != nil {
		sugar.Fatalw("keygen_failed", "err", err)
	}

	var cluster mpc.Cluster
	var clusterPub x25519.Key
	switch cfg.Cluster.Mode {
	case "gossip":
		clusterPub, err = readClusterKey(os.Getenv("CLUSTER_PUBKEY"))
		if err != nil {
			sugar.Fatalw("cluster_pubkey_invalid", "err", err)
		}
		cluster, err = mpc.NewGossipCluster(ctx, mpc.GossipConfig{
			ListenAddr: cfg.Cluster.ListenAddr,
			Bootstrap:  cfg.Cluster.Bootstrap,
			Logger:     sugar,
		}, coordKey, clusterPub)
		if err != nil {
			sugar.Fatalw("gossip_cluster_failed", "err", err)
		}
	default:
		nodeKey, err := mpc.GenerateKeyPair()
		if err != nil {
			sugar.Fatalw("keygen_failed", "err", err)
		}
		node := mpc.NewNode(nodeKey, sugar)
		cluster = mpc.NewLocalCluster(node, cfg.Cluster.Latency)
		clusterPub = nodeKey.Public

		// Clients need the cluster key to seal orders; publish it for
		// the encrypt-order tool.
		pubPath := filepath.Join(cfg.Node.DataDir, "cluster.pub")
		pub := node.PublicKey()
		if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(pub[:])+"\n"), 0644); err != nil {
			sugar.Warnw("cluster_pubkey_write_failed", "path", pubPath, "err", err)
		}
		sugar.Infow("local_cluster_ready",
			"pubkey", hex.EncodeToString(pub[:]), "pubkey_file", pubPath)
	}
	defer cluster.Close()

	// ---- Coordinator ----
	coord := coordinator.New(coordinator.Config{
		Registry:        registry,
		Cluster:         cluster,
		Bus:             bus,
		Store:           store,
		Settler:         settler,
		Clock:           util.RealClock{},
		Logger:          sugar,
		Deadline:        cfg.Exchange.ComputationDeadline,
		SweepInterval:   cfg.Exchange.SweepInterval,
		QueuePolicy:     queuePolicy(cfg.Exchange.QueueRequests),
		DefaultCapacity: cfg.Exchange.BookCapacity,
	})
	coord.Start()
	defer coord.Close()

	// ---- Demo traffic (optional) ----
	if os.Getenv("ENABLE_FEEDER") == "true" {
		startFeeder(ctx, coord, registry, ledgerMgr, clusterPub, defaultFeederConfig(), sugar)
	}

	// ---- API server ----
	apiServer := api.NewServer(coord, registry, store, ledgerMgr, bus, sugar)
	go func() {
		if err := apiServer.Start(cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("node_started",
		"cluster_mode", cfg.Cluster.Mode,
		"api_addr", cfg.API.Addr,
		"book_capacity", cfg.Exchange.BookCapacity,
		"deadline", cfg.Exchange.ComputationDeadline)

	<-ctx.Done()
	sugar.Info("shutting down")
}

func queuePolicy(queue bool) coordinator.QueuePolicy {
	if queue {
		return coordinator.QueueFIFO
	}
	return coordinator.QueueReject
}

func readClusterKey(s string) (x25519.Key, error) {
	var key x25519.Key
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, err
	}
	if len(raw) != x25519.Size {
		return key, fmt.Errorf("cluster key must be %d bytes, got %d", x25519.Size, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}
