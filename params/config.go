package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Exchange struct {
	// BookCapacity is the per-side order limit of every new book.
	BookCapacity int
	// ComputationDeadline bounds the request-to-finalize window; an
	// overdue computation times out and frees its pair.
	ComputationDeadline time.Duration
	SweepInterval       time.Duration
	// QueueRequests parks mutations behind a busy pair instead of
	// rejecting them.
	QueueRequests bool
}

type Cluster struct {
	// Mode selects the computation transport: "local" runs a single
	// in-process node, "gossip" talks to remote nodes over pubsub.
	Mode       string
	ListenAddr string
	Bootstrap  []string
	// Latency simulates cluster round-trip time in local mode. Useful
	// on a devnet to exercise the request/finalize gap.
	Latency time.Duration
}

type API struct {
	Addr string
}

type Node struct {
	DataDir string
}

type Config struct {
	Exchange Exchange
	Cluster  Cluster
	API      API
	Node     Node
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			BookCapacity:        10,
			ComputationDeadline: 30 * time.Second,
			SweepInterval:       5 * time.Second,
			QueueRequests:       false,
		},
		Cluster: Cluster{
			Mode:    "local",
			Latency: 50 * time.Millisecond,
		},
		API: API{
			Addr: ":8080",
		},
		Node: Node{
			DataDir: "data",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("EXCHANGE_BOOK_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Exchange.BookCapacity = n
		}
	}
	if v := os.Getenv("EXCHANGE_DEADLINE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Exchange.ComputationDeadline = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("EXCHANGE_SWEEP_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Exchange.SweepInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("EXCHANGE_QUEUE_REQUESTS"); v != "" {
		cfg.Exchange.QueueRequests = v == "true"
	}

	if v := os.Getenv("CLUSTER_MODE"); v != "" {
		cfg.Cluster.Mode = v
	}
	if v := os.Getenv("CLUSTER_LISTEN_ADDR"); v != "" {
		cfg.Cluster.ListenAddr = v
	}
	if v := os.Getenv("CLUSTER_BOOTSTRAP"); v != "" {
		cfg.Cluster.Bootstrap = strings.Split(v, ",")
	}
	if v := os.Getenv("CLUSTER_LATENCY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Cluster.Latency = time.Duration(ms) * time.Millisecond
		}
	}

	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("NODE_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}

	return cfg
}
