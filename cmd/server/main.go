package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/mrshabel/chronodb/internal/config"
	"github.com/mrshabel/chronodb/internal/node"
)

func main() {
	nodeID := flag.Int("n", 0, "node id (overrides id from config)")
	port := flag.Int("p", 0, "client listen port (overrides the cluster port)")
	configPath := flag.String("c", "", "path to the node config file")
	dataDir := flag.String("d", "logdata", "root directory for series storage")
	debugAddr := flag.String("debug-addr", "", "optional debug HTTP listen address")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "server: -c <config-file> is required")
		os.Exit(1)
	}

	fileCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}

	id := fileCfg.ID
	if *nodeID != 0 {
		id = *nodeID
	}

	host := fileCfg.Host
	if *port != 0 {
		h, _, err := net.SplitHostPort(host)
		if err != nil {
			h = "0.0.0.0"
		}
		host = net.JoinHostPort(h, strconv.Itoa(*port))
	}
	if host == "" {
		fmt.Fprintln(os.Stderr, "server: no client address: set host in config or pass -p")
		os.Exit(1)
	}

	raftAddr := ""
	if id >= 0 && id < len(fileCfg.RaftReplicas) {
		raftAddr = fileCfg.RaftReplicas[id]
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}

	cfg := node.FromConfig(fileCfg, *dataDir, host, *debugAddr, raftAddr)
	cfg.NodeID = id
	cfg.Logger = logger

	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
	defer n.Shutdown()

	logger.Info("server: listening", zap.String("addr", host), zap.Int("node_id", id))
	select {}
}
