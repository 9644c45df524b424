package commands

import (
	"context"
	"net"
	"os"

	"vcmesh/causal"
	"vcmesh/config"
	"vcmesh/datastore/leveldb"
	"vcmesh/swarm/node"

	log "github.com/sirupsen/logrus"
)

// RunServe runs a node until ctx is cancelled. Lines typed on stdin are broadcast.
func RunServe(ctx context.Context, cfg *config.Config) {
	policy, err := cfg.FaultPolicy()
	if err != nil {
		log.Fatalf("Invalid fault settings: %v", err)
	}

	l, err := net.Listen("tcp", cfg.Node.Address)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.Node.Address, err)
	}

	id := cfg.Node.ID
	if id == "" {
		id = cfg.Node.Address
	}

	opts := node.Options{
		ID:             id,
		Listener:       l,
		Peers:          cfg.Network.Peers,
		Policy:         policy,
		MaxPending:     cfg.Buffer.MaxPending,
		Input:          os.Stdin,
		StatusInterval: cfg.StatusInterval(),
	}

	if cfg.DataStore.JournalPath != "" {
		journal, err := leveldb.NewJournal(cfg.DataStore.JournalPath)
		if err != nil {
			log.Fatalf("Failed to open journal: %v", err)
		}
		defer journal.Close()
		opts.Sinks = append(opts.Sinks, &causal.JournalSink{Journal: journal})
	}

	if cfg.Control.ListenAddress != "" {
		cl, err := net.Listen("tcp", cfg.Control.ListenAddress)
		if err != nil {
			log.Fatalf("Failed to create control listener: %v", err)
		}
		log.Infof("Control server listening on %s", cl.Addr())
		opts.ControlListener = cl
	}

	n, err := node.New(opts)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	if err := n.Run(ctx); err != nil {
		log.Fatalf("Failed to run node: %v", err)
	}
}
