package commands

import (
	"context"
	"time"

	"vcmesh/config"
	"vcmesh/swarm/client"

	log "github.com/sirupsen/logrus"
)

func dialNode(ctx context.Context, cfg *config.Config) *client.Client {
	if cfg.Control.ListenAddress == "" {
		log.Fatal("Control server is disabled in the config")
	}
	c, err := client.Dial(ctx, cfg.Control.ListenAddress)
	if err != nil {
		log.Fatalf("Failed to connect to the node at %s: %v", cfg.Control.ListenAddress, err)
	}
	return c
}

// RunSend broadcasts text through a running node.
func RunSend(ctx context.Context, cfg *config.Config, text string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c := dialNode(ctx, cfg)
	defer c.Close()

	res, err := c.Send(ctx, text)
	if err != nil {
		log.Fatalf("Send failed: %v", err)
	}
	log.Infof("Sent with clocks %s to %d peer(s)", res.Clocks, res.Peers)
}

// RunStatus prints the clocks, pending count and peers of a running node.
func RunStatus(ctx context.Context, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c := dialNode(ctx, cfg)
	defer c.Close()

	res, err := c.Status(ctx)
	if err != nil {
		log.Fatalf("Status failed: %v", err)
	}
	log.Infof("Node %s: clocks %s, pending %d", res.PeerID, res.Clocks, res.Pending)
	for _, p := range res.Peers {
		log.Infof("Peer: %s", p)
	}
}
