package commands

import (
	"context"

	"vcmesh/config"

	log "github.com/sirupsen/logrus"
)

// RunInit writes a config file with default settings.
func RunInit(ctx context.Context, cfg *config.Config) {
	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}
	log.Infof("Node will listen on %s; edit the config to add peers", cfg.Node.Address)
}
