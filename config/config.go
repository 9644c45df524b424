package config

import (
	"encoding/json"
	"os"
	"time"

	"vcmesh/fault"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Config represents the configuration of a vcmesh node
type Config struct {
	// Default config file location
	configFile string

	Node struct {
		// Address the node listens on for peer connections. It is also the identity
		// announced to peers unless ID is set.
		Address string `json:"address"`
		ID      string `json:"id,omitempty"`
	} `json:"node"`

	Network struct {
		// Peers dialed at startup, e.g. ws://localhost:3013
		Peers []string `json:"peers"`
	} `json:"network"`

	// Fault injection for testing. An empty target disables it.
	Fault struct {
		Target  string `json:"target"`
		Mode    string `json:"mode"`
		DelayMs int64  `json:"delay_ms"`
	} `json:"fault"`

	Buffer struct {
		// Zero means unbounded
		MaxPending int `json:"max_pending"`
	} `json:"buffer"`

	DataStore struct {
		// Empty disables the delivery journal
		JournalPath string `json:"journal"`
	} `json:"datastore"`

	Control struct {
		// Empty disables the control RPC
		ListenAddress string `json:"listen"`
	} `json:"control"`

	StatusIntervalMs int64 `json:"status_interval_ms"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Node.Address = "localhost:3012"

	cfg.Network.Peers = []string{}

	cfg.Fault.Mode = fault.ModeDelay.String()
	cfg.Fault.DelayMs = fault.DefaultDelay.Milliseconds()

	cfg.DataStore.JournalPath = "/tmp/vcmesh/journal"
	cfg.Control.ListenAddress = "localhost:4012"

	cfg.StatusIntervalMs = 30000

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	// We'll marshall our structure to JSON and write it into a file
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	return nil
}

// FaultPolicy builds the fault injection policy, or nil when no target is set.
func (c *Config) FaultPolicy() (*fault.Policy, error) {
	mode, err := fault.ParseMode(c.Fault.Mode)
	if err != nil {
		return nil, err
	}
	return fault.NewPolicy(c.Fault.Target, mode, time.Duration(c.Fault.DelayMs)*time.Millisecond), nil
}

func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.StatusIntervalMs) * time.Millisecond
}
