package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"vcmesh/fault"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vcmesh.json")

	cfg := NewEmptyConfig(path)
	cfg.Node.Address = "localhost:3013"
	cfg.Network.Peers = []string{"ws://localhost:3012"}
	cfg.Fault.Target = "localhost:3012"
	cfg.Fault.Mode = "drop"
	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}

	loaded, err := NewConfigFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Node.Address != "localhost:3013" || len(loaded.Network.Peers) != 1 {
		t.Fatalf("unexpected config %+v", loaded)
	}

	p, err := loaded.FaultPolicy()
	if err != nil {
		t.Fatal(err)
	}
	if p.Classify("localhost:3012") != fault.Drop {
		t.Fatalf("unexpected policy %s", p)
	}
}

func TestDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.json")
	if err := os.WriteFile(path, []byte(`{"node": {"address": "localhost:4000"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewConfigFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Node.Address != "localhost:4000" {
		t.Fatalf("address not loaded: %s", cfg.Node.Address)
	}
	// Fields missing from the file keep their defaults.
	if cfg.StatusInterval() != 30*time.Second {
		t.Fatalf("unexpected status interval %v", cfg.StatusInterval())
	}
	p, err := cfg.FaultPolicy()
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatalf("expected no fault policy, got %s", p)
	}
}

func TestBadFaultMode(t *testing.T) {
	cfg := NewEmptyConfig("")
	cfg.Fault.Target = "localhost:3012"
	cfg.Fault.Mode = "reorder"
	if _, err := cfg.FaultPolicy(); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := NewConfigFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected an error")
	}
}
