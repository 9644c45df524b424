package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"vcmesh/commands"
	"vcmesh/config"

	log "github.com/sirupsen/logrus"
)

func setLogLevel(level string) {
	l, err := log.ParseLevel(level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(l)
}

func registerGlobalFlags(fset *flag.FlagSet) {
	flag.VisitAll(func(f *flag.Flag) {
		fset.Var(f.Value, f.Name, f.Usage)
	})
}

func checkConfig(cfg string) {
	if cfg == "" {
		log.Fatal("Config file not specified")
	}
}

// loadConfig reads the config file, or falls back to defaults when none is given.
func loadConfig(configFile string, optional bool) *config.Config {
	if configFile == "" && optional {
		return config.NewEmptyConfig("")
	}
	checkConfig(configFile)
	cfg, err := config.NewConfigFromFile(configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// journalPathFor keeps the journals of several config-less nodes on one machine apart.
func journalPathFor(addr string) string {
	return filepath.Join(os.TempDir(), "vcmesh", strings.ReplaceAll(addr, ":", "_"))
}

// main is the entry point of the application.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	configFile := flag.String("config", "", "Path to config file")
	logLevel := flag.String("loglevel", "info", "Log level")

	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	registerGlobalFlags(initCmd)

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	server := serveCmd.String("server", "", "Address to listen on, e.g. localhost:3012")
	demo := serveCmd.String("demo", "", "Peer whose messages are delayed (or dropped with -drop)")
	drop := serveCmd.Bool("drop", false, "Drop messages from the -demo peer instead of delaying them")
	delay := serveCmd.Int64("delay", 0, "Delay in milliseconds for messages from the -demo peer")
	serveControl := serveCmd.String("control", "", "Control RPC address; overrides the config")
	registerGlobalFlags(serveCmd)

	sendCmd := flag.NewFlagSet("send", flag.ExitOnError)
	sendControl := sendCmd.String("control", "", "Control RPC address of the node; overrides the config")
	registerGlobalFlags(sendCmd)

	statusCmd := flag.NewFlagSet("status", flag.ExitOnError)
	statusControl := statusCmd.String("control", "", "Control RPC address of the node; overrides the config")
	registerGlobalFlags(statusCmd)

	historyCmd := flag.NewFlagSet("history", flag.ExitOnError)
	start := historyCmd.Uint64("start", 1, "First journal sequence to show")
	count := historyCmd.Uint64("count", 100, "Number of records to show")
	historyServer := historyCmd.String("server", "localhost:3012", "Node address whose journal to read when no config is given")
	registerGlobalFlags(historyCmd)

	if len(os.Args) < 2 {
		log.WithField("args", os.Args).Fatal("Expected a subcommand")
	}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "init":
		initCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		cfg := config.NewEmptyConfig(*configFile)
		commands.RunInit(ctx, cfg)
	case "serve":
		serveCmd.Parse(args)
		setLogLevel(*logLevel)
		cfg := loadConfig(*configFile, true)
		if *server != "" {
			cfg.Node.Address = *server
		}
		if *configFile == "" {
			cfg.DataStore.JournalPath = journalPathFor(cfg.Node.Address)
			cfg.Control.ListenAddress = ""
		}
		if *serveControl != "" {
			cfg.Control.ListenAddress = *serveControl
		}
		if peers := serveCmd.Args(); len(peers) > 0 {
			cfg.Network.Peers = peers
		}
		if *demo != "" {
			cfg.Fault.Target = *demo
		}
		if *drop {
			cfg.Fault.Mode = "drop"
		}
		if *delay > 0 {
			cfg.Fault.DelayMs = *delay
		}
		commands.RunServe(ctx, cfg)
	case "send":
		sendCmd.Parse(args)
		setLogLevel(*logLevel)
		cfg := loadConfig(*configFile, true)
		if *sendControl != "" {
			cfg.Control.ListenAddress = *sendControl
		}
		text := strings.Join(sendCmd.Args(), " ")
		if text == "" {
			log.Fatal("Nothing to send")
		}
		commands.RunSend(ctx, cfg, text)
	case "status":
		statusCmd.Parse(args)
		setLogLevel(*logLevel)
		cfg := loadConfig(*configFile, true)
		if *statusControl != "" {
			cfg.Control.ListenAddress = *statusControl
		}
		commands.RunStatus(ctx, cfg)
	case "history":
		historyCmd.Parse(args)
		setLogLevel(*logLevel)
		cfg := loadConfig(*configFile, true)
		if *configFile == "" {
			cfg.DataStore.JournalPath = journalPathFor(*historyServer)
		}
		commands.RunHistory(ctx, cfg, *start, *count)
	default:
		log.Fatalf("Invalid subcommand '%s'", os.Args[1])
	}
}
