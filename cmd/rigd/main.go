package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rigd-project/rigd/pkg/config"
	"github.com/rigd-project/rigd/pkg/logging"
	"github.com/rigd-project/rigd/pkg/verbose"
)

var (
	configPath  = flag.String("config", "config.yaml", "Configuration file path")
	showVersion = flag.Bool("version", false, "Show version information")
	verboseFlag = flag.Bool("verbose", false, "Enable raw wire tracing")
)

const (
	Version = "0.1.0-dev"
	Build   = "development"
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("rigd version %s (%s)\n", Version, Build)
		os.Exit(0)
	}

	verbose.SetEnabled(*verboseFlag)

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logging system
	if err := logging.InitGlobalLogger(cfg.LoggingOptions()); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseGlobalLogger()

	logging.Infof("main", "rigd version %s starting...", Version)
	logging.Infof("main", "Station: %s (%s)", cfg.Station.Callsign, cfg.Station.Grid)
	logging.Infof("main", "Radio backend: %s", cfg.Radio.Type)
	logging.Infof("main", "Web interface: http://%s:%d", cfg.Web.BindAddress, cfg.Web.Port)

	daemon, err := NewRigDaemon(cfg)
	if err != nil {
		logging.Errorf("main", "Failed to create daemon: %v", err)
		os.Exit(1)
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := daemon.Start(); err != nil {
		logging.Errorf("main", "Failed to start daemon: %v", err)
		os.Exit(1)
	}

	logging.Info("main", "rigd started successfully")

	// Wait for shutdown signal
	<-sigChan
	logging.Info("main", "Shutting down...")

	if err := daemon.Stop(); err != nil {
		logging.Errorf("main", "Error during shutdown: %v", err)
	}

	logging.Info("main", "rigd stopped")
}
