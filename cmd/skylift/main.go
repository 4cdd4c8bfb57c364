package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "skylift.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Handle version flag
	if *showVersion {
		fmt.Printf("skylift %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	// Load configuration
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	// Setup logger
	logger := SetupLogger(cfg)
	logger.Info("starting skylift",
		"version", Version,
		"config", *configPath,
	)

	// Create deployer
	deployer, err := NewDeployer(cfg, logger)
	if err != nil {
		if dErr, ok := err.(*DeployerError); ok {
			logger.Error("failed to create deployer",
				"error", dErr.Err,
				"operation", dErr.Op,
			)
			return dErr.ExitCode
		}
		logger.Error("failed to create deployer", "error", err)
		return ExitConfigError
	}
	defer deployer.Close()

	// Ctrl-C aborts between calls; nothing applied so far is rolled back.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := deployer.Deploy(ctx); err != nil {
		if dErr, ok := err.(*DeployerError); ok {
			logger.Error("deployment failed",
				"error", dErr.Err,
				"operation", dErr.Op,
			)
			return dErr.ExitCode
		}
		logger.Error("deployment failed", "error", err)
		return ExitDeployFailed
	}

	return ExitSuccess
}
