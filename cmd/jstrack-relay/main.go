// Command jstrack-relay receives browser error signals over HTTP and delivers
// them through a jstrack pipeline to the configured sinks.
//
// Usage:
//
//	jstrack-relay -config relay.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/strongdm/jstrack/pkg/jstrack/config"
)

func main() {
	configPath := flag.String("config", "relay.yaml", "Path to the relay YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.Log, os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("relay stopped")
		os.Exit(1)
	}
	logger.Info().Msg("relay stopped")
}
