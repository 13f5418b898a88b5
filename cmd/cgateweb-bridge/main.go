package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dougrathbone/cgateweb-bridge/internal/bridge"
	"github.com/dougrathbone/cgateweb-bridge/internal/bridgelog"
	"github.com/dougrathbone/cgateweb-bridge/internal/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the bridge settings file")
	flag.Parse()

	settings, errs := config.LoadSettings(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "cgateweb-bridge: %v\n", err)
		}
		os.Exit(1)
	}

	log := bridgelog.New(settings.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("cgateweb-bridge: received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	orchestrator := bridge.New(settings, log)
	if err := orchestrator.Run(ctx); err != nil {
		log.Error("cgateweb-bridge: fatal error", "error", err)
		os.Exit(1)
	}
}
