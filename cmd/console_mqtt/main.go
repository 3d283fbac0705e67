// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/lora_tracker/internal/app"
	"github.com/relabs-tech/lora_tracker/internal/config"
)

func main() {
	configPath := flag.String("config", "./tracker_config.txt", "path to configuration file")
	flag.Parse()

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()
	if cfg.MQTTBroker == "" {
		log.Fatal("MQTT_BROKER is not set, nothing to subscribe to")
	}

	logger, err := app.NewLogger(cfg.LogLevel, "console")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	log.Println("starting tracker console (MQTT subscriber)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsoleMQTT(ctx, cfg.MQTTBroker, cfg.TopicPositions, os.Stdout, logger.Named("console")); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
