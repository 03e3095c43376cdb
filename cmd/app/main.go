package main

import (
	"context"
	"flag"
	"log"
	"os"

	"ProxyTrader/internal/di"
	"ProxyTrader/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx := context.Background()
	app, cleanup, err := di.InitializeApp(ctx, cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	err = app.Run(ctx)
	cleanup()
	if err != nil {
		os.Exit(1)
	}
}
