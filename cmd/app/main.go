package main

import (
	"flag"
	"log"
	"os"

	"FinScreen/internal/di"
	"FinScreen/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s window=%s rule=%s baseline=%s", cfg.Environment, cfg.Screener.Window, cfg.Screener.Rule.Kind, cfg.Baseline.Source)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// blocks until SIGINT/SIGTERM or a fatal pipeline error
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
