package main

import (
	"flag"
	"log"
	"os"

	"github.com/melih/lighthouse/internal/adapters/http"
	"github.com/melih/lighthouse/internal/bootstrap"
	"github.com/melih/lighthouse/internal/config"
	"github.com/melih/lighthouse/internal/logging"
)

func main() {
	configPath := flag.String("config", "lighthouse.yaml", "path to the config file")
	proxyDomain := flag.String("proxy-domain", "localhost", "serve launched services at <name>.<proxy-domain>")
	flag.Parse()

	cfg, err := config.Load(*configPath, os.LookupEnv)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	mode, err := logging.ParseMode(cfg.LogFormat)
	if err != nil {
		log.Fatalf("Invalid log format: %v", err)
	}
	logger := logging.New(mode, os.Stderr, level)

	// 1. Initialize Adapters (Infrastructure)
	rt, err := bootstrap.New(cfg, logger, os.Stdout)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer rt.Close()

	// 2. Setup Framework (Fiber) and Routes
	app := http.NewApp(rt.Containers, rt.Pipeline, *proxyDomain, logger)

	// 3. Start Server
	logger.Info("server starting", "addr", cfg.Addr)
	if err := app.Listen(cfg.Addr); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
