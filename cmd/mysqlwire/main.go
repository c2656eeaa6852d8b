// Command mysqlwire runs the MySQL wire-protocol proxy: a listening
// socket that pairs each client connection with a single upstream
// connection and a configurable wire.Handler, plus an admin HTTP API.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wireproxy/mysqlwire/internal/api"
	"github.com/wireproxy/mysqlwire/internal/config"
	"github.com/wireproxy/mysqlwire/internal/handlers"
	"github.com/wireproxy/mysqlwire/internal/metrics"
	"github.com/wireproxy/mysqlwire/internal/proxy"
	"github.com/wireproxy/mysqlwire/internal/wire"
)

func main() {
	configPath := flag.String("config", "configs/mysqlwire.yaml", "path to configuration file")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("mysqlwire starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Configuration loaded from %s (upstream %s)", *configPath, cfg.Upstream)

	m := metrics.New()
	logger := slog.Default()

	proxyCfg := proxy.Config{
		HighWaterMark: cfg.Backpressure.HighWaterMarkBytes,
		LowWaterMark:  cfg.Backpressure.LowWaterMarkBytes,
	}

	proxyServer := proxy.NewServer(cfg.Upstream, handlerFactory(cfg.Handler, logger), proxyCfg, m, logger)
	if err := proxyServer.Listen(cfg.Listen); err != nil {
		log.Fatalf("Failed to start proxy: %v", err)
	}

	var apiServer *api.Server
	if cfg.Admin.Listen != "" {
		apiServer, err = api.NewServer(m, proxyServer, cfg.Admin.APIKey)
		if err != nil {
			log.Fatalf("Failed to build admin API: %v", err)
		}
		if err := apiServer.Start(cfg.Admin.Listen); err != nil {
			log.Fatalf("Failed to start admin API: %v", err)
		}
	}

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		log.Printf("Reloading configuration (note: listen/upstream address changes require a restart)")
		newProxyCfg := proxy.Config{
			HighWaterMark: newCfg.Backpressure.HighWaterMarkBytes,
			LowWaterMark:  newCfg.Backpressure.LowWaterMarkBytes,
		}
		proxyServer.Reload(newProxyCfg, handlerFactory(newCfg.Handler, logger))
	})
	if err != nil {
		log.Printf("Warning: config hot-reload not available: %v", err)
	}

	log.Printf("mysqlwire ready - listen:%s upstream:%s", cfg.Listen, cfg.Upstream)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %s, shutting down...", sig)

	if configWatcher != nil {
		configWatcher.Stop()
	}
	if apiServer != nil {
		apiServer.Stop()
	}
	proxyServer.Stop()

	log.Printf("mysqlwire stopped")
}

// handlerFactory returns a proxy.HandlerFactory that builds a fresh
// handler instance per pipe, per spec.md §3's one-handler-per-pipe rule.
func handlerFactory(hc config.HandlerConfig, logger *slog.Logger) proxy.HandlerFactory {
	switch hc.Name {
	case "querylog":
		return func() wire.Handler { return handlers.NewQueryLogger(logger) }
	case "reject":
		return func() wire.Handler { return handlers.NewQueryRejector(hc.RejectSubstring, logger) }
	default:
		return func() wire.Handler { return handlers.Passthrough{} }
	}
}
