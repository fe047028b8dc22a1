package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pyr33x/mqttd/internal/auth"
	"github.com/pyr33x/mqttd/internal/config"
	"github.com/pyr33x/mqttd/internal/logger"
	"github.com/pyr33x/mqttd/internal/server"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the broker's TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	log := buildLogger(cfg.LogDest)

	var authFile *auth.File
	if cfg.AuthFile != "" {
		authFile, err = auth.LoadFile(cfg.AuthFile)
		if err != nil {
			log.Fatal("failed to load auth file", logger.String("path", cfg.AuthFile), logger.ErrorAttr(err))
		}
	}

	srv := server.New(cfg, authFile, log)

	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		cancel()
		log.Fatal("failed to start broker", logger.ErrorAttr(err))
	}

	log.Info("broker started",
		logger.String("broker_id", srv.BrokerID()),
		logger.Int("tcp_port", cfg.TCPPort),
		logger.Int("max_connections", cfg.MaxConnections),
	)

	done := make(chan struct{})
	go gracefulShutdown(srv, cancel, log, done)

	<-done
	log.Info("graceful shutdown complete")
}

// gracefulShutdown waits for SIGINT/SIGTERM, stops accepting new
// connections, then drains every live session through Shutdown
// (§4.J).
func gracefulShutdown(srv *server.Server, cancel context.CancelFunc, log *logger.Logger, done chan struct{}) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("graceful shutdown triggered")

	cancel() // stop accepting new connections on every listener
	srv.Shutdown()

	close(done)
}

// buildLogger decodes §6's log_dest key (stdout|stderr|file:PATH)
// into a logger.Config.
func buildLogger(dest string) *logger.Logger {
	cfg := logger.ProductionConfig()

	switch {
	case dest == "" || dest == "stdout":
		cfg.Output = os.Stdout
	case dest == "stderr":
		cfg.Output = os.Stderr
	case strings.HasPrefix(dest, "file:"):
		path := strings.TrimPrefix(dest, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log_dest file %s: %v, falling back to stdout\n", path, err)
			cfg.Output = os.Stdout
		} else {
			cfg.Output = f
		}
	default:
		cfg.Output = os.Stdout
	}

	return logger.New(cfg)
}
