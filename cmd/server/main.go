package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/tcpbridge/internal/logging"
	"github.com/Tyrowin/tcpbridge/internal/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("TCP bridge exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	logging.InitFromEnv()

	config, err := server.LoadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.InitLogger(config.LogLevel, config.LogFormat)
	slog.Info("Starting TCP bridge...",
		"tcp_port", config.TCPPort,
		"socket_port", config.SocketPort,
	)

	bridge := server.New(*config)

	// A listener that cannot bind is fatal: never serve half the bridge.
	if err := bridge.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bridge.Run(ctx); err != nil {
		return err
	}

	slog.Info("TCP bridge stopped")
	return nil
}
