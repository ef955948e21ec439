package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"cosmossdk.io/log"
	"github.com/cometbft/cometbft/abci/server"

	"hongbaochain/internal/app"
)

func main() {
	var (
		home      = flag.String("home", ".hbc", "app home directory (state will be stored under <home>/app)")
		addr      = flag.String("addr", "tcp://127.0.0.1:26658", "ABCI listen address")
		transport = flag.String("transport", "socket", "ABCI transport (socket|grpc)")
	)
	flag.Parse()

	logger := log.NewLogger(os.Stderr)

	a, err := app.New(*home, logger)
	if err != nil {
		logger.Error("init app", "err", err)
		os.Exit(1)
	}

	srv, err := server.NewServer(*addr, *transport, a)
	if err != nil {
		logger.Error("build abci server", "err", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("start abci server", "err", err)
		os.Exit(1)
	}
	defer func() { _ = srv.Stop() }()
	logger.Info("abci server listening", "addr", *addr, "transport", *transport)

	// Wait for signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
}
