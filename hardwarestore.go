package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"hardwarestore/pkg/app"
	"hardwarestore/pkg/logging"
)

// main exposes a root-level entry point so operators can simply run `go run hardwarestore.go`.
func main() {
	logger := logging.Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args[1:], logger); err != nil {
		logger.Fatal().Err(err).Msg("application stopped with error")
	}
}
