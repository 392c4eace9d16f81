package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cedros-basket/checkout/internal/config"
	"github.com/cedros-basket/checkout/pkg/checkout"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("checkout: load config")
	}

	app, err := checkout.NewApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("checkout: build app")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.Logger.Info().Str("address", cfg.Server.Address).Msg("checkout.server_starting")

	go func() {
		if err := app.Run(ctx); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal().Err(err).Msg("checkout.server_failed")
		}
	}()

	<-ctx.Done()
	app.Logger.Info().Msg("checkout.shutdown_starting")

	if err := app.Close(); err != nil {
		app.Logger.Error().Err(err).Msg("checkout.shutdown_failed")
		os.Exit(1)
	}

	time.Sleep(100 * time.Millisecond)
	app.Logger.Info().Msg("checkout.shutdown_complete")
}
