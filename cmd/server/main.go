package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/seyacat/milsim-sub000/internal/api"
	"github.com/seyacat/milsim-sub000/internal/config"
	"github.com/seyacat/milsim-sub000/internal/session"
	"github.com/seyacat/milsim-sub000/internal/store"
)

func main() {
	// Load .env if present; environment variables always win.
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("../.env")
	}

	log := newLogger()
	cfg := config.Load()

	log.Info().
		Int("port", cfg.Server.Port).
		Int("max_games", cfg.Game.MaxGames).
		Int("max_players", cfg.Game.MaxPlayers).
		Str("db", cfg.Store.Path).
		Msg("starting milsim server")

	st, err := store.Open(cfg.Store.Path, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open store failed")
	}
	defer st.Close()

	registry := session.NewRegistry(cfg.Game, st, clockwork.NewRealClock(), log)
	tokens := api.NewTokenManager(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	server := api.NewServer(cfg, registry, st, tokens, log)

	// Debug server exposes pprof and Prometheus metrics on localhost only.
	if os.Getenv("DISABLE_DEBUG_SERVER") != "true" {
		if err := api.StartDebugServer(api.DefaultObservabilityConfig()); err != nil {
			log.Warn().Err(err).Msg("debug server disabled")
		}
	}

	go func() {
		if err := server.Start(":" + strconv.Itoa(cfg.Server.Port)); err != nil {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	registry.Close()
	log.Info().Msg("goodbye")
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && os.Getenv("LOG_LEVEL") != "" {
		level = l
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if os.Getenv("LOG_PRETTY") == "true" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger
}
