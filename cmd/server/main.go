package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/mismatch-chat/relay/internal/adapters/http"
	"github.com/mismatch-chat/relay/internal/app"
	"github.com/mismatch-chat/relay/internal/config"
	"github.com/mismatch-chat/relay/internal/core"
	"github.com/mismatch-chat/relay/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("store close")
		}
	}()

	reg := core.NewRegistry()
	rooms := core.NewDirectory(reg)

	// Warm the directory so persisted rooms are joinable after a restart.
	if list, err := store.ListRooms(ctx); err != nil {
		log.Warn().Err(err).Msg("room warm-up failed, starting with empty directory")
	} else {
		for _, rm := range list {
			rooms.Track(rm)
		}
		log.Info().Int("rooms", len(list)).Msg("directory warmed")
	}

	rt := app.NewRouter(reg, rooms, store)
	rt.HistoryLimit = cfg.HistoryLimit

	r := router.SetupRouter(ctx, cfg, rt, store, rooms)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("relay server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
