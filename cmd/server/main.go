package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dmaksimov/huddle/internal/adapters/httpadm"
	"github.com/dmaksimov/huddle/internal/adapters/relay"
	"github.com/dmaksimov/huddle/internal/adapters/tcpctl"
	"github.com/dmaksimov/huddle/internal/app"
	"github.com/dmaksimov/huddle/internal/config"
	"github.com/dmaksimov/huddle/internal/core"
	"github.com/dmaksimov/huddle/internal/metrics"
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
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(promReg)

	reg := core.NewRegistry()
	rooms := core.NewRoomTable()
	orch := &app.Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Policy:   app.SimplePolicy{},
		Metrics:  m,
	}

	engine := relay.New(cfg, reg, rooms, m)
	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("relay start")
	}

	ctl := tcpctl.NewServer(cfg, orch)
	if err := ctl.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("control server start")
	}

	sweeper := &app.Sweeper{Orch: orch, Timeout: cfg.SessionTimeout, Interval: cfg.SweepInterval}
	go sweeper.Run(ctx)

	monitor := &app.StatsMonitor{Orch: orch, Source: engine, Interval: cfg.StatsInterval}
	go monitor.Run(ctx)

	r := httpadm.SetupRouter(ctx, cfg, orch, engine, promReg)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: r,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Huddle server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	ctl.Stop()
	engine.Stop()
	log.Info().Msg("Server exited gracefully")
}
