// main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"barwatch/internal/bars"
	"barwatch/internal/barstore"
	"barwatch/internal/config"
	"barwatch/internal/digest"
	"barwatch/internal/logging"
	"barwatch/internal/poller"
	"barwatch/internal/query"
	"barwatch/internal/ratelimit"
	"barwatch/internal/scheduler"
	"barwatch/internal/search"
	"barwatch/internal/summary"
	"barwatch/internal/ticks"
	"barwatch/internal/topics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "barwatch: "+err.Error())
		os.Exit(1)
	}

	logging.Init(cfg.LogLevel)
	log := logging.For("main")

	limiter := ratelimit.New()

	searchProvider := buildSearchProvider(cfg, limiter)
	summaryProvider, err := summary.Build(summary.Config{
		ProviderName:   cfg.SummaryProvider,
		APIKey:         cfg.ModelAPIKey,
		FastModel:      cfg.SummaryFastModel,
		ReasoningModel: cfg.SummaryReasoningModel,
	}, http.DefaultClient, limiter)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build summary provider")
	}

	dedupe, closeDedupe := buildDedupeStore(cfg, log)
	if closeDedupe != nil {
		defer closeDedupe()
	}

	registry := topics.NewRegistry("5m")
	tickStore := ticks.New(cfg.MaxTicksPerTopic, dedupe, 24*time.Hour)
	barStore := barstore.New(cfg.MaxBarsPerResolution)
	generator := bars.NewGenerator(summaryProvider)
	digestSvc := digest.NewService(barStore, summaryProvider)
	p := poller.New(registry, tickStore, searchProvider, cfg.PollInterval())
	sched := scheduler.New(registry, tickStore, barStore, generator)
	svc := query.NewService(registry, tickStore, barStore, generator, digestSvc, p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.AutoStart {
		p.Start(ctx)
		sched.Start(ctx)
		defer p.Stop()
		defer sched.Stop()
	} else {
		log.Info().Msg("AUTO_START not set; background polling and scheduling are disabled")
	}

	e := echo.New()
	e.HideBanner = true
	registerRoutes(e, svc)

	go func() {
		addr := ":8099"
		log.Info().Str("addr", addr).Msg("serving")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}

func buildSearchProvider(cfg config.Config, limiter *ratelimit.Limiter) search.Provider {
	var base search.Provider
	if cfg.SearchBearerToken == "" {
		base = &search.FakeProvider{}
	} else {
		base = search.NewHTTPProvider(cfg.SearchBaseURL, cfg.SearchBearerToken, http.DefaultClient)
	}
	return search.NewRateLimitedProvider(base, limiter)
}

func buildDedupeStore(cfg config.Config, log *logging.Logger) (ticks.DedupeStore, func()) {
	if cfg.RateLimitRedisAddr == "" {
		return nil, nil
	}
	store, err := ticks.NewRedisDedupeStore(cfg.RateLimitRedisAddr)
	if err != nil {
		log.Warn().Err(err).Msg("redis dedupe store unavailable, falling back to in-process dedup only")
		return nil, nil
	}
	return store, func() { _ = store.Close() }
}
