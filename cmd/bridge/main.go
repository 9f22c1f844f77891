package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/controlled-anonymity/client-go/internal/app"
	"github.com/controlled-anonymity/client-go/internal/config"
	"github.com/controlled-anonymity/client-go/internal/handler"
	"github.com/controlled-anonymity/client-go/internal/jobs"
	"github.com/controlled-anonymity/client-go/internal/middleware"
	"github.com/controlled-anonymity/client-go/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start client runtime")
	}
	defer rt.Close()

	machineDone := make(chan struct{})
	go func() {
		defer close(machineDone)
		rt.Session.Run(ctx)
	}()

	broker := sse.NewBroker()
	defer broker.Close()
	unsubscribeBroker := rt.Session.Subscribe(broker)
	defer unsubscribeBroker()

	completionJob := jobs.NewChatCompletionJob(rt.API)
	completionJob.Start()
	defer completionJob.Stop()
	unsubscribeJob := rt.Session.Subscribe(completionJob)
	defer unsubscribeJob()

	authMiddleware := middleware.NewAuthMiddleware(cfg.BridgeTokenHash)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(config.MaxBodySize, config.MaxUploadSize)
	sendLimitMiddleware := middleware.NewRateLimitMiddleware("send", cfg.BridgeSendRatePerMin)

	if cfg.BridgeTokenHash == "" {
		log.Warn().Msg("BRIDGE_TOKEN_HASH not set: /v1 is open to every local process")
	}

	sessionHandler := handler.NewSessionHandler(rt.Session, rt.API, sendLimitMiddleware.Handler)
	eventsHandler := handler.NewEventsHandler(broker, rt.Session)
	accountHandler := handler.NewAccountHandler(rt.API)
	identityHandler := handler.NewIdentityHandler(rt.Identity, rt.Session)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		snap := rt.Session.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":       "ok",
			"phase":        snap.Phase,
			"reconnecting": snap.Reconnecting,
			"timestamp":    time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)

		// The stream outlives any request timeout.
		r.Get("/events", eventsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Mount("/identity", identityHandler.Routes())
			r.Mount("/account", accountHandler.Routes())
			r.Mount("/", sessionHandler.Routes())
		})
	})

	server := &http.Server{
		Addr:         cfg.BridgeAddr,
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.BridgeAddr).Msg("starting bridge")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down bridge")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	broker.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	<-machineDone

	log.Info().Msg("bridge stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
