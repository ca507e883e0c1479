// Package main is the entry point for the messenger sync daemon.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fernwood-labs/messenger-sync/internal/config"
	"github.com/fernwood-labs/messenger-sync/internal/handler"
	"github.com/fernwood-labs/messenger-sync/internal/identity"
	"github.com/fernwood-labs/messenger-sync/internal/longpoll"
	"github.com/fernwood-labs/messenger-sync/internal/middleware"
	"github.com/fernwood-labs/messenger-sync/internal/notify"
	"github.com/fernwood-labs/messenger-sync/internal/remote"
	"github.com/fernwood-labs/messenger-sync/internal/store"
	"github.com/fernwood-labs/messenger-sync/internal/syncer"
	"github.com/fernwood-labs/messenger-sync/pkg/logger"
	"github.com/fernwood-labs/messenger-sync/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting sync daemon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "messenger-sync", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	if cfg.RemoteToken == "" {
		log.Error("REMOTE_ACCESS_TOKEN is required")
		os.Exit(1)
	}

	// Remote side: transport → gateway → batcher, one instance each,
	// explicitly owned here and injected everywhere.
	client, err := remote.NewClient(
		remote.StaticToken(cfg.RemoteToken),
		remote.WithBaseURL(cfg.RemoteBaseURL),
		remote.WithVersion(cfg.RemoteAPIVersion),
		remote.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
	)
	if err != nil {
		log.Error("failed to create remote client", zap.Error(err))
		os.Exit(1)
	}

	gateway := remote.NewGateway(client, remote.GatewayConfig{
		RequestDelay: cfg.RequestDelay,
		CacheTTL:     cfg.CacheTTL,
		QuotaBackoff: cfg.QuotaBackoff,
		QuotaRetries: cfg.QuotaRetries,
	}, log)

	batcher := remote.NewBatcher(ctx, gateway, remote.BatcherConfig{
		Window:  cfg.BatchWindow,
		MaxSize: cfg.BatchMaxSize,
	}, log)

	ids := identity.NewCache(batcher, log)
	gateway.RegisterScanner(ids.ScanPayload)

	st := store.New()

	var notifier notify.Notifier = notify.Nop{}
	if cfg.NotificationsEnabled {
		notifier = notify.NewStoreNotifier(st, log)
	}

	loop := longpoll.New(gateway, longpoll.Config{
		Wait:       cfg.LongPollWait,
		RetryDelay: cfg.LongPollRetryDelay,
	}, log)

	engine := syncer.New(gateway, batcher, ids, st, loop, notifier, log)
	go func() {
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("sync engine stopped", zap.Error(err))
		}
	}()

	// Local API: mint the per-launch session token the UI shell presents.
	secret := cfg.SessionSecret
	if secret == "" {
		secret = randomSecret()
	}
	token, err := middleware.MintSessionToken(secret, 24*time.Hour)
	if err != nil {
		log.Error("failed to mint session token", zap.Error(err))
		os.Exit(1)
	}
	if err := writeHandshake(cfg.HandshakeFile, token); err != nil {
		log.Error("failed to write handshake file", zap.Error(err))
		os.Exit(1)
	}

	healthHandler := handler.NewHealthHandler(loop)
	conversationHandler := handler.NewConversationHandler(st, log)
	messageHandler := handler.NewMessageHandler(st, engine, log)
	streamHandler := handler.NewStreamHandler(st, log)
	wsHandler := handler.NewWSHandler(st, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "app://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(secret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)

			r.Route("/{peerID}", func(r chi.Router) {
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
			})
		})

		r.Get("/stream", streamHandler.Stream)
		r.Get("/ws", wsHandler.Serve)
	})

	server := &http.Server{
		Addr:         "127.0.0.1:" + cfg.APIPort,
		Handler:      r,
		ReadTimeout:  cfg.APIReadTimeout,
		WriteTimeout: cfg.APIWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("local API listening", zap.String("port", cfg.APIPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("stopped")
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// writeHandshake publishes the session token for the UI shell. Defaults to a
// file next to the daemon when unconfigured.
func writeHandshake(path, token string) error {
	if path == "" {
		path = "syncd.handshake"
	}
	return os.WriteFile(path, []byte(token+"\n"), 0o600)
}
