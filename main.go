package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-sync/internal/config"
	"chat-sync/internal/conversations"
	"chat-sync/internal/db"
	"chat-sync/internal/handlers"
	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/remote"
	"chat-sync/internal/remote/memory"
	"chat-sync/internal/remote/postgres"
	"chat-sync/internal/session"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/ws"
)

func main() {
	configPath := flag.String("config", os.Getenv("CHAT_SYNC_CONFIG"), "path to an optional config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("load config")
	}
	log := observability.NewLogger(os.Stdout, cfg.App.Name, cfg.App.LogLevel, cfg.App.PrettyLogs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.App.Name, cfg.Tracing.Endpoint, log)
	if err != nil {
		log.Fatal().Err(err).Msg("setup tracing")
	}

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open remote store")
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.RoutingKey, cfg.App.Name, cfg.App.Environment, log)
	log.Info().Str("mode", rabbitmq.PublisherMode(publisher)).Msg("audit publisher ready")

	hub := ws.NewHub(log)
	opts := conversations.Options{
		Naming: conversations.Naming{
			MaxMembers:  cfg.Sync.MaxNameMembers,
			Budget:      cfg.Sync.NameBudget,
			Placeholder: cfg.Sync.Placeholder,
		},
		Concurrency: cfg.Sync.Concurrency,
	}
	sess := session.New(observability.InstrumentStore(store), cfg.App.UserID, opts, audit, hub, log)
	if err := sess.Start(ctx); err != nil {
		// The list stays empty until the next start; the HTTP surface still
		// serves health and metrics.
		log.Error().Err(err).Msg("session start failed")
	}

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.App.Name),
		middleware.RequestID(),
		observability.HTTPMetricsMiddleware(),
		observability.RequestLogger(log),
	)

	handlers.RegisterRoutes(router, handlers.NewConversationHandler(sess), handlers.NewMessageHandler(sess))
	router.GET("/ws", ws.NewHandler(hub).Handle)
	router.GET("/healthz", handlers.Health(cfg.App.UserID, sess.Started))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.App.UserID, cfg.App.Debug)

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Bool("memory_store", cfg.MemoryMode()).Msg("chat-sync listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	sess.Stop()
	if err := publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("close publisher")
	}
	if err := closeStore.Close(); err != nil {
		log.Warn().Err(err).Msg("close store")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown")
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// openStore connects to PostgreSQL, or runs on the in-memory store when no
// DSN is configured.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (remote.Store, io.Closer, error) {
	if cfg.MemoryMode() {
		backend := memory.New(log)
		backend.PutProfile(cfg.App.UserID, cfg.App.UserID, "")
		log.Warn().Msg("no database dsn, using in-memory store")
		return backend.Client(cfg.App.UserID), closerFunc(func() error {
			backend.Close()
			return nil
		}), nil
	}

	database, err := db.Connect(ctx, cfg.Database.DSN, log)
	if err != nil {
		return nil, nil, err
	}
	database.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	database.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	database.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	store := postgres.New(database, cfg.Database.DSN, cfg.App.UserID, log)
	return store, closerFunc(func() error {
		return errors.Join(store.Close(), database.Close())
	}), nil
}
