package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"reliefWs/internal/config"
	"reliefWs/internal/modules/alerts/application/handler"
	"reliefWs/internal/modules/alerts/application/port"
	"reliefWs/internal/modules/alerts/application/usecase"
	"reliefWs/internal/modules/alerts/infrastructure"
	transport "reliefWs/internal/modules/alerts/interface"
	"reliefWs/internal/platform/broker"
	platformredis "reliefWs/internal/platform/redis"
	"reliefWs/internal/shared/auth"
	"reliefWs/internal/shared/logging"
	"reliefWs/internal/shared/metrics"
)

type stores struct {
	notifications port.NotificationStore
	crpf          port.CrpfStore
	audience      port.AudienceDirectory
	health        func(context.Context) error
	close         func() error
}

func main() {
	// Local runs honour a .env file when present.
	if err := godotenv.Overload(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, ".env load warning: %v\n", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	writer, logFile, err := logging.OpenDaily(cfg.Logging.Directory, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup error: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	slog.SetDefault(logging.New(writer, logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: true,
	}))
	slog.Info("logging initialized", slog.String("directory", cfg.Logging.Directory), slog.String("level", cfg.Logging.Level), slog.String("format", cfg.Logging.Format))

	if err := run(cfg); err != nil {
		slog.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := openStores(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			slog.Warn("store close failed", slog.Any("error", err))
		}
	}()

	registry := infrastructure.NewRegistry(infrastructure.NewRouter(), m)
	dispatcher := usecase.NewDispatcher(registry, registry, st.notifications,
		usecase.WithAudience(st.audience),
		usecase.WithCrpfStore(st.crpf),
		usecase.WithMetrics(m),
		usecase.WithPublicFeedSize(cfg.Notifications.PublicFeedSize),
	)
	registry.OnDeregister(dispatcher.ReleaseConnection)

	var validator auth.TokenValidator
	if cfg.AuthConfigured() {
		v, err := auth.NewJWTValidator(cfg.Security.JWTSecret, cfg.Security.JWTPublicKey)
		if err != nil {
			return fmt.Errorf("jwt validator: %w", err)
		}
		validator = v
	} else {
		slog.Warn("no JWT key configured: every connection is anonymous")
	}
	if cfg.Security.InternalAPIKey == "" {
		slog.Warn("INTERNAL_API_KEY not set: POST /api/events is closed")
	}

	e := echo.New()
	e.HideBanner = true
	e.Logger.SetOutput(log.Writer())
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	transport.Register(e, transport.Deps{
		Connections:    usecase.NewConnectionUseCase(registry, registry, st.audience),
		Dispatcher:     dispatcher,
		Admin:          usecase.NewAdminUseCase(dispatcher),
		Crpf:           usecase.NewCrpfUseCase(st.crpf, dispatcher),
		Inbox:          usecase.NewInboxUseCase(st.notifications, cfg.Notifications.PublicFeedSize),
		Validator:      validator,
		InternalAPIKey: cfg.Security.InternalAPIKey,
		SendBuffer:     cfg.Websocket.SendBuffer,
		CommandTimeout: cfg.Websocket.CommandTimeout,
		Health:         st.health,
	})

	handlers := infrastructure.NewHandlerRegistry()
	for _, topic := range cfg.Kafka.Topics {
		handlers.Register(handler.NewDomainEventHandler(topic, dispatcher))
	}
	slog.Info("kafka config resolved", slog.Any("brokers", cfg.Kafka.Brokers), slog.String("group", cfg.Kafka.GroupID), slog.Any("topics", handlers.Topics()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", slog.String("port", cfg.Server.Port))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return broker.RunKafkaConsumers(gctx, handlers, cfg.Kafka.Brokers, cfg.Kafka.GroupID, handlers.Topics())
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		registry.Close()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStores selects Redis when a URL is configured and falls back to process memory otherwise.
func openStores(ctx context.Context, cfg config.RedisConfig) (stores, error) {
	client, err := platformredis.New(ctx, platformredis.Config{
		URL:          cfg.URL,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err != nil {
		return stores{}, fmt.Errorf("redis: %w", err)
	}
	if client == nil {
		slog.Warn("REDIS_URL not set: notifications are kept in memory")
		return stores{
			notifications: infrastructure.NewMemoryNotificationStore(),
			crpf:          infrastructure.NewMemoryCrpfStore(),
			audience:      infrastructure.NewMemoryAudience(),
			close:         func() error { return nil },
		}, nil
	}
	slog.Info("redis store connected")
	return stores{
		notifications: infrastructure.NewRedisNotificationStore(client.Client),
		crpf:          infrastructure.NewRedisCrpfStore(client.Client),
		audience:      infrastructure.NewRedisAudience(client.Client),
		health:        client.Health,
		close:         client.Close,
	}, nil
}
