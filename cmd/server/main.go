package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/honeynil/upi-crypto-offramp/internal/api"
	"github.com/honeynil/upi-crypto-offramp/internal/config"
	"github.com/honeynil/upi-crypto-offramp/internal/handler"
	"github.com/honeynil/upi-crypto-offramp/internal/infrastructure/kafka"
	"github.com/honeynil/upi-crypto-offramp/internal/infrastructure/onmeta"
	"github.com/honeynil/upi-crypto-offramp/internal/infrastructure/redis"
	"github.com/honeynil/upi-crypto-offramp/internal/models"
	"github.com/honeynil/upi-crypto-offramp/internal/notify"
	"github.com/honeynil/upi-crypto-offramp/internal/observability"
	"github.com/honeynil/upi-crypto-offramp/internal/repository"
	"github.com/honeynil/upi-crypto-offramp/internal/repository/cache"
	"github.com/honeynil/upi-crypto-offramp/internal/repository/memory"
	core "github.com/honeynil/upi-crypto-offramp/internal/repository/postgres"
	service "github.com/honeynil/upi-crypto-offramp/internal/services"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Инициализируем логи, метрики, трейсы
	shutdownTracing, metricsHandler, err := observability.Setup(ctx, "upi-offramp", cfg)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	transactions, rates, closeStore, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.RedisAddr != "" {
		redisClient, err := redis.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		rates = cache.NewRateCache(rates, redisClient, cfg.RateCacheTTL)
	}

	for _, seed := range cfg.SeedRates {
		if _, err := rates.Upsert(ctx, models.NewCurrencyPair(seed.From, seed.To), seed.Rate); err != nil {
			return fmt.Errorf("failed to seed rate %s/%s: %w", seed.From, seed.To, err)
		}
	}

	hub := notify.NewHub()
	var publisher service.EventPublisher = hub
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		publisher = kafka.NewEventPublisher(producer)

		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, hub)
		defer consumer.Close()
		go consumer.Consume(ctx)
		slog.Info("events fan out through Kafka", "topic", cfg.KafkaTopic, "group_id", cfg.KafkaGroupID)
	}

	provider := onmeta.NewClient(cfg.OnmetaBaseURL, cfg.OnmetaAPIKey, cfg.ForwardedFor, cfg.ProviderTimeout)
	svc := service.NewPaymentService(transactions, rates, provider, publisher, cfg.WebhookURL())

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.SetupRouter(handler.NewHandler(svc), notify.ServeWS(hub), metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.HTTPAddr, "webhook_url", cfg.WebhookURL())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

func openStores(ctx context.Context, cfg *config.Config) (repository.TransactionRepository, repository.RateRepository, func(), error) {
	if cfg.StoreDriver != config.StorePostgres {
		slog.Info("using in-memory stores")
		return memory.NewTransactionStore(), memory.NewRateStore(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := core.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	slog.Info("using postgres stores")
	closeDB := func() {
		if err := db.Close(); err != nil {
			slog.Error("failed to close postgres", "error", err)
		}
	}
	return core.NewPostgresTransactionRepository(db), core.NewPostgresRateRepository(db), closeDB, nil
}
