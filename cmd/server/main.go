package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/stellune/credits-service/internal/api"
	"github.com/stellune/credits-service/internal/config"
	"github.com/stellune/credits-service/internal/infrastructure/kafka"
	"github.com/stellune/credits-service/internal/infrastructure/observability"
	"github.com/stellune/credits-service/internal/lock"
	service "github.com/stellune/credits-service/internal/services"
	"github.com/stellune/credits-service/internal/store"
	"github.com/stellune/credits-service/internal/store/filestore"
	pgstore "github.com/stellune/credits-service/internal/store/postgres"
	"github.com/stellune/credits-service/internal/store/redisstore"
)

func main() {
	shutdown, metricsHandler := observability.Setup("credits-service")
	defer shutdown(context.Background())

	cfg := config.Load()

	var (
		st     store.Store
		locker lock.Locker
	)
	switch cfg.StoreBackend {
	case "file":
		// Single-process deployment: sequential handling suffices, no
		// distributed lock needed.
		fs, err := filestore.New(cfg.DataDir)
		if err != nil {
			log.Fatalf("Failed to open file store: %v", err)
		}
		st = fs
		locker = lock.NewLocalLocker(cfg.LockTimeout)
	case "redis":
		rs, err := redisstore.New(cfg.RedisAddr)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		st = rs
		locker = lock.NewRedisLocker(newRedisClient(cfg.RedisAddr), cfg.LockTTL, cfg.LockTimeout)
	case "postgres":
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		ps := pgstore.New(db)
		if err := ps.Migrate(context.Background()); err != nil {
			log.Fatalf("Failed to migrate Postgres schema: %v", err)
		}
		st = ps
		// Cross-instance exclusion still runs through Redis.
		locker = lock.NewRedisLocker(newRedisClient(cfg.RedisAddr), cfg.LockTTL, cfg.LockTimeout)
	default:
		log.Fatalf("Unknown store backend %q", cfg.StoreBackend)
	}
	defer st.Close()
	defer locker.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers, "credit-events")
	defer producer.Close()

	svc := service.NewCreditService(st, locker, producer, service.Options{
		InviterReward: cfg.InviterReward,
		InviteeReward: cfg.InviteeReward,
	})

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	consumer := kafka.NewConsumer(cfg.KafkaBrokers, "payment-confirmations", "credits-service", svc)
	go consumer.Consume(consumerCtx)
	defer consumer.Close()
	defer cancelConsumer()

	router := api.SetupRouter(svc, metricsHandler)
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}

func newRedisClient(addr string) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	return client
}
