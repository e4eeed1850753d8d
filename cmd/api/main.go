package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/punchamoorthee/walletops/internal/api"
	"github.com/punchamoorthee/walletops/internal/auth"
	"github.com/punchamoorthee/walletops/internal/config"
	"github.com/punchamoorthee/walletops/internal/events"
	"github.com/punchamoorthee/walletops/internal/fraud"
	"github.com/punchamoorthee/walletops/internal/idempotency"
	"github.com/punchamoorthee/walletops/internal/offline"
	"github.com/punchamoorthee/walletops/internal/service"
	"github.com/punchamoorthee/walletops/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	ledgerStore, err := store.Open(ctx, cfg.DBDriver, cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to open %s store: %v", cfg.DBDriver, err)
	}
	defer ledgerStore.Close()

	if m, ok := ledgerStore.(store.Migrator); ok && cfg.IsDevelopment() {
		if err := m.Migrate(ctx); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
	}

	// Initialize Layers
	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		log.Printf("Publishing events to %v topic %s", cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	scorer := fraud.New(fraud.Options{
		ModelPath:   cfg.FraudModelPath,
		ModelURL:    cfg.FraudModelURL,
		Timeout:     cfg.FraudModelTimeout,
		LargeAmount: cfg.FraudLargeAmount,
	})
	transfers := service.NewTransferService(ledgerStore, fraud.NewGate(scorer, cfg.FraudThreshold), publisher)

	policy, err := offline.ParseFailurePolicy(cfg.OfflineFailurePolicy)
	if err != nil {
		log.Fatal(err)
	}
	queue := offline.NewQueue(ledgerStore, ledgerStore, transfers, policy)

	var idem api.Middleware
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Unable to reach redis at %s: %v", cfg.RedisAddr, err)
		}
		idem = idempotency.Middleware(rdb)
	}

	authn := auth.New(cfg.JWTSecret)
	handler := api.NewHandler(ledgerStore, transfers, queue)
	router := api.NewRouter(handler, authn.Middleware, idem)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (store=%s, env=%s)", cfg.Port, cfg.DBDriver, cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
}
