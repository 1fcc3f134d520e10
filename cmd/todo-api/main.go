package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/tariqx/todo-api/internal/app/todoapi"
	"github.com/tariqx/todo-api/internal/events"
	"github.com/tariqx/todo-api/internal/platform/config"
	"github.com/tariqx/todo-api/internal/platform/dbpool"
	"github.com/tariqx/todo-api/internal/platform/metrics"
	"github.com/tariqx/todo-api/internal/platform/natsutil"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	pool, err := dbpool.New(runCtx, cfg.DB.URL, dbpool.Settings{
		MinConns:          cfg.DB.MinConns,
		MaxConns:          cfg.DB.MaxConns,
		MaxConnLifetime:   cfg.DB.MaxConnLifetime,
		MaxConnIdleTime:   cfg.DB.MaxConnIdleTime,
		HealthCheckPeriod: cfg.DB.HealthCheckPeriod,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	repo := todoapi.NewPostgresRepository(pool)
	if err := waitForTodoSchema(runCtx, repo, 30*time.Second); err != nil {
		log.Fatal(err)
	}

	service := todoapi.NewService(repo)

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(runCtx, 3*time.Second)
		pingErr := rdb.Ping(pingCtx).Err()
		cancel()
		if pingErr != nil {
			log.Fatalf("redis ping failed: %v", pingErr)
		}
		service.Cache = todoapi.NewRedisListCache(rdb, cfg.Redis.TTL)
	}

	var natsClient *natsutil.Client
	if cfg.NATS.URL != "" {
		natsClient, err = natsutil.ConnectJetStreamWithRetry(cfg.NATS.URL, cfg.NATS.ConnectTimeout)
		if err != nil {
			log.Fatal(err)
		}
		defer natsClient.Close()
		publisher := natsutil.JetStreamPublisher{JS: natsClient.JS}
		service.Events = events.NewPublisher(publisher.Publish)
	}

	metrics.RegisterPool(pool)

	handler := todoapi.NewHandler(service, cfg.HTTP.AllowedOrigin)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := checkReadiness(r.Context(), pool, natsClient, rdb); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	fmt.Printf("Todo API listening on %s\n", cfg.HTTP.Addr)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatal(err)
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("todo-api graceful shutdown failed: %v", err)
	}
}

func waitForTodoSchema(ctx context.Context, repo *todoapi.PostgresRepository, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = repo.EnsureSchema(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		log.Printf("waiting for todos schema readiness: %v", lastErr)
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}

func checkReadiness(ctx context.Context, pool *pgxpool.Pool, natsClient *natsutil.Client, rdb *redis.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	if err := pool.Ping(checkCtx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	if natsClient != nil {
		if natsClient.Conn == nil || natsClient.Conn.Status() != nats.CONNECTED {
			return errors.New("nats is not connected")
		}
	}
	if rdb != nil {
		if err := rdb.Ping(checkCtx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
	}
	return nil
}
