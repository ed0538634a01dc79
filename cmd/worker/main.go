package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/talentbridge-systems/crmsync/internal/breaker"
	"github.com/talentbridge-systems/crmsync/internal/config"
	"github.com/talentbridge-systems/crmsync/internal/dedupe"
	"github.com/talentbridge-systems/crmsync/internal/dlq"
	"github.com/talentbridge-systems/crmsync/internal/httputil"
	"github.com/talentbridge-systems/crmsync/internal/logging"
	"github.com/talentbridge-systems/crmsync/internal/messaging"
	"github.com/talentbridge-systems/crmsync/internal/middleware"
	"github.com/talentbridge-systems/crmsync/internal/normalize"
	"github.com/talentbridge-systems/crmsync/internal/repository"
	"github.com/talentbridge-systems/crmsync/internal/schema"
	"github.com/talentbridge-systems/crmsync/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)

	connString := cfg.Database.Postgres.DSN()

	log.Println("Running database migrations...")
	m, err := migrate.New("file://migrations", connString)
	if err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	registry, err := schema.Load(cfg.Schema.Path, logger)
	if err != nil {
		log.Fatalf("Failed to load schema document: %v", err)
	}
	stopWatcher := registry.StartWatcher(cfg.Schema.ReloadInterval)
	defer stopWatcher()

	repo, err := repository.NewPostgresRepository(context.Background(), connString, registry)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer repo.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Failed to parse redis URL: %v", err)
	}
	redisOpts.MaxRetries = cfg.Redis.MaxRetries
	redisOpts.PoolSize = cfg.Redis.PoolSize
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	breakers := breaker.NewRegistry()
	brCfg := breaker.Config{
		Threshold:   cfg.Breaker.Threshold,
		Cooldown:    cfg.Breaker.Cooldown,
		CallTimeout: cfg.Breaker.CallTimeout,
		Logger:      logger,
	}

	markers := dedupe.NewGuardedStore(dedupe.NewRedisStore(redisClient), breakers, brCfg)
	defer markers.Close()

	natsCfg := messaging.DefaultConfig()
	natsCfg.URL = cfg.NATS.URL
	natsCfg.Name = "crmsync-worker"
	natsCfg.Logger = logger
	natsCfg.MaxReconnects = cfg.NATS.MaxReconnects
	natsCfg.ReconnectWait = cfg.NATS.ReconnectWait
	natsCfg.Timeout = cfg.NATS.Timeout

	js, err := messaging.NewJetStreamClient(natsCfg)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer js.Close()

	deadlq, err := dlq.New(context.Background(), js)
	if err != nil {
		log.Fatalf("Failed to create dead-letter queue: %v", err)
	}

	processor := worker.NewProcessor(
		repo,
		normalize.New(registry),
		markers,
		worker.OwnerPolicy{DefaultEmail: cfg.Owner.DefaultEmail, DefaultName: cfg.Owner.DefaultName},
		breakers, brCfg, logger,
	)

	consumerCfg := messaging.DefaultConsumerConfig(cfg.Worker.ConsumerName, "crm.events.>")
	consumerCfg.AckWait = cfg.Worker.AckWait
	consumerCfg.MaxDeliver = cfg.Worker.MaxDeliver
	consumerCfg.MaxAckPending = cfg.Worker.MaxAckPending

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	consumer := worker.NewConsumer(js, processor, deadlq, consumerCfg, logger)
	stopConsumer, err := consumer.Start(runCtx)
	if err != nil {
		log.Fatalf("Failed to start consumer: %v", err)
	}
	defer stopConsumer()

	sweeper := worker.NewSweeper(repo, js, worker.SweepConfig{
		Interval:   cfg.Worker.SweepInterval,
		MinAge:     cfg.Worker.SweepMinAge,
		BatchLimit: cfg.Worker.SweepBatch,
	}, logger)
	stopSweeper := sweeper.Start(runCtx)
	defer stopSweeper()

	// Observability surface: health, metrics, breaker admin.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !js.IsConnected() {
			httputil.WriteError(w, http.StatusServiceUnavailable, "nats disconnected")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /admin/breakers", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, breakers.Snapshots())
	})
	mux.HandleFunc("POST /admin/breakers/{name}/reset", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if err := breakers.Reset(name); err != nil {
			httputil.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"breaker": name, "state": "closed"})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.RequestID(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("sync worker listening",
			logging.Service("worker"),
			"addr", srv.Addr,
			"consumer", consumerCfg.Name,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down sync worker", logging.Service("worker"))
	stopRun()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("sync worker stopped", logging.Service("worker"))
}
