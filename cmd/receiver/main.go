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
	"github.com/redis/go-redis/v9"

	"github.com/talentbridge-systems/crmsync/internal/breaker"
	"github.com/talentbridge-systems/crmsync/internal/config"
	"github.com/talentbridge-systems/crmsync/internal/dedupe"
	"github.com/talentbridge-systems/crmsync/internal/logging"
	"github.com/talentbridge-systems/crmsync/internal/messaging"
	"github.com/talentbridge-systems/crmsync/internal/receiver"
	"github.com/talentbridge-systems/crmsync/internal/repository"
	"github.com/talentbridge-systems/crmsync/internal/schema"
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
	natsCfg.Name = "crmsync-receiver"
	natsCfg.Logger = logger
	natsCfg.MaxReconnects = cfg.NATS.MaxReconnects
	natsCfg.ReconnectWait = cfg.NATS.ReconnectWait
	natsCfg.Timeout = cfg.NATS.Timeout

	js, err := messaging.NewJetStreamClient(natsCfg)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer js.Close()

	if _, err := js.CreateOrUpdateStream(context.Background(), messaging.EventsStream); err != nil {
		log.Fatalf("Failed to ensure events stream: %v", err)
	}

	svc := receiver.NewService(
		receiver.Config{Secret: cfg.Webhook.Secret, DedupeTTL: cfg.Webhook.DedupeTTL},
		registry, markers, repo, js, breakers, brCfg, logger,
	)
	handler := receiver.NewHandler(svc, breakers, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      receiver.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("webhook receiver listening",
			logging.Service("receiver"),
			"addr", srv.Addr,
			"schema_checksum", registry.Checksum(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down webhook receiver", logging.Service("receiver"))
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("webhook receiver stopped", logging.Service("receiver"))
}
