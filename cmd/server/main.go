// Command server runs the management API for the outreach engine.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-engine/internal/api"
	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/notify"
	"github.com/ignite/outreach-engine/internal/queue"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
	"github.com/ignite/outreach-engine/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("[Server] Config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatalf("[Server] Database: %v", err)
	}
	defer store.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("[Server] Redis: %v", err)
	}
	defer redisClient.Close()

	q := queue.NewRedisQueue(redisClient)
	notifier := notify.NewRedisNotifier(redisClient)
	followUps := worker.NewFollowUpService(store, q, notifier)

	srv := api.NewServer(store, q, followUps)

	log.Printf("[Server] ===== Outreach engine API on %s:%d =====", cfg.Server.Host, cfg.Server.Port)
	if err := srv.ListenAndServe(ctx, cfg.Server.Host, cfg.Server.Port); err != nil {
		log.Fatalf("[Server] %v", err)
	}
	log.Println("[Server] Shutdown complete")
}
