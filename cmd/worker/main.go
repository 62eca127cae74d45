// Command worker runs the outreach engine's job consumers: the campaign
// dispatcher, the per-contact message dispatcher, and the sequence step
// processor.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/leads"
	"github.com/ignite/outreach-engine/internal/notify"
	"github.com/ignite/outreach-engine/internal/pkg/distlock"
	"github.com/ignite/outreach-engine/internal/queue"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
	"github.com/ignite/outreach-engine/internal/sender"
	"github.com/ignite/outreach-engine/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("[Worker] Config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatalf("[Worker] Database: %v", err)
	}
	defer store.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("[Worker] Redis: %v", err)
	}
	defer redisClient.Close()

	q := queue.NewRedisQueue(redisClient)
	q.SetPollInterval(cfg.Workers.PollInterval())

	notifier := notify.NewRedisNotifier(redisClient)
	leadHook := leads.NewWebhookNotifier(cfg.Leads.WebhookURL, cfg.Leads.Timeout())
	snd := sender.NewHTTPSender(cfg.Provider.BaseURL, cfg.Provider.Timeout())
	locks := worker.LockFactory(func(key string) distlock.DistLock {
		return distlock.New(redisClient, store.DB(), key, 10*time.Minute)
	})

	dispatcher := worker.NewCampaignDispatcher(store, store, store, q, locks, leadHook, notifier)
	messages := worker.NewMessageDispatcher(store, store, store, store, snd, q, notifier)
	steps := worker.NewSequenceStepProcessor(store, store, store, store, store, snd, q, notifier)

	q.Consume(worker.JobTypeCampaignStart, cfg.Workers.CampaignConcurrency, dispatcher.Handle)
	q.Consume(worker.JobTypeMessageDispatch, cfg.Workers.DispatchConcurrency, messages.Handle)
	q.Consume(worker.JobTypeSequenceStep, cfg.Workers.SequenceConcurrency, steps.Handle)

	log.Println("[Worker] ===== Outreach engine worker starting =====")
	if err := q.Start(); err != nil {
		log.Fatalf("[Worker] %v", err)
	}

	<-ctx.Done()
	log.Println("[Worker] Shutting down...")
	q.Stop()

	campaigns, scheduled, failed := dispatcher.Stats()
	sent, sendFailed := messages.Stats()
	stepsSent, stepsFailed, completed := steps.Stats()
	log.Printf("[Worker] Campaigns dispatched: %d (contacts scheduled %d, failed %d)", campaigns, scheduled, failed)
	log.Printf("[Worker] Messages sent: %d, failed: %d", sent, sendFailed)
	log.Printf("[Worker] Sequence steps sent: %d, failed: %d, follow-ups completed: %d", stepsSent, stepsFailed, completed)
}
