// Command migrate applies the database schema.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("[Migrate] Config: %v", err)
	}

	store, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatalf("[Migrate] Database: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("[Migrate] %v", err)
	}
	log.Println("[Migrate] Schema applied")
}
