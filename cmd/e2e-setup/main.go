package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/jackc/pgx/v4/pgxpool"

	"prompt-market-payments/internal/config"
	"prompt-market-payments/internal/infra/db/postgres"
	"prompt-market-payments/internal/infra/redis"
)

// This script sets up a clean, predictable database state for manual
// end-to-end testing against the PayPal sandbox.
func main() {
	ctx := context.Background()

	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	schemaPath := flag.String("schema", "deploy/postgres/init.sql", "path to the schema file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	pool, err := postgres.NewPgxPool(ctx, cfg.Database.URL, 5)
	if err != nil {
		log.Fatalf("postgres connection failed: %v", err)
	}
	defer pool.Close()

	log.Println("--- Starting E2E Environment Setup ---")

	log.Println("[1/4] Applying schema...")
	schema, err := os.ReadFile(*schemaPath)
	if err != nil {
		log.Fatalf("failed to read schema file: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	log.Println("[2/4] Wiping existing data...")
	_, err = pool.Exec(ctx, `
		TRUNCATE transactions, user_subscriptions, plans, webhook_events
		RESTART IDENTITY CASCADE;
	`)
	if err != nil {
		log.Fatalf("failed to truncate tables: %v", err)
	}

	log.Println("[3/4] Seeding plans...")
	seedPlans(ctx, pool)

	if cfg.Redis.URL != "" {
		log.Println("[4/4] Wiping Redis cache...")
		redisClient, err := redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisClient.Close()
		if err := redisClient.FlushDB(ctx); err != nil {
			log.Fatalf("failed to flush redis: %v", err)
		}
	} else {
		log.Println("[4/4] Redis not configured; skipping cache wipe")
	}

	log.Println("--- E2E Environment Setup Complete ---")
}

func seedPlans(ctx context.Context, pool *pgxpool.Pool) {
	const q = `
		INSERT INTO plans (id, name, price_cents, currency, is_lifetime, duration_days)
		VALUES
			('plan-starter',  'Starter',      999, 'USD', FALSE, 30),
			('plan-pro',      'Pro',         2999, 'USD', FALSE, 30),
			('plan-lifetime', 'Lifetime',   19900, 'USD', TRUE,  NULL);
	`
	if _, err := pool.Exec(ctx, q); err != nil {
		log.Printf("failed to seed plans: %v", err)
	}
}
