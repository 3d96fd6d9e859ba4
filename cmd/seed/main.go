// Seeds the plan catalog. Idempotent: plans are upserted by id.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"

	"vpn-subscription-shop/internal/config"
	"vpn-subscription-shop/internal/domain/model"
	pg "vpn-subscription-shop/internal/infra/db/postgres"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	pool, err := pg.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	plans := pg.NewPlanRepo(pool)
	now := time.Now()

	catalog := []*model.Plan{
		{ID: uuid.NewString(), Name: "Bronze 20GB / 30d", DataLimitGB: 20, DurationDays: 30, PriceIRR: 700000, CreatedAt: now},
		{ID: uuid.NewString(), Name: "Silver 50GB / 30d", DataLimitGB: 50, DurationDays: 30, PriceIRR: 1500000, CreatedAt: now},
		{ID: uuid.NewString(), Name: "Gold 100GB / 90d", DataLimitGB: 100, DurationDays: 90, PriceIRR: 3900000, CreatedAt: now},
		{ID: uuid.NewString(), Name: "Trial 2GB / 1d", DataLimitGB: 2, DurationDays: 1, PriceIRR: 0, TestPlan: true, CreatedAt: now},
	}

	// Re-running must not duplicate rows. Keep existing plans; insert only
	// what is missing by name.
	existing, err := plans.List(ctx, nil)
	if err != nil {
		log.Fatalf("list plans: %v", err)
	}
	have := map[string]bool{}
	for _, p := range existing {
		have[p.Name] = true
	}

	for _, p := range catalog {
		if have[p.Name] {
			log.Printf("plan %q already present, skipping", p.Name)
			continue
		}
		if err := plans.Save(ctx, nil, p); err != nil {
			log.Fatalf("save plan %q: %v", p.Name, err)
		}
		log.Printf("seeded plan %q", p.Name)
	}
}
