// Package main seeds the reference catalog from the SRD rules API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/thinhdabezt/hexbound-vtt/internal/catalog"
	"github.com/thinhdabezt/hexbound-vtt/internal/catalog/srd"
	"github.com/thinhdabezt/hexbound-vtt/internal/config"
	"github.com/thinhdabezt/hexbound-vtt/internal/observability"
	"github.com/thinhdabezt/hexbound-vtt/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	limit := flag.Int("limit", -1, "entries per kind to fetch; -1 uses catalog.seed_limit, 0 fetches all")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall import deadline")
	flag.Parse()

	v, err := config.NewViper(*configPath)
	if err != nil {
		log.Fatalf("reading config: %v", err)
	}
	// The import always targets postgres, whatever the server's store.
	v.Set("combat.store", config.StorePostgres)
	cfg, err := config.LoadFromViper(v)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, "import-catalog")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	if *limit < 0 {
		*limit = cfg.Catalog.SeedLimit
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	defer pool.Close()

	feed, err := srd.NewClient(cfg.Catalog.FeedURL, cfg.Catalog.RequestTimeout)
	if err != nil {
		logger.Fatal("configuring feed", zap.Error(err))
	}

	seeder := catalog.NewSeeder(postgres.NewCatalogRepository(pool.DB()), feed, *limit, logger)
	rep, err := seeder.Seed(ctx)
	if err != nil {
		logger.Fatal("seeding catalog", zap.Error(err))
	}

	fmt.Fprintf(os.Stdout, "imported %d monsters and %d spells (%d failed) [%s]\n",
		rep.MonstersAdded, rep.SpellsAdded, rep.Failed, time.Since(start).Round(time.Millisecond))
}
