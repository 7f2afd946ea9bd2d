// Package main runs the encounter server: the WebSocket gateway, its HTTP API,
// and a gRPC health endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/thinhdabezt/hexbound-vtt/internal/auth"
	"github.com/thinhdabezt/hexbound-vtt/internal/catalog"
	"github.com/thinhdabezt/hexbound-vtt/internal/catalog/srd"
	"github.com/thinhdabezt/hexbound-vtt/internal/config"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/condition"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/dice"
	"github.com/thinhdabezt/hexbound-vtt/internal/game/encounter"
	"github.com/thinhdabezt/hexbound-vtt/internal/gateway"
	"github.com/thinhdabezt/hexbound-vtt/internal/observability"
	"github.com/thinhdabezt/hexbound-vtt/internal/server"
	"github.com/thinhdabezt/hexbound-vtt/internal/storage"
	"github.com/thinhdabezt/hexbound-vtt/internal/storage/memory"
	"github.com/thinhdabezt/hexbound-vtt/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Name)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	lifecycle := server.NewLifecycle(logger, cfg.Server.ShutdownTimeout)

	var (
		store storage.Store
		repo  catalog.Repository
		pool  *postgres.Pool
	)
	switch cfg.Combat.Store {
	case config.StorePostgres:
		dbStart := time.Now()
		pool, err = postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		store = postgres.NewStore(pool.DB())
		repo = postgres.NewCatalogRepository(pool.DB())
	default:
		store = memory.New()
		repo = catalog.NewMemoryRepository()
		logger.Warn("using in-memory store; encounter state is lost on restart")
	}
	store = storage.WithTimeout(store, cfg.Combat.StoreTimeout)

	roller := dice.NewLoggedRoller(dice.NewCryptoSource(), logger)
	hub := gateway.NewHub(logger.Named("hub"))
	engine := encounter.NewEngine(store, condition.Standard(), roller, hub, encounter.Options{
		DefaultSpeed: cfg.Combat.DefaultSpeed,
		TurnTimeout:  cfg.Combat.TurnTimeout,
	}, logger.Named("encounter"))

	var authn *auth.Authenticator
	if cfg.Auth.Enabled {
		authn, err = auth.New(cfg.Auth)
		if err != nil {
			logger.Fatal("configuring auth", zap.Error(err))
		}
		logger.Info("auth enabled", zap.Int("users", len(cfg.Auth.Users)))
	}

	gw := gateway.NewServer(cfg.Gateway, engine, hub, authn, repo, logger.Named("gateway"))
	lifecycle.Add("gateway", server.HTTPService(gw.HTTPServer(), cfg.Server.ShutdownTimeout))

	healthSrv := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	lifecycle.Add("health", server.GRPCService(grpcServer, cfg.Health.Addr()))

	if pool != nil {
		done := make(chan struct{})
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: func() error {
				ticker := time.NewTicker(30 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return nil
					case <-ticker.C:
						status := healthpb.HealthCheckResponse_SERVING
						if err := pool.Health(ctx, 5*time.Second); err != nil {
							logger.Warn("database health check failed", zap.Error(err))
							status = healthpb.HealthCheckResponse_NOT_SERVING
						}
						healthSrv.SetServingStatus("", status)
					}
				}
			},
			StopFn: func() {
				close(done)
				pool.Close()
			},
		})
	}

	if cfg.Catalog.SeedOnStart {
		feed, err := srd.NewClient(cfg.Catalog.FeedURL, cfg.Catalog.RequestTimeout)
		if err != nil {
			logger.Fatal("configuring catalog feed", zap.Error(err))
		}
		seeder := catalog.NewSeeder(repo, feed, cfg.Catalog.SeedLimit, logger.Named("catalog"))
		seedCtx, cancelSeed := context.WithCancel(ctx)
		lifecycle.Add("catalog-seeder", &server.FuncService{
			StartFn: func() error {
				if _, err := seeder.Seed(seedCtx); err != nil && seedCtx.Err() == nil {
					logger.Warn("catalog seeding failed", zap.Error(err))
				}
				<-seedCtx.Done()
				return nil
			},
			StopFn: cancelSeed,
		})
	}

	lifecycle.Add("encounters", &server.FuncService{
		StartFn: func() error { return nil },
		StopFn:  engine.Close,
	})

	logger.Info("game server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("gateway_addr", cfg.Gateway.Addr()),
		zap.String("health_addr", cfg.Health.Addr()),
		zap.String("store", cfg.Combat.Store),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
