package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/revpipe/revpipe/internal/api"
	"github.com/revpipe/revpipe/internal/config"
	"github.com/revpipe/revpipe/internal/eventbus"
	"github.com/revpipe/revpipe/internal/odoo"
	"github.com/revpipe/revpipe/internal/pkg/distlock"
	"github.com/revpipe/revpipe/internal/pkg/logging"
	"github.com/revpipe/revpipe/internal/projection"
	"github.com/revpipe/revpipe/internal/query"
	"github.com/revpipe/revpipe/internal/repository/mongodb"
	syncsvc "github.com/revpipe/revpipe/internal/sync"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New("revpipe-server", cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	client, err := mongodb.Connect(connectCtx, cfg.Mongo.URI)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("mongo connect")
	}
	defer client.Disconnect(context.Background())

	db := client.Database(cfg.Mongo.Database)
	if err := mongodb.EnsureIndexes(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("ensure indexes")
	}

	events := mongodb.NewEventStore(db)
	raw := mongodb.NewRawStore(db)
	profiles := mongodb.NewUserProfileRepository(db)
	opps := mongodb.NewOpportunityViewRepository(db)
	acts := mongodb.NewActivityViewRepository(db)
	matrices := mongodb.NewAccessMatrixRepository(db)
	metrics := mongodb.NewDashboardMetricsRepository(db)
	jobs := mongodb.NewSyncJobRepository(db)

	bus := eventbus.New(log)
	engine := projection.NewEngine(bus, events, log)
	access := projection.NewAccessMatrices(matrices, profiles, opps, log)
	dashboard := projection.NewDashboardMetrics(metrics, profiles, opps, access, log)
	engine.Register(projection.NewUserProfiles(profiles, log))
	engine.Register(projection.NewOpportunityViews(opps, profiles, raw, log))
	engine.Register(projection.NewActivityViews(acts, opps, profiles, log))
	engine.Register(access)
	engine.Register(dashboard)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, falling back to mongo lease locks")
			redisClient.Close()
			redisClient = nil
		}
		pingCancel()
	}
	defer func() {
		if redisClient != nil {
			redisClient.Close()
		}
	}()

	odooClient := odoo.NewClient(odoo.Config{
		URL:      cfg.Odoo.URL,
		Database: cfg.Odoo.Database,
		Username: cfg.Odoo.Username,
		APIKey:   cfg.Odoo.APIKey,
		Timeout:  cfg.Odoo.Timeout(),
		PageSize: cfg.Odoo.PageSize,
	}, log)

	lock := distlock.NewLock(redisClient, db, "sync:odoo", cfg.Sync.Deadline())
	sync := syncsvc.NewService(odooClient, raw, events, bus, jobs, lock, syncsvc.Options{
		Workers:  cfg.Sync.Workers,
		Deadline: cfg.Sync.Deadline(),
	}, log)

	q := query.NewService(profiles, opps, acts, matrices, metrics, access, dashboard, log)

	probes := map[string]func(ctx context.Context) error{
		"mongo": func(ctx context.Context) error { return client.Ping(ctx, nil) },
		"odoo":  odooClient.Authenticate,
	}
	if redisClient != nil {
		rdb := redisClient
		probes["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	health := api.NewHealthChecker(probes)

	server := api.NewServer(q, sync, jobs, engine, health, log)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Fatal().Err(err).Msg("server failed")
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}
