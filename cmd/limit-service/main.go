package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	reportcache "github.com/radieske/lotto-limit-engine/internal/limit-service/cache"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/engine"
	httpapi "github.com/radieske/lotto-limit-engine/internal/limit-service/http"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/ledger"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/producer"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/rules"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/ws"
	"github.com/radieske/lotto-limit-engine/internal/shared/cache"
	"github.com/radieske/lotto-limit-engine/internal/shared/config"
	"github.com/radieske/lotto-limit-engine/internal/shared/db"
	"github.com/radieske/lotto-limit-engine/internal/shared/logger"
	"github.com/radieske/lotto-limit-engine/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting service",
		zap.String("store_backend", cfg.StoreBackend),
		zap.Duration("rule_cache_ttl", cfg.RuleCacheTTL))

	var health []metrics.HealthFunc

	// Backend de regras e ledger
	var (
		repo rules.Repository
		ldg  ledger.Ledger
	)
	switch cfg.StoreBackend {
	case "postgres":
		pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()
		health = append(health, pg.PingContext)

		repo, ldg, err = postgresStores(ctx, pg, log, cfg.LedgerMaxRetries)
		if err != nil {
			log.Fatal("postgres schema", zap.Error(err))
		}
		log.Info("postgres connected")
	case "memory":
		repo, ldg = rules.NewMemoryRepository(), ledger.NewMemoryLedger()
	default:
		log.Fatal("unknown STORE_BACKEND", zap.String("store_backend", cfg.StoreBackend))
	}

	// Redis é opcional: sem ele não há invalidação entre instâncias nem alertas no WS
	instanceID := uuid.New().String()
	var notifier rules.Notifier
	redisClient, err := cache.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Warn("redis unavailable, running without broadcast", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
		notifier = rules.NewRedisNotifier(redisClient, cfg.RulesInvalidateChannel, instanceID)
		health = append(health, func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
		log.Info("redis connected")
	}

	store := rules.NewStore(repo, rules.NewCache(cfg.RuleCacheTTL), notifier, log)
	if cfg.RulesSeedFile != "" {
		seed, err := rules.LoadSeedFile(cfg.RulesSeedFile)
		if err != nil {
			log.Fatal("rules seed", zap.Error(err))
		}
		if err := rules.ApplySeed(ctx, store, seed); err != nil {
			log.Fatal("apply rules seed", zap.Error(err))
		}
		log.Info("rules seed applied", zap.String("file", cfg.RulesSeedFile))
	}

	publ := producer.NewKafkaPublisher(cfg.KafkaBrokers, cfg.TopicStakesCommitted, cfg.TopicOrderReversed, cfg.TopicRulesChanged)
	defer publ.Close()

	eng := engine.New(log, store, ldg, publ, engine.NewMetrics(prometheus.DefaultRegisterer))

	api := httpapi.NewServer(log, eng, nil)
	if redisClient != nil {
		rules.StartInvalidationListener(ctx, redisClient, cfg.RulesInvalidateChannel, instanceID, store, log)
		hub := ws.NewHub(log, func(*http.Request) bool { return true })
		ws.StartRedisSubscriber(ctx, redisClient, cfg.RiskBroadcastChannel, hub, log)
		api = httpapi.NewServer(log, eng, hub.HandleWS).WithReportCache(reportcache.New(redisClient, 3*time.Second))
	}

	// Servidor de métricas e health check
	msrv := metrics.StartMetricsServer(cfg.MetricsPort, health...)
	log.Info("metrics/health listening", zap.String("addr", msrv.Addr))

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	_ = srv.Shutdown(sctx)
	_ = msrv.Shutdown(sctx)
}

func postgresStores(ctx context.Context, pg *sql.DB, log *zap.Logger, retries int) (rules.Repository, ledger.Ledger, error) {
	repo, err := rules.NewPostgresRepository(ctx, pg)
	if err != nil {
		return nil, nil, err
	}
	ldg, err := ledger.NewPostgresLedger(ctx, pg, log, retries)
	if err != nil {
		return nil, nil, err
	}
	return repo, ldg, nil
}
