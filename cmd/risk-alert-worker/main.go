package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/engine"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/ledger"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/rules"
	"github.com/radieske/lotto-limit-engine/internal/risk-alert-worker/consumer"
	"github.com/radieske/lotto-limit-engine/internal/risk-alert-worker/pubsub"
	"github.com/radieske/lotto-limit-engine/internal/shared/cache"
	"github.com/radieske/lotto-limit-engine/internal/shared/config"
	"github.com/radieske/lotto-limit-engine/internal/shared/db"
	"github.com/radieske/lotto-limit-engine/internal/shared/kafka"
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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// O worker lê o mesmo ledger do limit-service, então precisa do Postgres
	pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	redisClient, err := cache.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	repo, err := rules.NewPostgresRepository(ctx, pg)
	if err != nil {
		log.Fatal("rules repository", zap.Error(err))
	}
	ldg, err := ledger.NewPostgresLedger(ctx, pg, log, cfg.LedgerMaxRetries)
	if err != nil {
		log.Fatal("ledger", zap.Error(err))
	}

	// Só leitura: sem notifier, mas escuta as invalidações do limit-service
	store := rules.NewStore(repo, rules.NewCache(cfg.RuleCacheTTL), nil, log)
	rules.StartInvalidationListener(ctx, redisClient, cfg.RulesInvalidateChannel, "", store, log)
	eng := engine.New(log, store, ldg, nil, engine.NewMetrics(prometheus.DefaultRegisterer))

	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicStakesCommitted, "risk-alert-worker")
	defer reader.Close()
	alerts := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRiskAlerts)
	defer alerts.Close()
	dlq := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicStakesCommittedDLQ)
	defer dlq.Close()

	// Métricas Prometheus do processamento
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "risk_worker_messages_consumed_total", Help: "mensagens consumidas"})
	alertsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "risk_worker_alerts_total", Help: "alertas publicados por tipo"}, []string{"type"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "risk_worker_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(consumed, alertsBy, errorsBy)

	proc := &consumer.Processor{
		Log:         log,
		Reader:      reader,
		Risk:        eng,
		Alerts:      alerts,
		DLQ:         dlq,
		Broadcaster: pubsub.NewRedisBroadcaster(redisClient, cfg.RiskBroadcastChannel),
		OnConsumed:  func() { consumed.Inc() },
		OnAlert:     func(t string) { alertsBy.WithLabelValues(t).Inc() },
		OnError:     func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	msrv := metrics.StartMetricsServer(cfg.MetricsPort,
		pg.PingContext,
		func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	)
	defer msrv.Close()
	log.Info("metrics/health listening", zap.String("addr", msrv.Addr))

	log.Info("risk-alert-worker started", zap.String("topic", cfg.TopicStakesCommitted))
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("processor stopped with error", zap.Error(err))
	}
	log.Info("risk-alert-worker stopped")
}
