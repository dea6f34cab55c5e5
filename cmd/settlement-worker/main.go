package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fanarena/fanbet-core/internal/betstore"
	"github.com/fanarena/fanbet-core/internal/ledger"
	"github.com/fanarena/fanbet-core/internal/matchstore"
	"github.com/fanarena/fanbet-core/internal/oddscache"
	"github.com/fanarena/fanbet-core/internal/rating"
	"github.com/fanarena/fanbet-core/internal/settlement"
	"github.com/fanarena/fanbet-core/internal/settlement/consumer"
	kpub "github.com/fanarena/fanbet-core/internal/settlement/producer"
	sharedcache "github.com/fanarena/fanbet-core/internal/shared/cache"
	"github.com/fanarena/fanbet-core/internal/shared/config"
	"github.com/fanarena/fanbet-core/internal/shared/db"
	sharedkafka "github.com/fanarena/fanbet-core/internal/shared/kafka"
	"github.com/fanarena/fanbet-core/internal/shared/logger"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Inicializa dependências: Postgres e Redis
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	redisClient, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	// Kafka consumer: consome o feed de partidas (consumer group settlement-worker)
	reader := sharedkafka.NewReader(cfg.KafkaBrokers, cfg.TopicMatchResults, "settlement-worker")
	defer reader.Close()

	// Kafka producers: eventos bet_settled e DLQ do feed
	settledWriter := sharedkafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetSettled)
	defer settledWriter.Close()

	var dlqWriter *kafka.Writer
	if cfg.TopicMatchResultsDLQ != "" {
		dlqWriter = sharedkafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMatchResultsDLQ)
		defer dlqWriter.Close()
	}

	// Stores e motor de liquidação
	bets := betstore.NewPostgres(pg)
	wallet := ledger.NewPostgres(pg)
	matches := matchstore.NewPostgres(pg)
	board := rating.NewPostgres(pg)
	odds := oddscache.NewSource(redisClient, pg, 24*time.Hour)
	publ := kpub.NewKafkaPublisher(settledWriter, cfg.TopicBetSettled)
	engine := settlement.NewEngine(log, bets, wallet, matches, board, publ)

	// Métricas Prometheus para monitoramento do processamento
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "settle_messages_consumed_total", Help: "mensagens consumidas do feed"})
	settledMatches := prometheus.NewCounter(prometheus.CounterOpts{Name: "settle_matches_processed_total", Help: "partidas processadas pelo motor"})
	betsSettled := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "settle_bets_settled_total", Help: "apostas liquidadas por status"}, []string{"status"})
	betsFailed := prometheus.NewCounter(prometheus.CounterOpts{Name: "settle_bets_failed_total", Help: "apostas em SETTLEMENT_FAILED aguardando retry"})
	finalized := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "settle_matches_finalized_total", Help: "partidas finalizadas por tipo"}, []string{"kind"})
	lockedMatches := prometheus.NewCounter(prometheus.CounterOpts{Name: "settle_matches_locked_total", Help: "partidas travadas pelo ticker de lock"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "settle_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(consumed, settledMatches, betsSettled, betsFailed, finalized, lockedMatches, errorsBy)

	engine.OnBetSettled = func(status string) { betsSettled.WithLabelValues(status).Inc() }
	engine.OnBetFailed = func() { betsFailed.Inc() }
	engine.OnMatchFinalized = func(kind string) { finalized.WithLabelValues(kind).Inc() }

	// Instancia o processor, conectando callbacks de métricas
	proc := &consumer.Processor{
		Log:        log,
		Reader:     reader,
		DLQ:        dlqWriter,
		Matches:    matches,
		Odds:       odds,
		Engine:     engine,
		OnConsumed: func() { consumed.Inc() },
		OnSettled:  func() { settledMatches.Inc() },
		OnError:    func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	// Servidor HTTP para métricas e health check
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
			defer cancel()
			if err := pg.PingContext(ctx); err != nil {
				http.Error(w, "pg", http.StatusServiceUnavailable)
				return
			}
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		addr := fmt.Sprintf(":%s", cfg.MetricsPort)
		log.Info("metrics/health listening", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, mux)
	}()

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Ticker de lock: partidas agendadas param de aceitar apostas quando
	// lock_at (kickoff) passa no relógio do banco
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := matches.LockDue(ctx)
				if err != nil {
					log.Warn("lock due failed", zap.Error(err))
					errorsBy.WithLabelValues("lock").Inc()
					continue
				}
				if n > 0 {
					lockedMatches.Add(float64(n))
					log.Info("matches locked", zap.Int64("count", n))
				}
			}
		}
	}()

	log.Info("settlement-worker started", zap.String("consume", cfg.TopicMatchResults))
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("processor stopped with error", zap.Error(err))
	}
	log.Info("settlement-worker stopped")
}
