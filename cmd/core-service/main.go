package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fanarena/fanbet-core/internal/betstore"
	chttp "github.com/fanarena/fanbet-core/internal/core-service/http"
	"github.com/fanarena/fanbet-core/internal/ledger"
	"github.com/fanarena/fanbet-core/internal/matchstore"
	"github.com/fanarena/fanbet-core/internal/oddscache"
	"github.com/fanarena/fanbet-core/internal/rating"
	"github.com/fanarena/fanbet-core/internal/settlement"
	kpub "github.com/fanarena/fanbet-core/internal/settlement/producer"
	"github.com/fanarena/fanbet-core/internal/shared/cache"
	"github.com/fanarena/fanbet-core/internal/shared/config"
	"github.com/fanarena/fanbet-core/internal/shared/db"
	"github.com/fanarena/fanbet-core/internal/shared/kafka"
	"github.com/fanarena/fanbet-core/internal/shared/logger"
)

func main() {
	cfg := config.Load()
	log, _ := logger.New(cfg.ServiceName, cfg.Env)
	defer log.Sync()

	// Postgres
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg", zap.Error(err))
	}
	defer pg.Close()

	// Redis
	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis", zap.Error(err))
	}

	// Kafka writer (topic bet_settled, usado pelos endpoints de admin)
	writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetSettled)
	defer writer.Close()

	// deps
	bets := betstore.NewPostgres(pg)
	wallet := ledger.NewPostgres(pg)
	matches := matchstore.NewPostgres(pg)
	board := rating.NewPostgres(pg)
	odds := oddscache.NewSource(rdb, pg, 24*time.Hour)
	publ := kpub.NewKafkaPublisher(writer, cfg.TopicBetSettled)

	// O motor de liquidação dos endpoints de admin é o mesmo do worker;
	// o registro por partida garante convergência entre os dois gatilhos
	engine := settlement.NewEngine(log, bets, wallet, matches, board, publ)

	// HTTP público
	api := chttp.NewServer(log, bets, wallet, odds, engine, board, matches)
	apiSrv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: api.Router(),
	}

	// metrics/health
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pg.PingContext(r.Context()); err != nil {
			http.Error(w, "pg", http.StatusServiceUnavailable)
			return
		}
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	go func() {
		addr := fmt.Sprintf(":%s", cfg.MetricsPort)
		log.Info("metrics/health", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, metricsMux)
	}()

	log.Info("core-service listening", zap.String("addr", fmt.Sprintf(":%s", cfg.HTTPPort)))
	if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("api", zap.Error(err))
	}
}
