package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fanarena/fanbet-core/internal/result-ingest/publisher"
	"github.com/fanarena/fanbet-core/internal/result-ingest/service"
	"github.com/fanarena/fanbet-core/internal/shared/config"
	"github.com/fanarena/fanbet-core/internal/shared/logger"
	"github.com/fanarena/fanbet-core/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("Kafka brokers", zap.String("brokers", cfg.KafkaBrokers))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Kafka Publisher
	pub := publisher.NewKafkaPublisher(
		strings.Split(cfg.KafkaBrokers, ","),
		cfg.TopicMatchResults,
		log,
	)
	defer pub.Close()

	// WS Client
	wsClient := &service.WSClient{
		URL:       cfg.FeedWSURL,
		Log:       log,
		Publisher: pub,
	}
	go wsClient.Start(ctx)

	// Metrics e health
	metrics.StartMetricsServer(cfg.MetricsPort, func(context.Context) error { return nil })
	log.Info("metrics/health listening", zap.String("port", cfg.MetricsPort))

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown signal received")
	cancel()
	time.Sleep(2 * time.Second)
}
