package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-service/internal/audit"
	"github.com/kjstillabower/forecast-service/internal/config"
	"github.com/kjstillabower/forecast-service/internal/observability"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	conn := dialBroker(cfg, logger)
	defer func() { _ = conn.Close() }()

	consumer := audit.NewConsumer(conn, audit.ConsumerConfig{
		Queue:    cfg.AuditQueue,
		Tag:      cfg.ConsumerTag,
		Prefetch: cfg.ConsumerPrefetch,
	}, audit.NewLogRecorder(logger), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.Start(ctx); err != nil {
		logger.Fatal("consumer start", zap.Error(err))
	}

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := consumer.Stop(stopCtx); err != nil {
		logger.Error("consumer stop", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// dialBroker retries the connection a bounded number of times. Unlike the web
// service, the consumer has no degraded mode without a broker, so exhausting
// the attempts is fatal.
func dialBroker(cfg *config.Config, logger *zap.Logger) *amqp.Connection {
	var lastErr error
	for attempt := 1; attempt <= cfg.BrokerConnectAttempts; attempt++ {
		conn, err := amqp.Dial(cfg.BrokerURL)
		if err == nil {
			return conn
		}
		lastErr = err
		logger.Warn("broker dial failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.BrokerConnectAttempts),
			zap.Error(err))
		if attempt < cfg.BrokerConnectAttempts {
			time.Sleep(cfg.BrokerConnectBackoff * time.Duration(attempt))
		}
	}
	logger.Fatal("broker unreachable", zap.Error(lastErr))
	return nil
}
