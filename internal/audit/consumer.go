package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-service/internal/models"
	"github.com/kjstillabower/forecast-service/internal/observability"
)

// consumeChannel is the slice of amqp.Channel the consumer needs.
type consumeChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// ConsumerConfig holds audit consumer parameters.
type ConsumerConfig struct {
	Queue    string
	Tag      string
	Prefetch int
}

// Consumer is the long-lived audit loop. Start declares the queue and
// subscribes with manual acknowledgment; each delivery is decoded, recorded
// and acked, or rejected without requeue when it cannot be processed.
// Auto-ack is deliberately never used: acknowledging before processing
// completes loses messages silently on processing failure.
type Consumer struct {
	conn     *amqp.Connection
	ch       consumeChannel
	cfg      ConsumerConfig
	recorder Recorder
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer creates a Consumer on an established broker connection.
func NewConsumer(conn *amqp.Connection, cfg ConsumerConfig, recorder Recorder, logger *zap.Logger) *Consumer {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Tag == "" {
		cfg.Tag = "forecast-audit-v1"
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 20
	}
	return &Consumer{
		conn:     conn,
		cfg:      cfg,
		recorder: recorder,
		logger:   logger,
	}
}

// Start declares the queue, registers the subscription and launches the
// receive loop. A failure here is fatal to the audit capability; callers
// decide whether the rest of the process keeps running.
func (c *Consumer) Start(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	return c.start(ctx, ch)
}

// start wires the loop onto an already opened channel.
func (c *Consumer) start(ctx context.Context, ch consumeChannel) error {
	if _, err := ch.QueueDeclare(c.cfg.Queue, false, false, false, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare queue %s: %w", c.cfg.Queue, err)
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.cfg.Queue, c.cfg.Tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("subscribe to %s: %w", c.cfg.Queue, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.ch = ch
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.loop(runCtx, deliveries)

	c.logger.Info("audit consumer started", zap.String("queue", c.cfg.Queue), zap.String("tag", c.cfg.Tag))
	return nil
}

// loop blocks on the next delivery and dispatches it synchronously, so a
// delivery in flight always finishes before the loop observes cancellation.
func (c *Consumer) loop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			if err := c.ch.Cancel(c.cfg.Tag, false); err != nil {
				c.logger.Warn("cancel subscription failed", zap.Error(err))
			}
			c.logger.Info("audit consumer stopping")
			return
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() == nil {
					c.logger.Error("audit deliveries channel closed unexpectedly")
				}
				return
			}
			c.process(d)
		}
	}
}

// process handles one delivery: decode, record, acknowledge. Malformed
// payloads and recording failures are rejected without requeue so a poison
// message cannot loop forever.
func (c *Consumer) process(d amqp.Delivery) {
	var ev models.ForecastRequestedEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.logger.Error("audit event decode failed",
			zap.ByteString("payload", d.Body),
			zap.Uint64("delivery_tag", d.DeliveryTag),
			zap.Error(err))
		c.reject(d)
		return
	}

	if err := c.recorder.Record(ev); err != nil {
		c.logger.Error("audit event record failed",
			zap.Int("user_id", ev.UserID),
			zap.String("location", ev.Location),
			zap.Error(err))
		c.reject(d)
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.Warn("ack failed", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
		return
	}
	observability.AuditEventsTotal.WithLabelValues("acked").Inc()
}

func (c *Consumer) reject(d amqp.Delivery) {
	if err := d.Nack(false, false); err != nil {
		c.logger.Warn("reject failed", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
	}
	observability.AuditEventsTotal.WithLabelValues("rejected").Inc()
}

// Stop halts the subscription, waits for any in-flight delivery to finish,
// then releases the channel. ctx bounds the wait.
func (c *Consumer) Stop(ctx context.Context) error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()

	select {
	case <-c.done:
	case <-ctx.Done():
		return fmt.Errorf("audit consumer drain: %w", ctx.Err())
	}

	if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close channel: %w", err)
	}
	return nil
}
