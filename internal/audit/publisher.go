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

// DefaultQueue is the audit queue shared by publisher and consumer.
const DefaultQueue = "forecast-requests"

// ErrPublisherDisabled is reported when no broker connection was available at
// startup. Publishes keep failing softly instead of crashing the request path.
var ErrPublisherDisabled = errors.New("audit publisher disabled: no broker connection")

// PublishResult is the outcome of one publish attempt. Audit delivery is
// best-effort: callers log a failed result but must never propagate it.
type PublishResult struct {
	Published bool
	Err       error
}

// publishChannel is the slice of amqp.Channel the publisher needs.
type publishChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes ForecastRequestedEvents to the audit queue. Each publish
// opens a short-lived channel, declares the queue (idempotent) and publishes
// to the default exchange with the queue name as routing key. Every failure is
// absorbed into the returned PublishResult.
type Publisher struct {
	openChannel func() (publishChannel, error)
	queue       string
	logger      *zap.Logger
}

// NewPublisher creates a Publisher on an established broker connection.
func NewPublisher(conn *amqp.Connection, queue string, logger *zap.Logger) *Publisher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Publisher{
		openChannel: func() (publishChannel, error) { return conn.Channel() },
		queue:       queue,
		logger:      logger,
	}
}

// NewDisabledPublisher creates a Publisher whose publishes always report
// PublishResult{Err: ErrPublisherDisabled}. Used when the broker was
// unreachable at startup so the forecast path can keep serving.
func NewDisabledPublisher(logger *zap.Logger) *Publisher {
	return &Publisher{logger: logger, queue: DefaultQueue}
}

// Publish serializes the event and hands it to the broker without requesting
// delivery confirmation. The returned result never carries a caller-visible
// failure mode beyond logging: audit availability must not couple to forecast
// availability.
func (p *Publisher) Publish(ctx context.Context, ev models.ForecastRequestedEvent) PublishResult {
	if p.openChannel == nil {
		return p.failed(ErrPublisherDisabled)
	}

	ch, err := p.openChannel()
	if err != nil {
		return p.failed(fmt.Errorf("open channel: %w", err))
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(p.queue, false, false, false, false, nil); err != nil {
		return p.failed(fmt.Errorf("declare queue %s: %w", p.queue, err))
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return p.failed(fmt.Errorf("encode event: %w", err))
	}

	err = ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   ev.Timestamp,
	})
	if err != nil {
		return p.failed(fmt.Errorf("publish to %s: %w", p.queue, err))
	}

	observability.AuditPublishTotal.WithLabelValues("published").Inc()
	if p.logger != nil {
		p.logger.Debug("audit event published",
			zap.String("queue", p.queue),
			zap.Int("user_id", ev.UserID),
			zap.String("location", ev.Location))
	}
	return PublishResult{Published: true}
}

func (p *Publisher) failed(err error) PublishResult {
	observability.AuditPublishTotal.WithLabelValues("failed").Inc()
	return PublishResult{Err: err}
}

// Enabled reports whether a broker connection backs this publisher.
// Health checks use it; the publish path does not branch on it.
func (p *Publisher) Enabled() bool {
	return p.openChannel != nil
}
