package audit

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-service/internal/models"
)

// Recorder receives successfully decoded audit events. A Record error is a
// processing failure: the consumer rejects the delivery without requeue.
type Recorder interface {
	Record(ev models.ForecastRequestedEvent) error
}

// LogRecorder records events to the audit log. Persistent audit storage is
// out of scope; the structured log line is the audit trail.
type LogRecorder struct {
	logger *zap.Logger
}

func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Record(ev models.ForecastRequestedEvent) error {
	r.logger.Info("audit: forecast requested",
		zap.Int("user_id", ev.UserID),
		zap.String("location", ev.Location),
		zap.Time("timestamp", ev.Timestamp))
	return nil
}

// MemoryRecorder keeps recorded events in memory. Useful in tests and for
// local inspection; never a durability mechanism.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []models.ForecastRequestedEvent
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(ev models.ForecastRequestedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *MemoryRecorder) Events() []models.ForecastRequestedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ForecastRequestedEvent, len(r.events))
	copy(out, r.events)
	return out
}
