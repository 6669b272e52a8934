package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-service/internal/audit"
	"github.com/kjstillabower/forecast-service/internal/cache"
	"github.com/kjstillabower/forecast-service/internal/models"
	"github.com/kjstillabower/forecast-service/internal/observability"
	"github.com/kjstillabower/forecast-service/internal/userapi"
)

// AuditPublisher is the publish side of the audit channel as the resolver
// sees it: fire-and-forget, outcome reported but never raised.
type AuditPublisher interface {
	Publish(ctx context.Context, ev models.ForecastRequestedEvent) audit.PublishResult
}

// Resolver orchestrates a single forecast request: user lookup, cache check,
// audit publication, generation, cache population. Cache-aside with the cache
// as the authority for live entries.
type Resolver struct {
	users       userapi.UserLookup
	cache       cache.Cache
	publisher   AuditPublisher
	ttl         time.Duration
	logger      *zap.Logger
	missTracker *missTracker
}

// NewResolver creates a Resolver with the provided ports.
// ttl is the absolute expiration applied to cached forecasts.
func NewResolver(users userapi.UserLookup, cacheStore cache.Cache, publisher AuditPublisher, ttl time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		users:       users,
		cache:       cacheStore,
		publisher:   publisher,
		ttl:         ttl,
		logger:      logger,
		missTracker: newMissTracker(),
	}
}

// CacheKey returns the cache key for a location's forecast.
func CacheKey(location string) string {
	return "forecast-" + location
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns nil if logger is not found or context is invalid.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// Forecast resolves a five-day forecast for userID.
//
// An unknown user returns userapi.ErrUserNotFound before any cache or broker
// interaction. A live cache entry is returned verbatim. On a miss (including
// a hit that fails to deserialize) one audit event is published best-effort,
// a fresh forecast is generated and written back under a 10-second-class TTL.
// Cache and broker failures never fail the request; only the user lookup can.
func (r *Resolver) Forecast(ctx context.Context, userID int) ([]models.ForecastDay, error) {
	logger := loggerFromContext(ctx)
	if logger == nil {
		logger = r.logger
	}

	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	key := CacheKey(user.Location)

	raw, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
		ok = false
	}
	if ok {
		if days, decodeErr := decodeForecast(raw); decodeErr == nil {
			observability.CacheHitsTotal.Inc()
			logger.Debug("forecast cache hit", zap.String("location", user.Location))
			return days, nil
		} else {
			observability.CacheDecodeFailuresTotal.Inc()
			logger.Warn("cached forecast failed to decode, treating as miss",
				zap.String("key", key), zap.Error(decodeErr))
		}
	}

	observability.CacheMissesTotal.Inc()
	concurrent := r.missTracker.beginMiss(key)
	defer r.missTracker.endMiss(key)
	if concurrent > 1 {
		observability.ConcurrentMissesTotal.Inc()
		logger.Debug("concurrent cache miss", zap.String("key", key), zap.Int("in_progress", concurrent))
	}

	event := models.ForecastRequestedEvent{
		UserID:    user.ID,
		Location:  user.Location,
		Timestamp: time.Now().UTC(),
	}
	if res := r.publisher.Publish(ctx, event); !res.Published {
		// Audit is a non-critical side channel; the request continues.
		logger.Warn("audit publish failed",
			zap.Int("user_id", user.ID),
			zap.String("location", user.Location),
			zap.Error(res.Err))
	}

	days := Generate(user, time.Now())
	observability.ForecastsGeneratedTotal.Inc()

	body, err := json.Marshal(days)
	if err != nil {
		// Generated data always marshals; guard anyway so a future model
		// change cannot turn a cache write into a request failure.
		logger.Error("encode forecast for cache", zap.Error(err))
		return days, nil
	}
	if err := r.cache.Set(ctx, key, body, r.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}

	logger.Debug("forecast generated", zap.String("location", user.Location), zap.Int("days", len(days)))
	return days, nil
}

// decodeForecast deserializes a cached entry, rejecting empty sequences so a
// hollow cache value cannot masquerade as a forecast.
func decodeForecast(raw []byte) ([]models.ForecastDay, error) {
	var days []models.ForecastDay
	if err := json.Unmarshal(raw, &days); err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, errEmptyForecast
	}
	return days, nil
}

var errEmptyForecast = errors.New("cached forecast is empty")
