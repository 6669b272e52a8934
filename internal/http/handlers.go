package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-service/internal/lifecycle"
	"github.com/kjstillabower/forecast-service/internal/models"
	"github.com/kjstillabower/forecast-service/internal/userapi"
)

// ForecastResolver is the part of the forecast service the handlers need.
type ForecastResolver interface {
	Forecast(ctx context.Context, userID int) ([]models.ForecastDay, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker func(ctx context.Context) error

type Handler struct {
	resolver       ForecastResolver
	logger         *zap.Logger
	cacheCheck     HealthChecker
	brokerAttached bool
}

func NewHandler(resolver ForecastResolver, logger *zap.Logger, cacheCheck HealthChecker, brokerAttached bool) *Handler {
	return &Handler{
		resolver:       resolver,
		logger:         logger,
		cacheCheck:     cacheCheck,
		brokerAttached: brokerAttached,
	}
}

func (h *Handler) requestLogger(r *http.Request) *zap.Logger {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		return logger
	}
	return h.logger
}

// GetForecast handles GET /weatherforecast/{userId}.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	vars := mux.Vars(r)
	userID, err := strconv.Atoi(vars["userId"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid user id %q.", vars["userId"]))
		return
	}

	days, err := h.resolver.Forecast(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, userapi.ErrUserNotFound):
			writeError(w, http.StatusNotFound, fmt.Sprintf("User with id %d not found.", userID))
		case errors.Is(err, context.DeadlineExceeded):
			logger.Warn("forecast request timed out", zap.Int("user_id", userID))
			writeError(w, http.StatusGatewayTimeout, "Request timed out.")
		default:
			logger.Error("forecast request failed", zap.Int("user_id", userID), zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "Forecast temporarily unavailable.")
		}
		return
	}

	writeJSON(w, http.StatusOK, days)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// GetHealth handles GET /health. Reports shutting_down during drain so load
// balancers stop routing new traffic.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	if lifecycle.IsShuttingDown() {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "shutting_down"})
		return
	}

	checks := map[string]string{}
	status := "healthy"
	code := http.StatusOK

	if h.cacheCheck != nil {
		if err := h.cacheCheck(r.Context()); err != nil {
			checks["cache"] = "unreachable"
			status = "degraded"
		} else {
			checks["cache"] = "ok"
		}
	}

	if h.brokerAttached {
		checks["broker"] = "ok"
	} else {
		checks["broker"] = "detached"
		status = "degraded"
	}

	writeJSON(w, code, healthResponse{Status: status, Checks: checks})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}
