package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestMiddleware_ThroughHandler(t *testing.T) {
	handler := NewHandler(&mockResolver{days: fiveDays()}, zap.NewNop(), nil, true)

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/weatherforecast/{userId}", handler.GetForecast)

	req := httptest.NewRequest("GET", "/weatherforecast/7", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID header missing")
	}
}

func TestMiddleware_CorrelationIDPropagated(t *testing.T) {
	handler := NewHandler(&mockResolver{days: fiveDays()}, zap.NewNop(), nil, true)

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/weatherforecast/{userId}", handler.GetForecast)

	req := httptest.NewRequest("GET", "/weatherforecast/7", nil)
	req.Header.Set("X-Correlation-ID", "client-provided-id")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "client-provided-id" {
		t.Errorf("X-Correlation-ID = %q, want client-provided-id", got)
	}
}

func TestMiddleware_RateLimit(t *testing.T) {
	handler := NewHandler(&mockResolver{days: fiveDays()}, zap.NewNop(), nil, true)

	// Burst of 2, negligible refill: the third request in a row is denied.
	limiter := rate.NewLimiter(rate.Limit(0.001), 2)

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.Use(RateLimitMiddleware(limiter))
	router.HandleFunc("/weatherforecast/{userId}", handler.GetForecast)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/weatherforecast/7", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("first two codes = %v, want 200s", codes[:2])
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("third code = %d, want 429", codes[2])
	}
}

func TestMiddleware_RateLimitNilLimiter(t *testing.T) {
	handler := NewHandler(&mockResolver{days: fiveDays()}, zap.NewNop(), nil, true)

	router := mux.NewRouter()
	router.Use(RateLimitMiddleware(nil))
	router.HandleFunc("/weatherforecast/{userId}", handler.GetForecast)

	req := httptest.NewRequest("GET", "/weatherforecast/7", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestGetRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/weatherforecast/7", "/weatherforecast/{userId}"},
		{"/weatherforecast/abc", "/weatherforecast/{userId}"},
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/other", "/other"},
	}

	for _, tc := range tests {
		req := httptest.NewRequest("GET", tc.path, nil)
		if got := getRoute(req); got != tc.want {
			t.Errorf("getRoute(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
