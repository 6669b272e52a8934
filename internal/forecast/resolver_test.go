package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/forecast-service/internal/audit"
	"github.com/kjstillabower/forecast-service/internal/models"
	"github.com/kjstillabower/forecast-service/internal/userapi"
)

type mockUserLookup struct {
	user  models.UserRecord
	err   error
	calls int
	mu    sync.Mutex
}

func (m *mockUserLookup) GetUser(ctx context.Context, id int) (models.UserRecord, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.user, m.err
}

type mockCache struct {
	data     map[string][]byte
	getErr   error
	setErr   error
	getCalls int
	setCalls int
	mu       sync.Mutex
}

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.setErr != nil {
		return m.setErr
	}
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = value
	return nil
}

type mockPublisher struct {
	result audit.PublishResult
	events []models.ForecastRequestedEvent
	mu     sync.Mutex
}

func (m *mockPublisher) Publish(ctx context.Context, ev models.ForecastRequestedEvent) audit.PublishResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.result
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

var testUser = models.UserRecord{ID: 7, Name: "Ada Lovelace", Location: "London"}

// TestResolver_Forecast_CacheHit verifies that a live cache entry is returned
// verbatim with no audit publication and no cache write.
func TestResolver_Forecast_CacheHit(t *testing.T) {
	cached := []models.ForecastDay{
		{Date: models.NewDate(time.Now().AddDate(0, 0, 1)), TemperatureC: 12, Summary: "Mild", Location: "London", PreparedFor: "Ada Lovelace"},
		{Date: models.NewDate(time.Now().AddDate(0, 0, 2)), TemperatureC: 3, Summary: "Chilly", Location: "London", PreparedFor: "Ada Lovelace"},
	}
	body, err := json.Marshal(cached)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}

	users := &mockUserLookup{user: testUser}
	cacheStore := &mockCache{data: map[string][]byte{CacheKey("London"): body}}
	publisher := &mockPublisher{result: audit.PublishResult{Published: true}}

	r := NewResolver(users, cacheStore, publisher, 10*time.Second, nil)
	got, err := r.Forecast(context.Background(), 7)
	if err != nil {
		t.Fatalf("Forecast returned error: %v", err)
	}

	if len(got) != len(cached) {
		t.Fatalf("got %d entries, want %d", len(got), len(cached))
	}
	for i := range got {
		if got[i] != cached[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], cached[i])
		}
	}
	if publisher.count() != 0 {
		t.Errorf("publisher called %d times on cache hit, want 0", publisher.count())
	}
	if cacheStore.setCalls != 0 {
		t.Errorf("cache Set called %d times on cache hit, want 0", cacheStore.setCalls)
	}
}

// TestResolver_Forecast_CacheMiss verifies the full miss path: one audit
// event, a five-day forecast starting tomorrow, and one cache write.
func TestResolver_Forecast_CacheMiss(t *testing.T) {
	users := &mockUserLookup{user: testUser}
	cacheStore := &mockCache{}
	publisher := &mockPublisher{result: audit.PublishResult{Published: true}}

	r := NewResolver(users, cacheStore, publisher, 10*time.Second, nil)

	before := time.Now().UTC()
	got, err := r.Forecast(context.Background(), 7)
	after := time.Now().UTC()
	if err != nil {
		t.Fatalf("Forecast returned error: %v", err)
	}

	if len(got) != 5 {
		t.Fatalf("got %d entries, want 5", len(got))
	}
	for i, day := range got {
		wantDate := models.NewDate(time.Now().AddDate(0, 0, i+1))
		if day.Date != wantDate {
			t.Errorf("entry %d date = %v, want %v", i, day.Date, wantDate)
		}
		if day.Location != "London" {
			t.Errorf("entry %d location = %q, want %q", i, day.Location, "London")
		}
		if day.PreparedFor != "Ada Lovelace" {
			t.Errorf("entry %d prepared for = %q, want %q", i, day.PreparedFor, "Ada Lovelace")
		}
	}

	if publisher.count() != 1 {
		t.Fatalf("publisher called %d times, want 1", publisher.count())
	}
	ev := publisher.events[0]
	if ev.UserID != 7 || ev.Location != "London" {
		t.Errorf("event = %+v, want userID 7 location London", ev)
	}
	if ev.Timestamp.Before(before) || ev.Timestamp.After(after) {
		t.Errorf("event timestamp %v outside [%v, %v]", ev.Timestamp, before, after)
	}
	if loc := ev.Timestamp.Location(); loc != time.UTC {
		t.Errorf("event timestamp zone = %v, want UTC", loc)
	}

	if cacheStore.setCalls != 1 {
		t.Fatalf("cache Set called %d times, want 1", cacheStore.setCalls)
	}
	stored, ok := cacheStore.data[CacheKey("London")]
	if !ok {
		t.Fatal("no cache entry written for London")
	}
	var roundtrip []models.ForecastDay
	if err := json.Unmarshal(stored, &roundtrip); err != nil {
		t.Fatalf("stored entry does not decode: %v", err)
	}
	if len(roundtrip) != 5 {
		t.Errorf("stored entry has %d days, want 5", len(roundtrip))
	}
}

// TestResolver_Forecast_UserNotFound verifies that an unknown user fails the
// request before the cache or the broker is ever touched.
func TestResolver_Forecast_UserNotFound(t *testing.T) {
	users := &mockUserLookup{err: fmt.Errorf("%w: id 99", userapi.ErrUserNotFound)}
	cacheStore := &mockCache{}
	publisher := &mockPublisher{result: audit.PublishResult{Published: true}}

	r := NewResolver(users, cacheStore, publisher, 10*time.Second, nil)
	_, err := r.Forecast(context.Background(), 99)
	if !errors.Is(err, userapi.ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}

	if cacheStore.getCalls != 0 || cacheStore.setCalls != 0 {
		t.Errorf("cache touched (%d gets, %d sets) for unknown user, want none", cacheStore.getCalls, cacheStore.setCalls)
	}
	if publisher.count() != 0 {
		t.Errorf("publisher called %d times for unknown user, want 0", publisher.count())
	}
}

// TestResolver_Forecast_PublishFailure verifies that a failed audit
// publication does not fail the forecast request.
func TestResolver_Forecast_PublishFailure(t *testing.T) {
	users := &mockUserLookup{user: testUser}
	cacheStore := &mockCache{}
	publisher := &mockPublisher{result: audit.PublishResult{Err: errors.New("broker gone")}}

	r := NewResolver(users, cacheStore, publisher, 10*time.Second, nil)
	got, err := r.Forecast(context.Background(), 7)
	if err != nil {
		t.Fatalf("Forecast returned error despite publish being best-effort: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d entries, want 5", len(got))
	}
	if cacheStore.setCalls != 1 {
		t.Errorf("cache Set called %d times, want 1", cacheStore.setCalls)
	}
}

// TestResolver_Forecast_CacheReadFailure verifies that a cache read error is
// treated as a miss instead of failing the request.
func TestResolver_Forecast_CacheReadFailure(t *testing.T) {
	users := &mockUserLookup{user: testUser}
	cacheStore := &mockCache{getErr: errors.New("connection refused")}
	publisher := &mockPublisher{result: audit.PublishResult{Published: true}}

	r := NewResolver(users, cacheStore, publisher, 10*time.Second, nil)
	got, err := r.Forecast(context.Background(), 7)
	if err != nil {
		t.Fatalf("Forecast returned error on cache failure: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d entries, want 5", len(got))
	}
	if publisher.count() != 1 {
		t.Errorf("publisher called %d times, want 1", publisher.count())
	}
}

// TestResolver_Forecast_CacheWriteFailure verifies that a failed write-back
// still returns the freshly generated forecast.
func TestResolver_Forecast_CacheWriteFailure(t *testing.T) {
	users := &mockUserLookup{user: testUser}
	cacheStore := &mockCache{setErr: errors.New("connection refused")}
	publisher := &mockPublisher{result: audit.PublishResult{Published: true}}

	r := NewResolver(users, cacheStore, publisher, 10*time.Second, nil)
	got, err := r.Forecast(context.Background(), 7)
	if err != nil {
		t.Fatalf("Forecast returned error on cache write failure: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d entries, want 5", len(got))
	}
}

// TestResolver_Forecast_CorruptCacheEntry verifies that an undecodable cache
// entry is treated as a miss and overwritten with a fresh forecast.
func TestResolver_Forecast_CorruptCacheEntry(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "not json", raw: []byte("{{{")},
		{name: "wrong shape", raw: []byte(`{"temperature": 12}`)},
		{name: "empty array", raw: []byte(`[]`)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			users := &mockUserLookup{user: testUser}
			cacheStore := &mockCache{data: map[string][]byte{CacheKey("London"): tc.raw}}
			publisher := &mockPublisher{result: audit.PublishResult{Published: true}}

			r := NewResolver(users, cacheStore, publisher, 10*time.Second, nil)
			got, err := r.Forecast(context.Background(), 7)
			if err != nil {
				t.Fatalf("Forecast returned error: %v", err)
			}
			if len(got) != 5 {
				t.Fatalf("got %d entries, want 5", len(got))
			}
			if publisher.count() != 1 {
				t.Errorf("publisher called %d times, want 1 (corrupt entry is a miss)", publisher.count())
			}
			if cacheStore.setCalls != 1 {
				t.Errorf("cache Set called %d times, want 1", cacheStore.setCalls)
			}
		})
	}
}

// TestResolver_Forecast_ConcurrentMisses verifies that simultaneous misses
// for the same location all complete successfully.
func TestResolver_Forecast_ConcurrentMisses(t *testing.T) {
	users := &mockUserLookup{user: testUser}
	cacheStore := &mockCache{}
	publisher := &mockPublisher{result: audit.PublishResult{Published: true}}

	r := NewResolver(users, cacheStore, publisher, 10*time.Second, nil)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			days, err := r.Forecast(context.Background(), 7)
			if err != nil {
				errs <- err
				return
			}
			if len(days) != 5 {
				errs <- fmt.Errorf("got %d entries, want 5", len(days))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Forecast: %v", err)
	}
}

// TestCacheKey pins the key format shared with external cache tooling.
func TestCacheKey(t *testing.T) {
	if got := CacheKey("London"); got != "forecast-London" {
		t.Fatalf("CacheKey(London) = %q, want %q", got, "forecast-London")
	}
	if got := CacheKey("New York"); got != "forecast-New York" {
		t.Fatalf("CacheKey(New York) = %q, want %q", got, "forecast-New York")
	}
}
