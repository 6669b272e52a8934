package models

import (
	"fmt"
	"time"
)

// UserRecord is the read-only user projection returned by the user API.
type UserRecord struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Date is a calendar date (no time-of-day component). It marshals as
// "2006-01-02" so forecast payloads stay stable across time zones.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate truncates t to its calendar date.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("date must be a JSON string, got %s", s)
	}
	t, err := time.Parse("2006-01-02", s[1:len(s)-1])
	if err != nil {
		return fmt.Errorf("parse date: %w", err)
	}
	*d = NewDate(t)
	return nil
}

// ForecastDay is one day of a generated forecast. Immutable once generated;
// a forecast request always produces an ordered sequence of exactly five.
type ForecastDay struct {
	Date         Date   `json:"date"`
	TemperatureC int    `json:"temperatureC"`
	Summary      string `json:"summary"`
	Location     string `json:"location"`
	PreparedFor  string `json:"prepared_for"`
}

// ForecastRequestedEvent is the audit message published once per cache miss.
// Delivery is at-least-once with no dedup key; consumers tolerate repeats.
type ForecastRequestedEvent struct {
	UserID    int       `json:"userId"`
	Location  string    `json:"location"`
	Timestamp time.Time `json:"timestamp"`
}
