// Package types - Alerts as served by the dashboard backend.
//
// # Alert Lifecycle
//
// Alerts are created server-side and move from unread to read only when the
// client acknowledges them (PATCH /alerts/{id}/read or PUT /alerts/mark-all-read).
// The client never deletes an alert.
//
// # Example Payload
//
//	{
//	  "id": "4c1f...",
//	  "level": "CRITICAL",
//	  "title": "SYN flood",
//	  "message": "SYN flood detected from 203.0.113.7",
//	  "source": "ids-edge-01",
//	  "category": "ddos",
//	  "timestamp": "2025-03-01T10:15:00.123456",
//	  "read": false,
//	  "confidence": 0.93,
//	  "target_ip": "198.51.100.10",
//	  "target_port": 443,
//	  "detection_method": "rate_threshold"
//	}
package types

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// LEVEL
// =============================================================================

// Level is the severity of an alert.
type Level string

const (
	LevelCritical Level = "CRITICAL"
	LevelHigh     Level = "HIGH"
	LevelMedium   Level = "MEDIUM"
	LevelLow      Level = "LOW"
)

// ParseLevel reads a level case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToUpper(strings.TrimSpace(s))); l {
	case LevelCritical, LevelHigh, LevelMedium, LevelLow:
		return l, nil
	default:
		return "", fmt.Errorf("unknown alert level %q", s)
	}
}

// Urgent reports whether the level warrants the longer toast timeout.
func (l Level) Urgent() bool {
	return l == LevelCritical || l == LevelHigh
}

// =============================================================================
// ALERT
// =============================================================================

// Alert is a detection reported by the backend.
type Alert struct {
	ID        string `json:"id"`
	Level     string `json:"level"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Source    string `json:"source"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	Time      string `json:"time,omitempty"` // display string, ignored
	Read      bool   `json:"read"`

	// Optional detection details
	Confidence      *float64 `json:"confidence,omitempty"` // 0..1
	TargetIP        string   `json:"target_ip,omitempty"`
	TargetPort      *int     `json:"target_port,omitempty"`
	DetectionMethod string   `json:"detection_method,omitempty"`
}

// timestampLayouts are tried in order. Zone-less values are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 alert timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// ObservedAlert is an alert whose required fields have been validated.
type ObservedAlert struct {
	Alert
	Severity Level
	At       time.Time
}

// Observe validates the fields the notifier depends on.
// Alerts without an id, a known level or a parseable timestamp are rejected.
func (a Alert) Observe() (ObservedAlert, error) {
	if a.ID == "" {
		return ObservedAlert{}, fmt.Errorf("alert has no id")
	}
	level, err := ParseLevel(a.Level)
	if err != nil {
		return ObservedAlert{}, fmt.Errorf("alert %s: %w", a.ID, err)
	}
	at, err := ParseTimestamp(a.Timestamp)
	if err != nil {
		return ObservedAlert{}, fmt.Errorf("alert %s: %w", a.ID, err)
	}
	return ObservedAlert{Alert: a, Severity: level, At: at}, nil
}

// AlertStats is returned from GET /alerts/stats.
type AlertStats struct {
	TotalAlerts     int            `json:"total_alerts"`
	UnreadAlerts    int            `json:"unread_alerts"`
	RecentAlerts24h int            `json:"recent_alerts_24h"`
	LevelBreakdown  map[string]int `json:"level_breakdown"`
	Timestamp       string         `json:"timestamp,omitempty"`
}

// Count returns the number of alerts at level in the breakdown.
func (s AlertStats) Count(level Level) int {
	for k, n := range s.LevelBreakdown {
		if l, err := ParseLevel(k); err == nil && l == level {
			return n
		}
	}
	return 0
}

// =============================================================================
// NOTIFICATION
// =============================================================================

// NotificationEvent is emitted once per newly observed alert.
// It is consumed by the dispatcher and discarded after display.
type NotificationEvent struct {
	AlertID   string    `json:"alert_id"`
	Level     Level     `json:"level"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// NewNotificationEvent builds the event for an observed alert.
func NewNotificationEvent(a ObservedAlert, now time.Time) NotificationEvent {
	return NotificationEvent{
		AlertID:   a.ID,
		Level:     a.Severity,
		Title:     a.Title,
		Message:   a.Message,
		CreatedAt: now,
	}
}
