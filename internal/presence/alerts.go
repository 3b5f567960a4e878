package presence

import (
	"slices"
	"sync"
	"time"
)

// Alert is raised when a present person stops being detected.
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Person    string    `json:"person"`
	Message   string    `json:"message"`
}

// AlertLog is an append-only, insertion-ordered record of alerts.
type AlertLog struct {
	mu     sync.RWMutex
	alerts []Alert
}

// NewAlertLog creates an empty log.
func NewAlertLog() *AlertLog {
	return &AlertLog{}
}

// Append adds an alert to the end of the log.
func (l *AlertLog) Append(a Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alerts = append(l.alerts, a)
}

// Recent returns the last limit alerts, oldest first.
// A non-positive limit, or one larger than the log, returns everything.
func (l *AlertLog) Recent(limit int) []Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := 0
	if limit > 0 && limit < len(l.alerts) {
		start = len(l.alerts) - limit
	}
	return slices.Clone(l.alerts[start:])
}

// Since returns the alerts appended at or after cursor together with the cursor to pass next time.
// Publishers use it to forward each alert exactly once.
func (l *AlertLog) Since(cursor int) ([]Alert, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(l.alerts) {
		return nil, len(l.alerts)
	}
	return slices.Clone(l.alerts[cursor:]), len(l.alerts)
}

// Len returns the number of alerts recorded.
func (l *AlertLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.alerts)
}
