package presence

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Status is the presence state of a person.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

// record is the per-person presence state. Its fields are only written together under Tracker.mu.
type record struct {
	lastSeen time.Time
	camera   string
	status   Status
}

// accumulator tracks duration for one person.
// entryTime is the first sighting and is never reset on re-entry.
type accumulator struct {
	entryTime     time.Time
	totalDuration float64 // seconds
}

// PersonReport is the externally visible view of one person.
type PersonReport struct {
	Name              string    `json:"name"`
	LastSeen          time.Time `json:"last_seen"`
	Camera            string    `json:"camera"`
	Status            Status    `json:"status"`
	DurationSeconds   float64   `json:"duration_seconds"`
	DurationFormatted string    `json:"duration_formatted"`
}

// UpdateResult tells the caller what an Update changed.
type UpdateResult struct {
	FirstSeen      bool   // the name had never been seen before
	Returned       bool   // the person was absent and is present again
	CameraChanged  bool   // the person moved to a different camera (or was first seen)
	PreviousCamera string // camera before this update, empty on first sighting
}

// Tracker derives per-person presence from recognised detections and raises alerts on
// present -> absent transitions.
type Tracker struct {
	mu        sync.RWMutex
	records   map[string]*record
	durations map[string]*accumulator
	alerts    *AlertLog
	now       func() time.Time
	log       *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithAlertLog makes the tracker append to an existing log.
func WithAlertLog(l *AlertLog) Option {
	return func(t *Tracker) { t.alerts = l }
}

// NewTracker creates a tracker with no known persons.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		records:   make(map[string]*record),
		durations: make(map[string]*accumulator),
		alerts:    NewAlertLog(),
		now:       time.Now,
		log:       slog.With("component", "presence"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Alerts returns the log the tracker appends to.
func (t *Tracker) Alerts() *AlertLog {
	return t.alerts
}

// Update marks name as present on camera now.
func (t *Tracker) Update(name, camera string) UpdateResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var res UpdateResult

	rec, ok := t.records[name]
	if !ok {
		res.CameraChanged = true
		rec = &record{}
		t.records[name] = rec
	} else {
		res.PreviousCamera = rec.camera
		res.CameraChanged = rec.camera != camera
		res.Returned = rec.status == StatusAbsent
	}
	rec.lastSeen = now
	rec.camera = camera
	rec.status = StatusPresent

	if _, ok := t.durations[name]; !ok {
		res.FirstSeen = true
		t.durations[name] = &accumulator{entryTime: now}
	}

	if res.FirstSeen || res.Returned {
		t.log.Info("person present", "name", name, "camera", camera, "first_seen", res.FirstSeen)
	}
	return res
}

// Sweep demotes every present person not seen for more than threshold to absent and raises one
// alert per transition. Persons already absent are left alone. Returns the demoted names, sorted.
func (t *Tracker) Sweep(threshold time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var absent []string
	for name, rec := range t.records {
		if rec.status != StatusPresent {
			continue
		}
		if now.Sub(rec.lastSeen) > threshold {
			absent = append(absent, name)
		}
	}
	slices.Sort(absent)

	for _, name := range absent {
		rec := t.records[name]
		rec.status = StatusAbsent
		elapsed := now.Sub(rec.lastSeen).Seconds()
		msg := fmt.Sprintf("%s not detected for %.0f seconds", name, elapsed)
		t.alerts.Append(Alert{Timestamp: now, Person: name, Message: msg})
		t.log.Warn("person absent", "name", name, "camera", rec.camera, "elapsed_seconds", int(elapsed))
	}
	return absent
}

// Report returns the presence report for name, or false if the person has never been seen.
func (t *Tracker) Report(name string) (PersonReport, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.records[name]; !ok {
		return PersonReport{}, false
	}
	return t.report(name, t.now()), true
}

// SnapshotAll returns a report for every known person, sorted by name.
func (t *Tracker) SnapshotAll() []PersonReport {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	out := make([]PersonReport, 0, len(t.records))
	for name := range t.records {
		out = append(out, t.report(name, now))
	}
	slices.SortFunc(out, func(a, b PersonReport) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Restore seeds persons from persisted reports as absent, carrying their stored duration.
// Persons already known to the tracker are skipped. Returns how many were restored.
func (t *Tracker) Restore(reports []PersonReport) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, r := range reports {
		if _, ok := t.records[r.Name]; ok || r.Name == "" {
			continue
		}
		t.records[r.Name] = &record{
			lastSeen: r.LastSeen,
			camera:   r.Camera,
			status:   StatusAbsent,
		}
		t.durations[r.Name] = &accumulator{
			entryTime:     r.LastSeen.Add(-time.Duration(r.DurationSeconds * float64(time.Second))),
			totalDuration: r.DurationSeconds,
		}
		n++
	}
	return n
}

// report assumes t.mu is held.
func (t *Tracker) report(name string, now time.Time) PersonReport {
	rec := t.records[name]

	var duration float64
	if acc, ok := t.durations[name]; ok {
		if rec.status == StatusPresent {
			duration = now.Sub(acc.entryTime).Seconds()
		} else {
			duration = acc.totalDuration
		}
	}

	return PersonReport{
		Name:              name,
		LastSeen:          rec.lastSeen,
		Camera:            rec.camera,
		Status:            rec.status,
		DurationSeconds:   duration,
		DurationFormatted: FormatDuration(duration),
	}
}
