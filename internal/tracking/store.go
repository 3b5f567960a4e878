package tracking

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/types"
)

// UnknownName is the identity carried by a track until recognition assigns one.
const UnknownName = "Unknown"

// ErrTrackNotFound is returned (or panicked with) when a track id is not in the store.
var ErrTrackNotFound = errors.New("track not found")

// Track is a persistent identity hypothesis linking detections across frames.
type Track struct {
	ID        uint64
	BBox      types.Rect
	Center    types.Point
	Embedding []float32
	Handle    any
	Camera    string
	LastSeen  time.Time
	Name      string
}

// TrackStore owns the registry of active tracks.
// Ids start at 1 and are never reused, even after eviction.
type TrackStore struct {
	mu     sync.RWMutex
	tracks map[uint64]*Track
	nextID uint64
	now    func() time.Time
}

// StoreOption configures a TrackStore.
type StoreOption func(*TrackStore)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *TrackStore) { s.now = now }
}

// NewTrackStore creates an empty store.
func NewTrackStore(opts ...StoreOption) *TrackStore {
	s := &TrackStore{
		tracks: make(map[uint64]*Track),
		nextID: 1,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts a new Unknown track and returns its id.
func (s *TrackStore) Create(bbox types.Rect, center types.Point, embedding []float32) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(types.Detection{BBox: bbox, Center: center, Embedding: embedding}, "", s.now())
}

// Update overwrites the geometry and embedding of an existing track, keeping its name.
// Updating an id that is not in the store means the caller and the store disagree, so it panics.
func (s *TrackStore) Update(id uint64, bbox types.Rect, center types.Point, embedding []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.update(id, types.Detection{BBox: bbox, Center: center, Embedding: embedding}, "", s.now())
}

// AssignName sets the resolved identity of a track.
// The track may have been evicted since it was matched, so a miss is an error rather than a panic.
func (s *TrackStore) AssignName(id uint64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracks[id]
	if !ok {
		return fmt.Errorf("assign name to track %d: %w", id, ErrTrackNotFound)
	}
	t.Name = name
	return nil
}

// EvictStale removes every track untouched for at least timeout and returns the removed ids.
func (s *TrackStore) EvictStale(timeout time.Duration) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var evicted []uint64
	for id, t := range s.tracks {
		if now.Sub(t.LastSeen) >= timeout {
			delete(s.tracks, id)
			evicted = append(evicted, id)
		}
	}
	slices.Sort(evicted)
	return evicted
}

// Snapshot returns a copy of every track, ordered by id.
func (s *TrackStore) Snapshot() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

// Get returns a copy of a single track.
func (s *TrackStore) Get(id uint64) (Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tracks[id]
	if !ok {
		return Track{}, false
	}
	return t.clone(), true
}

// Len reports the number of live tracks.
func (s *TrackStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}

// The helpers below assume s.mu is held for writing.

func (s *TrackStore) create(d types.Detection, camera string, now time.Time) uint64 {
	id := s.nextID
	s.nextID++
	s.tracks[id] = &Track{
		ID:        id,
		BBox:      d.BBox,
		Center:    d.Center,
		Embedding: slices.Clone(d.Embedding),
		Handle:    d.Handle,
		Camera:    camera,
		LastSeen:  now,
		Name:      UnknownName,
	}
	return id
}

func (s *TrackStore) update(id uint64, d types.Detection, camera string, now time.Time) {
	t, ok := s.tracks[id]
	if !ok {
		panic(fmt.Sprintf("tracking: update of track %d: %v", id, ErrTrackNotFound))
	}
	t.BBox = d.BBox
	t.Center = d.Center
	t.Embedding = slices.Clone(d.Embedding)
	t.Handle = d.Handle
	if camera != "" {
		t.Camera = camera
	}
	t.LastSeen = now
}

func (s *TrackStore) snapshot() []Track {
	out := make([]Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t.clone())
	}
	slices.SortFunc(out, func(a, b Track) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (t *Track) clone() Track {
	c := *t
	c.Embedding = slices.Clone(t.Embedding)
	return c
}
