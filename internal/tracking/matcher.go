package tracking

import (
	"cmp"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/types"
)

// MatchConfig holds the association thresholds.
type MatchConfig struct {
	MaxDistance  float64 // pixels between track and detection centers
	SimThreshold float32 // cosine similarity above which a candidate qualifies regardless of MaxDistance
}

// DefaultMatchConfig returns the default association thresholds.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		MaxDistance:  150,
		SimThreshold: 0.7,
	}
}

// Assign greedily associates detections with tracks, visiting tracks in ascending id order.
//
// For each track, every still-unmatched detection is a candidate. A candidate whose similarity
// exceeds SimThreshold replaces the current best if it is closer than the best so far; otherwise it
// replaces the best only if it is closer than the best so far and closer than MaxDistance. Both
// rules share one running best distance, so the outcome depends on detection order. Tracks that
// find no candidate are left out of the assignment.
//
// Returns track id -> detection index, and the indices left unmatched in detection order.
func Assign(detections []types.Detection, tracks []Track, cfg MatchConfig) (map[uint64]int, []int) {
	ordered := slices.Clone(tracks)
	slices.SortFunc(ordered, func(a, b Track) int { return cmp.Compare(a.ID, b.ID) })

	assignment := make(map[uint64]int)
	matched := make(map[int]bool, len(detections))

	for _, t := range ordered {
		if len(matched) == len(detections) {
			break
		}

		bestDistance := math.Inf(1)
		bestMatch := -1

		for _, d := range detections {
			if matched[d.Index] {
				continue
			}

			distance := Distance(t.Center, d.Center)
			similarity := Similarity(t.Embedding, d.Embedding)

			if similarity > cfg.SimThreshold {
				if distance < bestDistance {
					bestDistance = distance
					bestMatch = d.Index
				}
			} else if distance < bestDistance && distance < cfg.MaxDistance {
				bestDistance = distance
				bestMatch = d.Index
			}
		}

		if bestMatch >= 0 {
			assignment[t.ID] = bestMatch
			matched[bestMatch] = true
		}
	}

	var unmatched []int
	for _, d := range detections {
		if !matched[d.Index] {
			unmatched = append(unmatched, d.Index)
		}
	}
	return assignment, unmatched
}

// FrameResult describes what one frame did to the store.
type FrameResult struct {
	Matched map[uint64]int // existing track id -> detection index
	Created map[uint64]int // new track id -> detection index
	Tracks  []Track        // matched and created tracks after the update, ordered by id
}

// Matcher applies frames of detections to a TrackStore.
type Matcher struct {
	store *TrackStore
	cfg   MatchConfig
	log   *slog.Logger
}

// NewMatcher creates a matcher over store.
func NewMatcher(store *TrackStore, cfg MatchConfig) *Matcher {
	return &Matcher{
		store: store,
		cfg:   cfg,
		log:   slog.With("component", "matcher"),
	}
}

// Store returns the underlying track store.
func (m *Matcher) Store() *TrackStore {
	return m.store
}

// Config returns the thresholds in use.
func (m *Matcher) Config() MatchConfig {
	return m.cfg
}

// MatchFrame associates one frame of detections from camera with the live tracks.
// Matched tracks take the detection's box, center and embedding and keep their name; every
// unmatched detection becomes a new Unknown track. Tracks not matched this frame are left as they
// are and age toward eviction. The whole read-match-write runs under the store lock.
func (m *Matcher) MatchFrame(camera string, detections []types.Detection) (FrameResult, error) {
	byIndex := make(map[int]types.Detection, len(detections))
	for _, d := range detections {
		if err := d.Validate(); err != nil {
			return FrameResult{}, err
		}
		if _, dup := byIndex[d.Index]; dup {
			return FrameResult{}, fmt.Errorf("duplicate detection index %d in frame from %s", d.Index, camera)
		}
		byIndex[d.Index] = d
	}

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	now := m.store.now()
	assignment, unmatched := Assign(detections, m.store.snapshot(), m.cfg)

	res := FrameResult{
		Matched: assignment,
		Created: make(map[uint64]int, len(unmatched)),
	}
	for trackID, idx := range assignment {
		m.store.update(trackID, byIndex[idx], camera, now)
	}
	for _, idx := range unmatched {
		id := m.store.create(byIndex[idx], camera, now)
		res.Created[id] = idx
	}

	res.Tracks = make([]Track, 0, len(res.Matched)+len(res.Created))
	for id := range res.Matched {
		res.Tracks = append(res.Tracks, m.store.tracks[id].clone())
	}
	for id := range res.Created {
		res.Tracks = append(res.Tracks, m.store.tracks[id].clone())
	}
	slices.SortFunc(res.Tracks, func(a, b Track) int { return cmp.Compare(a.ID, b.ID) })

	m.log.Debug("frame matched",
		"camera", camera,
		"detections", len(detections),
		"matched", len(res.Matched),
		"created", len(res.Created),
		"live_tracks", len(m.store.tracks),
	)
	return res, nil
}
