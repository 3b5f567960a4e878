// Package monitor wires the tracking and presence engines to camera feeds, the identity gallery,
// and persistence.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/feed"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/identity"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/presence"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/scheduler"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/tracking"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/types"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/worker"
)

// Store is the persistence the engine writes to. It is optional.
type Store interface {
	LogLocation(ctx context.Context, name, camera string, at time.Time) error
	SavePresence(ctx context.Context, reports []presence.PersonReport) error
	LoadPresence(ctx context.Context) ([]presence.PersonReport, error)
	InsertAlerts(ctx context.Context, alerts []presence.Alert) error
}

// Roster loads the enrolled employees as name -> embedding.
type Roster func(ctx context.Context) (map[string][]float32, error)

// gallerySyncer is a resolver whose identities can be replaced wholesale.
type gallerySyncer interface {
	Sync(enrolled map[string][]float32) (added, removed int, err error)
}

// DetectorFactory starts one detector per camera.
type DetectorFactory func(id int) (worker.Detector, error)

// Streamer produces frames for one source until it ends or ctx is cancelled.
type Streamer func(ctx context.Context, src feed.Source, out chan<- types.FrameTask) (feed.Stats, error)

type Config struct {
	Match            tracking.MatchConfig
	CleanupTimeout   time.Duration
	AbsenceThreshold time.Duration
	SweepInterval    time.Duration
	SnapshotInterval time.Duration
	FrameTimeout     time.Duration // per-frame detector deadline, 0 for none
	RefreshInterval  time.Duration // gallery reload period when a roster is set, 0 disables
}

// Engine is the running monitor: per-camera frames go through the matcher, resolved names feed the
// presence tracker, and periodic jobs sweep for absences and persist state.
type Engine struct {
	cfg      Config
	tracks   *tracking.TrackStore
	matcher  *tracking.Matcher
	presence *presence.Tracker
	resolver identity.Resolver
	store    Store
	roster   Roster
	sched    *scheduler.Scheduler
	stream   Streamer
	now      func() time.Time
	log      *slog.Logger

	flushMu     sync.Mutex
	alertCursor int
}

type Option func(*engineOptions)

type engineOptions struct {
	store  Store
	roster Roster
	now    func() time.Time
	stream Streamer
}

// WithStore persists presence, alerts and locations.
func WithStore(s Store) Option {
	return func(o *engineOptions) { o.store = s }
}

// WithRoster lets the engine reload the resolver's identities while it runs.
func WithRoster(r Roster) Option {
	return func(o *engineOptions) { o.roster = r }
}

// WithClock replaces time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// WithStreamer replaces the ffmpeg frame source.
func WithStreamer(s Streamer) Option {
	return func(o *engineOptions) { o.stream = s }
}

// New builds an engine. A nil resolver leaves every track Unknown.
func New(cfg Config, resolver identity.Resolver, opts ...Option) *Engine {
	o := engineOptions{now: time.Now, stream: feed.Stream}
	for _, opt := range opts {
		opt(&o)
	}

	tracks := tracking.NewTrackStore(tracking.WithClock(o.now))
	return &Engine{
		cfg:      cfg,
		tracks:   tracks,
		matcher:  tracking.NewMatcher(tracks, cfg.Match),
		presence: presence.NewTracker(presence.WithClock(o.now)),
		resolver: resolver,
		store:    o.store,
		roster:   o.roster,
		sched:    scheduler.New(),
		stream:   o.stream,
		now:      o.now,
		log:      slog.With("component", "monitor"),
	}
}

func (e *Engine) Tracks() *tracking.TrackStore { return e.tracks }
func (e *Engine) Presence() *presence.Tracker  { return e.presence }
func (e *Engine) Scheduler() *scheduler.Scheduler {
	return e.sched
}

// ProcessFrame matches one frame of detections from camera, names newly recognised tracks, and
// marks every named track present on camera.
func (e *Engine) ProcessFrame(ctx context.Context, camera string, detections []types.Detection) (tracking.FrameResult, error) {
	res, err := e.matcher.MatchFrame(camera, detections)
	if err != nil {
		return res, err
	}

	for i := range res.Tracks {
		t := &res.Tracks[i]
		if t.Name == tracking.UnknownName && e.resolver != nil {
			if m, ok := e.resolver.Resolve(t.Embedding); ok {
				if err := e.tracks.AssignName(t.ID, m.Name); err != nil {
					// Evicted between match and resolve; the next frame recreates it.
					continue
				}
				t.Name = m.Name
				e.log.Debug("track recognised", "track", t.ID, "name", m.Name, "distance", m.Distance)
			}
		}
		if t.Name == tracking.UnknownName {
			continue
		}

		upd := e.presence.Update(t.Name, camera)
		if upd.CameraChanged && e.store != nil {
			if err := e.store.LogLocation(ctx, t.Name, camera, e.now()); err != nil {
				e.log.Warn("failed to log location", "name", t.Name, "camera", camera, "error", err)
			}
		}
	}
	return res, nil
}

// Sweep runs one absence sweep and evicts stale tracks.
func (e *Engine) Sweep() []string {
	absent := e.presence.Sweep(e.cfg.AbsenceThreshold)
	if evicted := e.tracks.EvictStale(e.cfg.CleanupTimeout); len(evicted) > 0 {
		e.log.Debug("tracks evicted", "ids", evicted)
	}
	return absent
}

// Flush writes the presence snapshot and any alerts raised since the last flush.
func (e *Engine) Flush(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	if err := e.store.SavePresence(ctx, e.presence.SnapshotAll()); err != nil {
		return fmt.Errorf("saving presence: %w", err)
	}

	alerts, next := e.presence.Alerts().Since(e.alertCursor)
	if err := e.store.InsertAlerts(ctx, alerts); err != nil {
		return fmt.Errorf("saving alerts: %w", err)
	}
	e.alertCursor = next
	return nil
}

// RefreshGallery reloads the roster into the resolver. Tracks already named keep their name.
func (e *Engine) RefreshGallery(ctx context.Context) error {
	g, ok := e.resolver.(gallerySyncer)
	if e.roster == nil || !ok {
		return nil
	}
	enrolled, err := e.roster(ctx)
	if err != nil {
		return fmt.Errorf("loading roster: %w", err)
	}
	if _, _, err := g.Sync(enrolled); err != nil {
		e.log.Warn("some employees were skipped", "error", err)
	}
	return nil
}

// Restore seeds the presence tracker from the last stored snapshot.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	reports, err := e.store.LoadPresence(ctx)
	if err != nil {
		return 0, err
	}
	return e.presence.Restore(reports), nil
}

// Start registers the periodic jobs and starts the scheduler.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.sched.Every("absence-sweep", e.cfg.SweepInterval, func() { e.presence.Sweep(e.cfg.AbsenceThreshold) }); err != nil {
		return err
	}
	cleanupEvery := min(time.Second, e.cfg.CleanupTimeout)
	if err := e.sched.Every("track-cleanup", cleanupEvery, func() { e.tracks.EvictStale(e.cfg.CleanupTimeout) }); err != nil {
		return err
	}
	if e.roster != nil && e.cfg.RefreshInterval > 0 {
		err := e.sched.Every("gallery-refresh", e.cfg.RefreshInterval, func() {
			if err := e.RefreshGallery(ctx); err != nil {
				e.log.Error("gallery refresh failed", "error", err)
			}
		})
		if err != nil {
			return err
		}
	}
	if e.store != nil {
		err := e.sched.Every("presence-snapshot", e.cfg.SnapshotInterval, func() {
			if err := e.Flush(ctx); err != nil {
				e.log.Error("snapshot failed", "error", err)
			}
		})
		if err != nil {
			return err
		}
	}
	e.sched.Start()
	return nil
}

// Stop halts the jobs and writes a final snapshot.
func (e *Engine) Stop(ctx context.Context) error {
	e.sched.Stop()
	return e.Flush(ctx)
}

// Run reads every source concurrently, one detector per source, until all sources end or ctx is
// cancelled. A failing camera is logged and stops alone; Run returns an error only when every
// camera failed.
func (e *Engine) Run(ctx context.Context, sources []feed.Source, newDetector DetectorFactory) error {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []error
	)

	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			err := e.runCamera(ctx, i, src, newDetector)
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			e.log.Error("camera stopped", "camera", src.CameraID, "error", err)
			mu.Lock()
			failed = append(failed, err)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if len(sources) > 0 && len(failed) == len(sources) {
		return errors.Join(failed...)
	}
	return nil
}

// runCamera streams one source into its own detector. Either side failing stops both.
func (e *Engine) runCamera(ctx context.Context, id int, src feed.Source, newDetector DetectorFactory) error {
	g, ctx := errgroup.WithContext(ctx)
	frames := make(chan types.FrameTask, 2)

	g.Go(func() error {
		defer close(frames)
		stats, err := e.stream(ctx, src, frames)
		e.log.Info("feed stopped", "camera", src.CameraID, "frames", stats.Total, "processed", stats.Sent)
		return err
	})

	g.Go(func() error {
		det, err := newDetector(id)
		if err != nil {
			return fmt.Errorf("camera %s: detector startup failed: %w", src.CameraID, err)
		}
		defer det.Close()

		for task := range frames {
			dets, err := e.detect(ctx, det, task)
			feed.Release(task)
			if err != nil {
				return fmt.Errorf("camera %s frame %d: %w", task.CameraID, task.Index, err)
			}
			if _, err := e.ProcessFrame(ctx, task.CameraID, dets); err != nil {
				e.log.Warn("frame rejected", "camera", task.CameraID, "frame", task.Index, "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}

func (e *Engine) detect(ctx context.Context, det worker.Detector, task types.FrameTask) ([]types.Detection, error) {
	if e.cfg.FrameTimeout <= 0 {
		return det.Detect(ctx, task.Data)
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.FrameTimeout)
	defer cancel()
	return det.Detect(ctx, task.Data)
}
