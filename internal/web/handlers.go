package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/presence"
	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/types"
)

const (
	defaultAlertLimit    = 50
	defaultLocationLimit = 10

	// statusOff marks enrolled employees the tracker has never seen.
	statusOff = "off"
)

type personView struct {
	presence.PersonReport
	LastSeenText string `json:"last_seen_text"`
}

type trackView struct {
	ID       uint64      `json:"id"`
	Name     string      `json:"name"`
	Camera   string      `json:"camera"`
	BBox     types.Rect  `json:"bbox"`
	Center   types.Point `json:"center"`
	LastSeen time.Time   `json:"last_seen"`
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

type employeeView struct {
	ID           int        `json:"id"`
	Name         string     `json:"name"`
	Department   string     `json:"department"`
	Status       string     `json:"status"`
	CameraID     string     `json:"camera_id,omitempty"`
	Location     string     `json:"location"`
	LastSeen     *time.Time `json:"last_seen"`
	LastSeenText string     `json:"last_seen_text"`
	Duration     string     `json:"duration_formatted,omitempty"`
}

type locationView struct {
	CameraID   string    `json:"camera_id"`
	CameraName string    `json:"camera_name"`
	SeenAt     time.Time `json:"seen_at"`
	SeenText   string    `json:"seen_text"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.sched != nil {
		resp["scheduler"] = map[string]any{
			"running": s.sched.IsRunning(),
			"jobs":    s.sched.Jobs(),
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// cameraName maps a camera id to its configured name, falling back to the id.
func (s *Server) cameraName(id string) string {
	for _, c := range s.cameras {
		if c.ID == id && c.Name != "" {
			return c.Name
		}
	}
	return id
}

func (s *Server) handleEmployees(w http.ResponseWriter, r *http.Request) {
	if s.directory == nil {
		respondError(w, http.StatusServiceUnavailable, "employee directory not configured")
		return
	}
	employees, err := s.directory.ListEmployees(r.Context())
	if err != nil {
		s.log.Error("listing employees failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list employees")
		return
	}

	now := s.now()
	views := make([]employeeView, 0, len(employees))
	for _, e := range employees {
		v := employeeView{
			ID:           e.ID,
			Name:         e.Name,
			Department:   e.Department,
			Status:       statusOff,
			Location:     "Unknown",
			LastSeenText: "Never",
		}
		if rep, ok := s.presence.Report(e.Name); ok {
			lastSeen := rep.LastSeen
			v.Status = string(rep.Status)
			v.CameraID = rep.Camera
			v.Location = s.cameraName(rep.Camera)
			v.LastSeen = &lastSeen
			v.LastSeenText = presence.FormatLastSeen(rep.LastSeen, now)
			v.Duration = rep.DurationFormatted
		}
		views = append(views, v)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"employees": views,
		"count":     len(views),
	})
}

func (s *Server) handleEmployeeLocations(w http.ResponseWriter, r *http.Request) {
	if s.directory == nil {
		respondError(w, http.StatusServiceUnavailable, "employee directory not configured")
		return
	}
	name := chi.URLParam(r, "name")
	limit := defaultLocationLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	history, err := s.directory.LocationHistory(r.Context(), name, limit)
	if err != nil {
		s.log.Error("location history failed", "name", name, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load location history")
		return
	}

	now := s.now()
	views := make([]locationView, 0, len(history))
	for _, l := range history {
		views = append(views, locationView{
			CameraID:   l.Camera,
			CameraName: s.cameraName(l.Camera),
			SeenAt:     l.SeenAt,
			SeenText:   presence.FormatLastSeen(l.SeenAt, now),
		})
	}
	location := "Unknown"
	if len(views) > 0 {
		location = views[0].CameraName
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"name":     name,
		"location": location,
		"history":  views,
	})
}

func (s *Server) handlePresenceList(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	reports := s.presence.SnapshotAll()
	persons := make([]personView, 0, len(reports))
	present := 0
	for _, rep := range reports {
		if rep.Status == presence.StatusPresent {
			present++
		}
		persons = append(persons, personView{PersonReport: rep, LastSeenText: presence.FormatLastSeen(rep.LastSeen, now)})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"persons": persons,
		"count":   len(persons),
		"present": present,
	})
}

func (s *Server) handlePresenceGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rep, ok := s.presence.Report(name)
	if !ok {
		respondError(w, http.StatusNotFound, "person not found")
		return
	}
	respondJSON(w, http.StatusOK, personView{PersonReport: rep, LastSeenText: presence.FormatLastSeen(rep.LastSeen, s.now())})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	alerts := s.presence.Alerts().Recent(limit)
	if alerts == nil {
		alerts = []presence.Alert{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	snap := s.tracks.Snapshot()
	tracks := make([]trackView, 0, len(snap))
	for _, t := range snap {
		tracks = append(tracks, trackView{
			ID:       t.ID,
			Name:     t.Name,
			Camera:   t.Camera,
			BBox:     t.BBox,
			Center:   t.Center,
			LastSeen: t.LastSeen,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tracks": tracks,
		"count":  len(tracks),
	})
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"cameras": s.cameras,
		"count":   len(s.cameras),
	})
}
