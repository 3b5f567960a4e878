package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/presence"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Explicitly check for Docker availability and fail hard if missing
	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	// The pgvector image ships the vector extension.
	pgContainer, err := postgres.Run(ctx, "pgvector/pgvector:pg16",
		postgres.WithDatabase("presence_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close()

	// --- Employees ---

	vecA := make([]float32, 512)
	vecA[0] = 1.0 // Vector A points along X axis
	idA, err := s.CreateEmployee(ctx, "alice", "ops", vecA)
	if err != nil {
		t.Fatalf("CreateEmployee failed: %v", err)
	}
	if idA <= 0 {
		t.Errorf("Expected positive ID, got %d", idA)
	}

	// Re-enrolling keeps the id
	again, err := s.CreateEmployee(ctx, "alice", "security", vecA)
	if err != nil || again != idA {
		t.Errorf("Re-enrol should keep id %d, got %d (%v)", idA, again, err)
	}

	match, ok, err := s.FindClosestEmployee(ctx, vecA, 0.1)
	if err != nil {
		t.Fatalf("FindClosestEmployee failed: %v", err)
	}
	if !ok || match.ID != idA || match.Name != "alice" {
		t.Errorf("Expected alice (%d), got %+v ok=%v", idA, match, ok)
	}
	if match.Distance > 1e-6 {
		t.Errorf("Expected exact match distance ~0, got %f", match.Distance)
	}

	vecB := make([]float32, 512)
	vecB[1] = 1.0 // Orthogonal to A, cosine distance ~1.0
	if _, ok, err := s.FindClosestEmployee(ctx, vecB, 0.1); err != nil || ok {
		t.Errorf("Expected no match, got ok=%v err=%v", ok, err)
	}

	if err := s.RenameEmployee(ctx, idA, "alice.w"); err != nil {
		t.Fatalf("RenameEmployee failed: %v", err)
	}
	if err := s.RenameEmployee(ctx, 9999, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	employees, err := s.ListEmployees(ctx)
	if err != nil {
		t.Fatalf("ListEmployees failed: %v", err)
	}
	if len(employees) != 1 || employees[0].Name != "alice.w" || employees[0].Department != "security" {
		t.Fatalf("Unexpected employees: %+v", employees)
	}
	if len(employees[0].Embedding) != 512 || employees[0].Embedding[0] != 1 {
		t.Errorf("Embedding did not round-trip")
	}

	// --- Presence snapshots ---

	seen := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	reports := []presence.PersonReport{
		{Name: "bob", LastSeen: seen, Camera: "cam2", Status: presence.StatusAbsent, DurationSeconds: 60},
		{Name: "alice.w", LastSeen: seen, Camera: "cam1", Status: presence.StatusPresent, DurationSeconds: 3725},
	}
	if err := s.SavePresence(ctx, reports); err != nil {
		t.Fatalf("SavePresence failed: %v", err)
	}
	reports[1].Camera = "cam3"
	if err := s.SavePresence(ctx, reports[1:]); err != nil {
		t.Fatalf("SavePresence upsert failed: %v", err)
	}

	loaded, err := s.LoadPresence(ctx)
	if err != nil {
		t.Fatalf("LoadPresence failed: %v", err)
	}
	if len(loaded) != 2 || loaded[0].Name != "alice.w" || loaded[1].Name != "bob" {
		t.Fatalf("Unexpected snapshots: %+v", loaded)
	}
	if loaded[0].Camera != "cam3" || loaded[0].DurationFormatted != "1h 2m 5s" {
		t.Errorf("Upsert not applied: %+v", loaded[0])
	}
	if !loaded[1].LastSeen.Equal(seen) || loaded[1].Status != presence.StatusAbsent {
		t.Errorf("Snapshot did not round-trip: %+v", loaded[1])
	}

	// --- Alerts ---

	var alerts []presence.Alert
	for i := 0; i < 3; i++ {
		alerts = append(alerts, presence.Alert{
			Timestamp: seen.Add(time.Duration(i) * time.Minute),
			Person:    fmt.Sprintf("p%d", i),
			Message:   fmt.Sprintf("p%d not detected for 301 seconds", i),
		})
	}
	if err := s.InsertAlerts(ctx, alerts); err != nil {
		t.Fatalf("InsertAlerts failed: %v", err)
	}
	recent, err := s.RecentAlerts(ctx, 2)
	if err != nil {
		t.Fatalf("RecentAlerts failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Person != "p1" || recent[1].Person != "p2" {
		t.Errorf("Expected p1, p2 oldest first, got %+v", recent)
	}

	// --- Locations ---

	for i, cam := range []string{"cam1", "cam2", "cam1"} {
		if err := s.LogLocation(ctx, "bob", cam, seen.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("LogLocation failed: %v", err)
		}
	}
	history, err := s.LocationHistory(ctx, "bob", 2)
	if err != nil {
		t.Fatalf("LocationHistory failed: %v", err)
	}
	if len(history) != 2 || history[0].Camera != "cam1" || history[1].Camera != "cam2" {
		t.Errorf("Unexpected history: %+v", history)
	}

	// --- Rename carries history ---

	idC, err := s.CreateEmployee(ctx, "carol", "", vecB)
	if err != nil {
		t.Fatalf("CreateEmployee failed: %v", err)
	}
	if err := s.SavePresence(ctx, []presence.PersonReport{{Name: "carol", LastSeen: seen, Camera: "cam1", Status: presence.StatusPresent}}); err != nil {
		t.Fatalf("SavePresence failed: %v", err)
	}
	if err := s.LogLocation(ctx, "carol", "cam1", seen); err != nil {
		t.Fatalf("LogLocation failed: %v", err)
	}
	if err := s.InsertAlerts(ctx, []presence.Alert{{Timestamp: seen.Add(time.Hour), Person: "carol", Message: "carol not detected for 301 seconds"}}); err != nil {
		t.Fatalf("InsertAlerts failed: %v", err)
	}
	if err := s.RenameEmployee(ctx, idC, "carol.k"); err != nil {
		t.Fatalf("RenameEmployee failed: %v", err)
	}

	loaded, err = s.LoadPresence(ctx)
	if err != nil {
		t.Fatalf("LoadPresence failed: %v", err)
	}
	for _, r := range loaded {
		if r.Name == "carol" {
			t.Errorf("Snapshot still under old name: %+v", r)
		}
	}
	if len(loaded) != 3 || loaded[2].Name != "carol.k" {
		t.Errorf("Expected renamed snapshot, got %+v", loaded)
	}
	if history, err := s.LocationHistory(ctx, "carol.k", 10); err != nil || len(history) != 1 {
		t.Errorf("Expected history under new name, got %+v (err %v)", history, err)
	}
	if history, _ := s.LocationHistory(ctx, "carol", 10); len(history) != 0 {
		t.Errorf("Old name still has history: %+v", history)
	}
	if recent, _ := s.RecentAlerts(ctx, 1); len(recent) != 1 || recent[0].Person != "carol.k" {
		t.Errorf("Alert not renamed: %+v", recent)
	}

	// --- Reset ---

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListEmployees(ctx); err == nil {
		t.Error("Expected error listing employees after reset")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
