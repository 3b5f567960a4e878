package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/internal/presence"
)

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("not found")

// Store manages the PostgreSQL pool and pgvector operations.
type Store struct {
	pool *pgxpool.Pool
}

// Employee is an enrolled person.
type Employee struct {
	ID         int
	Name       string
	Department string
	Embedding  []float32
	CreatedAt  time.Time
}

// EmployeeMatch is the nearest employee to a query embedding.
type EmployeeMatch struct {
	ID       int
	Name     string
	Distance float64
}

// Location is one recorded camera change.
type Location struct {
	Name   string    `json:"name"`
	Camera string    `json:"camera"`
	SeenAt time.Time `json:"seen_at"`
}

// New opens a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the tables and vector extension if they don't exist.
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS employees (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			department TEXT NOT NULL DEFAULT '',
			embedding VECTOR(512) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS presence_snapshots (
			name TEXT PRIMARY KEY,
			last_seen TIMESTAMPTZ NOT NULL,
			camera TEXT NOT NULL,
			status TEXT NOT NULL,
			duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS presence_alerts (
			id UUID PRIMARY KEY,
			raised_at TIMESTAMPTZ NOT NULL,
			person TEXT NOT NULL,
			message TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS employee_locations (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			camera TEXT NOT NULL,
			seen_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS presence_alerts_raised_at_idx ON presence_alerts (raised_at);
		CREATE INDEX IF NOT EXISTS employee_locations_name_idx ON employee_locations (name, seen_at);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// CreateEmployee enrols name with embedding. Enrolling an existing name replaces its embedding
// and department. Returns the employee id.
func (s *Store) CreateEmployee(ctx context.Context, name, department string, embedding []float32) (int, error) {
	var id int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO employees (name, department, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET embedding = EXCLUDED.embedding, department = EXCLUDED.department
		RETURNING id
	`, name, department, pgvector.NewVector(embedding)).Scan(&id)
	return id, err
}

// RenameEmployee renames an enrolled employee. Presence snapshots, alerts and location history
// recorded under the old name move with it.
func (s *Store) RenameEmployee(ctx context.Context, id int, newName string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var oldName string
	err = tx.QueryRow(ctx, "SELECT name FROM employees WHERE id = $1 FOR UPDATE", id).Scan(&oldName)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("employee %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if oldName == newName {
		return nil
	}

	queries := []string{
		"UPDATE employees SET name = $1 WHERE name = $2",
		"UPDATE presence_snapshots SET name = $1 WHERE name = $2",
		"UPDATE presence_alerts SET person = $1 WHERE person = $2",
		"UPDATE employee_locations SET name = $1 WHERE name = $2",
	}
	for _, q := range queries {
		if _, err := tx.Exec(ctx, q, newName, oldName); err != nil {
			return fmt.Errorf("renaming %s to %s: %w", oldName, newName, err)
		}
	}
	return tx.Commit(ctx)
}

// ListEmployees returns every enrolled employee with its embedding, ordered by id.
func (s *Store) ListEmployees(ctx context.Context) ([]Employee, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, department, embedding, created_at
		FROM employees
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []Employee
	for rows.Next() {
		var e Employee
		var vec pgvector.Vector
		if err := rows.Scan(&e.ID, &e.Name, &e.Department, &vec, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Embedding = vec.Slice()
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// FindClosestEmployee searches for the nearest employee by cosine distance.
// The bool is false when nobody is within threshold.
func (s *Store) FindClosestEmployee(ctx context.Context, embedding []float32, threshold float64) (EmployeeMatch, bool, error) {
	// <=> is the cosine distance operator in pgvector
	query := `
		SELECT id, name, embedding <=> $1 AS distance
		FROM employees
		WHERE embedding <=> $1 < $2
		ORDER BY distance ASC
		LIMIT 1
	`

	var m EmployeeMatch
	err := s.pool.QueryRow(ctx, query, pgvector.NewVector(embedding), threshold).Scan(&m.ID, &m.Name, &m.Distance)
	if errors.Is(err, pgx.ErrNoRows) {
		return EmployeeMatch{}, false, nil
	}
	if err != nil {
		return EmployeeMatch{}, false, err
	}
	return m, true, nil
}

// SavePresence upserts one snapshot row per person.
func (s *Store) SavePresence(ctx context.Context, reports []presence.PersonReport) error {
	if len(reports) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range reports {
		batch.Queue(`
			INSERT INTO presence_snapshots (name, last_seen, camera, status, duration_seconds, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (name) DO UPDATE SET
				last_seen = EXCLUDED.last_seen,
				camera = EXCLUDED.camera,
				status = EXCLUDED.status,
				duration_seconds = EXCLUDED.duration_seconds,
				updated_at = NOW()
		`, r.Name, r.LastSeen, r.Camera, string(r.Status), r.DurationSeconds)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// LoadPresence returns every stored snapshot, sorted by name.
func (s *Store) LoadPresence(ctx context.Context) ([]presence.PersonReport, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, last_seen, camera, status, duration_seconds
		FROM presence_snapshots
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []presence.PersonReport
	for rows.Next() {
		var r presence.PersonReport
		var status string
		if err := rows.Scan(&r.Name, &r.LastSeen, &r.Camera, &status, &r.DurationSeconds); err != nil {
			return nil, err
		}
		r.Status = presence.Status(status)
		r.DurationFormatted = presence.FormatDuration(r.DurationSeconds)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// InsertAlerts persists alerts, each under a fresh id.
func (s *Store) InsertAlerts(ctx context.Context, alerts []presence.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, a := range alerts {
		_, err := tx.Exec(ctx, `
			INSERT INTO presence_alerts (id, raised_at, person, message)
			VALUES ($1::uuid, $2, $3, $4)
		`, uuid.New().String(), a.Timestamp, a.Person, a.Message)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// RecentAlerts returns the latest limit alerts, oldest first.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]presence.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT raised_at, person, message FROM (
			SELECT raised_at, person, message
			FROM presence_alerts
			ORDER BY raised_at DESC
			LIMIT $1
		) recent
		ORDER BY raised_at ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []presence.Alert
	for rows.Next() {
		var a presence.Alert
		if err := rows.Scan(&a.Timestamp, &a.Person, &a.Message); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// LogLocation records that name was seen on camera at the given time.
func (s *Store) LogLocation(ctx context.Context, name, camera string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO employee_locations (name, camera, seen_at) VALUES ($1, $2, $3)
	`, name, camera, at)
	return err
}

// LocationHistory returns the latest limit camera changes for name, newest first.
func (s *Store) LocationHistory(ctx context.Context, name string, limit int) ([]Location, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, camera, seen_at
		FROM employee_locations
		WHERE name = $1
		ORDER BY seen_at DESC, id DESC
		LIMIT $2
	`, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.Name, &l.Camera, &l.SeenAt); err != nil {
			return nil, err
		}
		history = append(history, l)
	}
	return history, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS employee_locations CASCADE;
		DROP TABLE IF EXISTS presence_alerts CASCADE;
		DROP TABLE IF EXISTS presence_snapshots CASCADE;
		DROP TABLE IF EXISTS employees CASCADE;
	`)
	return err
}
