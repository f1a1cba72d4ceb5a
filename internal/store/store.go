package store

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/andresmejia3/facecam/internal/types"
)

// ErrNotFound is returned when an identity id does not exist.
var ErrNotFound = errors.New("identity not found")

// Store manages the PostgreSQL pool and pgvector operations.
type Store struct {
	pool *pgxpool.Pool
}

// IdentitySummary is a row of the identity listing.
type IdentitySummary struct {
	ID          int        `json:"id"`
	Label       string     `json:"label"`
	Descriptors int        `json:"descriptors"`
	Sightings   int        `json:"sightings"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Sighting is a recognized face recorded by a detection session.
type Sighting struct {
	ID        int64           `json:"id"`
	SessionID uuid.UUID       `json:"session_id"`
	Label     string          `json:"label"`
	Distance  float64         `json:"distance"`
	Box       image.Rectangle `json:"box"`
	SeenAt    time.Time       `json:"seen_at"`
}

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}

	// The extension has to exist before the vector type can be registered on new connections.
	conn, err := pgx.ConnectConfig(ctx, cfg.ConnConfig)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to enable pgvector: %w", err)
	}
	conn.Close(ctx)

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS identities (
			id SERIAL PRIMARY KEY,
			label TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS reference_descriptors (
			id BIGSERIAL PRIMARY KEY,
			identity_id INT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			source TEXT NOT NULL DEFAULT '',
			embedding VECTOR(%d) NOT NULL
		);
		CREATE TABLE IF NOT EXISTS sightings (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL,
			label TEXT NOT NULL,
			distance DOUBLE PRECISION NOT NULL,
			box INT[] NOT NULL,
			seen_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS reference_descriptors_identity_idx ON reference_descriptors (identity_id);
		CREATE INDEX IF NOT EXISTS sightings_seen_at_idx ON sightings (seen_at DESC);
	`, types.DescriptorSize)
	_, err := pool.Exec(ctx, query)
	return err
}

// Close terminates the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveEnrollment replaces the stored descriptors of every identity in identities. Sources are taken
// from the enrolled items, in order, and may be shorter than the descriptor list.
func (s *Store) SaveEnrollment(ctx context.Context, identities []types.Identity, items []types.EnrollItem) error {
	sources := make(map[string][]string)
	for _, it := range items {
		if it.Status == types.ItemEnrolled {
			sources[it.Label] = append(sources[it.Label], it.Path)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, id := range identities {
		var identityID int
		err := tx.QueryRow(ctx, `
			INSERT INTO identities (label) VALUES ($1)
			ON CONFLICT (label) DO UPDATE SET label = EXCLUDED.label
			RETURNING id
		`, id.Label).Scan(&identityID)
		if err != nil {
			return fmt.Errorf("failed to upsert identity %q: %w", id.Label, err)
		}

		// Re-enrolling replaces the previous reference set.
		if _, err := tx.Exec(ctx, "DELETE FROM reference_descriptors WHERE identity_id = $1", identityID); err != nil {
			return err
		}
		for i, d := range id.Descriptors {
			source := ""
			if i < len(sources[id.Label]) {
				source = sources[id.Label][i]
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO reference_descriptors (identity_id, source, embedding) VALUES ($1, $2, $3)
			`, identityID, source, pgvector.NewVector(d[:]))
			if err != nil {
				return fmt.Errorf("failed to store descriptor for %q: %w", id.Label, err)
			}
		}
	}
	return tx.Commit(ctx)
}

// LoadEnrollment returns every stored identity with its descriptors, in creation order.
func (s *Store) LoadEnrollment(ctx context.Context) ([]types.Identity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.label, d.embedding
		FROM identities i
		LEFT JOIN reference_descriptors d ON d.identity_id = i.id
		ORDER BY i.id, d.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Identity
	for rows.Next() {
		var label string
		var vec *pgvector.Vector
		if err := rows.Scan(&label, &vec); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].Label != label {
			out = append(out, types.Identity{Label: label})
		}
		if vec == nil {
			continue
		}
		var d types.Descriptor
		if n := len(vec.Slice()); n != types.DescriptorSize {
			return nil, fmt.Errorf("%w: %d for %q", types.ErrDescriptorSize, n, label)
		}
		copy(d[:], vec.Slice())
		out[len(out)-1].Descriptors = append(out[len(out)-1].Descriptors, d)
	}
	return out, rows.Err()
}

// Nearest returns the label of the stored descriptor closest to d by Euclidean distance.
// ok is false when nothing has been enrolled.
func (s *Store) Nearest(ctx context.Context, d types.Descriptor) (label string, distance float64, ok bool, err error) {
	// <-> is the L2 distance operator in pgvector
	err = s.pool.QueryRow(ctx, `
		SELECT i.label, d.embedding <-> $1 AS distance
		FROM reference_descriptors d
		JOIN identities i ON i.id = d.identity_id
		ORDER BY distance ASC
		LIMIT 1
	`, pgvector.NewVector(d[:])).Scan(&label, &distance)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	return label, distance, true, nil
}

// ListIdentities returns all identities with descriptor and sighting counts.
func (s *Store) ListIdentities(ctx context.Context) ([]IdentitySummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.id, i.label, i.created_at,
			(SELECT COUNT(*) FROM reference_descriptors d WHERE d.identity_id = i.id),
			(SELECT COUNT(*) FROM sightings s WHERE s.label = i.label),
			(SELECT MAX(seen_at) FROM sightings s WHERE s.label = i.label)
		FROM identities i
		ORDER BY i.id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IdentitySummary
	for rows.Next() {
		var is IdentitySummary
		if err := rows.Scan(&is.ID, &is.Label, &is.CreatedAt, &is.Descriptors, &is.Sightings, &is.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, is)
	}
	return out, rows.Err()
}

// RenameIdentity updates the label of an identity and of its past sightings.
func (s *Store) RenameIdentity(ctx context.Context, id int, newLabel string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var oldLabel string
	err = tx.QueryRow(ctx, "SELECT label FROM identities WHERE id = $1 FOR UPDATE", id).Scan(&oldLabel)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "UPDATE identities SET label = $1 WHERE id = $2", newLabel, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "UPDATE sightings SET label = $1 WHERE label = $2", newLabel, oldLabel); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RecordSightings stores the recognized faces of one tick.
func (s *Store) RecordSightings(ctx context.Context, sessionID uuid.UUID, results []types.MatchResult) error {
	if len(results) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range results {
		b := r.Detection.Box
		batch.Queue(`
			INSERT INTO sightings (session_id, label, distance, box) VALUES ($1, $2, $3, $4)
		`, sessionID, r.Label, r.Distance, []int32{int32(b.Min.X), int32(b.Min.Y), int32(b.Max.X), int32(b.Max.Y)})
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// RecentSightings returns the latest sightings, newest first.
func (s *Store) RecentSightings(ctx context.Context, limit int) ([]Sighting, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, label, distance, box, seen_at
		FROM sightings
		ORDER BY seen_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sighting
	for rows.Next() {
		var sg Sighting
		var box []int32
		if err := rows.Scan(&sg.ID, &sg.SessionID, &sg.Label, &sg.Distance, &box, &sg.SeenAt); err != nil {
			return nil, err
		}
		if len(box) == 4 {
			sg.Box = image.Rect(int(box[0]), int(box[1]), int(box[2]), int(box[3]))
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS sightings CASCADE;
		DROP TABLE IF EXISTS reference_descriptors CASCADE;
		DROP TABLE IF EXISTS identities CASCADE;
	`)
	return err
}
