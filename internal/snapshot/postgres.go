package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage persists snapshot rows in a single `rooms` table keyed by
// room code.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresStorage(pool *pgxpool.Pool) *PostgresStorage {
	return &PostgresStorage{pool: pool}
}

// EnsureSchema creates the rooms table when it does not exist yet.
func (p *PostgresStorage) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rooms (
			room_code     TEXT PRIMARY KEY,
			display_name  TEXT NOT NULL DEFAULT '',
			encoded_state TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL,
			peer_count    INTEGER NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return fmt.Errorf("ensure rooms schema: %w", err)
	}
	return nil
}

func (p *PostgresStorage) Upsert(ctx context.Context, rec Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = rec.UpdatedAt
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO rooms (room_code, display_name, encoded_state, created_at, updated_at, peer_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_code) DO UPDATE SET
			encoded_state = EXCLUDED.encoded_state,
			updated_at    = EXCLUDED.updated_at,
			display_name  = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE rooms.display_name END`,
		rec.RoomCode, rec.DisplayName, rec.EncodedState, createdAt, rec.UpdatedAt, rec.PeerCount)
	if err != nil {
		return fmt.Errorf("upsert room %s: %w", rec.RoomCode, err)
	}
	return nil
}

func (p *PostgresStorage) Load(ctx context.Context, roomCode string) (Record, error) {
	var rec Record
	err := p.pool.QueryRow(ctx, `
		SELECT room_code, display_name, encoded_state, created_at, updated_at, peer_count
		FROM rooms WHERE room_code = $1`, roomCode).
		Scan(&rec.RoomCode, &rec.DisplayName, &rec.EncodedState, &rec.CreatedAt, &rec.UpdatedAt, &rec.PeerCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("load room %s: %w", roomCode, err)
	}
	return rec, nil
}

func (p *PostgresStorage) SetPeerCount(ctx context.Context, roomCode string, count int) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE rooms SET peer_count = $2, updated_at = now() WHERE room_code = $1`,
		roomCode, count)
	if err != nil {
		return fmt.Errorf("update peer count for %s: %w", roomCode, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
