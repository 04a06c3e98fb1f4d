package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ScrobbleRepository handles scrobble and cursor persistence (§3).
type ScrobbleRepository struct {
	pool *pgxpool.Pool
}

// Insert writes a scrobble. A duplicate on (user_id, track_id, played_at)
// returns ErrConflict, which callers absorb silently per §7 — the
// dedupe key is the unique constraint itself, so no pre-check query is
// needed on the fast path.
func (r *ScrobbleRepository) Insert(ctx context.Context, s *Scrobble) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	query := `
		INSERT INTO scrobbles (id, user_id, track_id, album_id, played_at, played_duration_ms, skipped, provider, import_batch_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query, s.ID, s.UserID, s.TrackID, s.AlbumID, s.PlayedAt, s.PlayedDurationMs, s.Skipped, s.Provider, s.ImportBatchID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting scrobble: %w", err)
	}
	return nil
}

// ExistsNear reports whether a scrobble exists for (userID, trackID) with
// played_at within [center-window, center+window]. Used by the
// reconciler's ±10min window (§4.E step 7); the fast loop's ±5s dedupe
// uses ExistsNearAnyTrack instead. The window is supplied by the caller,
// not hardcoded here.
func (r *ScrobbleRepository) ExistsNear(ctx context.Context, userID, trackID uuid.UUID, center time.Time, window time.Duration) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM scrobbles
			WHERE user_id = $1 AND track_id = $2 AND played_at BETWEEN $3 AND $4
		)
	`
	var exists bool
	err := r.pool.QueryRow(ctx, query, userID, trackID, center.Add(-window), center.Add(window)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking nearby scrobble: %w", err)
	}
	return exists, nil
}

// ExistsNearAnyTrack is the variant of ExistsNear that does not constrain
// the track: it matches any scrobble for (userID, provider) in the
// window, whichever loop inserted it. Used by the fast loop's ±5s dedupe
// (§4.D step 7). Kept distinct from ExistsNear because unifying the two
// would change which scrobbles participate in the ±5s check.
func (r *ScrobbleRepository) ExistsNearAnyTrack(ctx context.Context, userID uuid.UUID, provider Provider, center time.Time, window time.Duration) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM scrobbles
			WHERE user_id = $1 AND provider = $2 AND played_at BETWEEN $3 AND $4
		)
	`
	var exists bool
	err := r.pool.QueryRow(ctx, query, userID, provider, center.Add(-window), center.Add(window)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking nearby scrobble: %w", err)
	}
	return exists, nil
}

// Recent returns the most recent scrobbles for a user, newest first, for
// the "recently-played" dashboard (§6). Only scrobble columns are
// returned; track details are not joined in.
func (r *ScrobbleRepository) Recent(ctx context.Context, userID uuid.UUID, limit int) ([]Scrobble, error) {
	query := `
		SELECT id, user_id, track_id, album_id, played_at, played_duration_ms, skipped, provider, import_batch_id
		FROM scrobbles WHERE user_id = $1 ORDER BY played_at DESC LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent scrobbles: %w", err)
	}
	defer rows.Close()

	var scrobbles []Scrobble
	for rows.Next() {
		var s Scrobble
		if err := rows.Scan(&s.ID, &s.UserID, &s.TrackID, &s.AlbumID, &s.PlayedAt, &s.PlayedDurationMs, &s.Skipped, &s.Provider, &s.ImportBatchID); err != nil {
			return nil, fmt.Errorf("scanning scrobble: %w", err)
		}
		scrobbles = append(scrobbles, s)
	}
	return scrobbles, rows.Err()
}

// GetCursor retrieves the (user, provider) cursor, or the zero time if
// none has been recorded yet.
func (r *ScrobbleRepository) GetCursor(ctx context.Context, userID uuid.UUID, provider Provider) (time.Time, error) {
	query := `SELECT last_played_at FROM scrobble_cursors WHERE user_id = $1 AND provider = $2`
	var t time.Time
	err := r.pool.QueryRow(ctx, query, userID, provider).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying cursor: %w", err)
	}
	return t, nil
}

// AdvanceCursor moves the cursor forward to newPlayedAt, refusing to move
// it backward (§3 invariant 4: "ScrobbleCursor only moves forward").
func (r *ScrobbleRepository) AdvanceCursor(ctx context.Context, userID uuid.UUID, provider Provider, newPlayedAt time.Time) error {
	query := `
		INSERT INTO scrobble_cursors (user_id, provider, last_played_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			last_played_at = GREATEST(scrobble_cursors.last_played_at, EXCLUDED.last_played_at)
	`
	_, err := r.pool.Exec(ctx, query, userID, provider, newPlayedAt)
	if err != nil {
		return fmt.Errorf("advancing cursor: %w", err)
	}
	return nil
}
