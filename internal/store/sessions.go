package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository handles the singleton PlaybackSession row per (user,
// provider) (§3).
type SessionRepository struct {
	pool *pgxpool.Pool
}

// Get retrieves the session for (userID, provider), or ErrNotFound if
// none exists.
func (r *SessionRepository) Get(ctx context.Context, userID uuid.UUID, provider Provider) (*PlaybackSession, error) {
	query := `
		SELECT user_id, provider, track_uri, started_at, last_seen_at, last_progress_ms,
			accumulated_ms, is_playing, track_duration_ms, metadata_snapshot, scrobbled
		FROM playback_sessions WHERE user_id = $1 AND provider = $2
	`
	var s PlaybackSession
	err := r.pool.QueryRow(ctx, query, userID, provider).Scan(
		&s.UserID, &s.Provider, &s.TrackURI, &s.StartedAt, &s.LastSeenAt, &s.LastProgressMs,
		&s.AccumulatedMs, &s.IsPlaying, &s.TrackDurationMs, &s.MetadataSnapshot, &s.Scrobbled,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying playback session: %w", err)
	}
	return &s, nil
}

// Put creates or entirely replaces the session for (userID, provider).
// Replacing is the only path that creates a session; §3 invariant 5
// ("clearing it is the only way to reset") is enforced by Delete below.
func (r *SessionRepository) Put(ctx context.Context, s *PlaybackSession) error {
	query := `
		INSERT INTO playback_sessions
			(user_id, provider, track_uri, started_at, last_seen_at, last_progress_ms,
			 accumulated_ms, is_playing, track_duration_ms, metadata_snapshot, scrobbled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			track_uri = EXCLUDED.track_uri,
			started_at = EXCLUDED.started_at,
			last_seen_at = EXCLUDED.last_seen_at,
			last_progress_ms = EXCLUDED.last_progress_ms,
			accumulated_ms = EXCLUDED.accumulated_ms,
			is_playing = EXCLUDED.is_playing,
			track_duration_ms = EXCLUDED.track_duration_ms,
			metadata_snapshot = EXCLUDED.metadata_snapshot,
			scrobbled = EXCLUDED.scrobbled
	`
	_, err := r.pool.Exec(ctx, query,
		s.UserID, s.Provider, s.TrackURI, s.StartedAt, s.LastSeenAt, s.LastProgressMs,
		s.AccumulatedMs, s.IsPlaying, s.TrackDurationMs, s.MetadataSnapshot, s.Scrobbled,
	)
	if err != nil {
		return fmt.Errorf("upserting playback session: %w", err)
	}
	return nil
}

// Delete removes the session for (userID, provider).
func (r *SessionRepository) Delete(ctx context.Context, userID uuid.UUID, provider Provider) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM playback_sessions WHERE user_id = $1 AND provider = $2`, userID, provider)
	if err != nil {
		return fmt.Errorf("deleting playback session: %w", err)
	}
	return nil
}
