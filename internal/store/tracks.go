package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TrackRepository handles track persistence and the track↔artist,
// track↔album join tables (§3, §4.C).
type TrackRepository struct {
	pool *pgxpool.Pool
}

func (r *TrackRepository) GetByISRC(ctx context.Context, isrc string) (*Track, error) {
	return r.scanOne(ctx, `SELECT id, title, duration_ms, mbid, isrc, explicit, last_enriched_at FROM tracks WHERE isrc = $1`, isrc)
}

func (r *TrackRepository) GetByMBID(ctx context.Context, mbid string) (*Track, error) {
	return r.scanOne(ctx, `SELECT id, title, duration_ms, mbid, isrc, explicit, last_enriched_at FROM tracks WHERE mbid = $1`, mbid)
}

func (r *TrackRepository) Get(ctx context.Context, id uuid.UUID) (*Track, error) {
	return r.scanOne(ctx, `SELECT id, title, duration_ms, mbid, isrc, explicit, last_enriched_at FROM tracks WHERE id = $1`, id)
}

func (r *TrackRepository) scanOne(ctx context.Context, query string, args ...any) (*Track, error) {
	var t Track
	err := r.pool.QueryRow(ctx, query, args...).Scan(&t.ID, &t.Title, &t.DurationMs, &t.MBID, &t.ISRC, &t.Explicit, &t.LastEnrichedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying track: %w", err)
	}
	return &t, nil
}

// Insert creates a new track row, generating an id if unset. A duplicate
// ISRC or MBID is absorbed as ErrConflict per §7's "conflict target is
// known (dedupe key)" — callers should re-fetch by the natural key.
func (r *TrackRepository) Insert(ctx context.Context, t *Track) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	query := `
		INSERT INTO tracks (id, title, duration_ms, mbid, isrc, explicit, last_enriched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query, t.ID, t.Title, t.DurationMs, t.MBID, t.ISRC, t.Explicit, t.LastEnrichedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting track: %w", err)
	}
	return nil
}

// ListStale returns up to limit tracks needing enrichment, unresolved
// (no mbid) tracks first, then the least-recently-enriched (§6 bulk sync).
func (r *TrackRepository) ListStale(ctx context.Context, limit int) ([]Track, error) {
	query := `
		SELECT id, title, duration_ms, mbid, isrc, explicit, last_enriched_at
		FROM tracks
		ORDER BY (mbid IS NULL) DESC, last_enriched_at ASC NULLS FIRST
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying stale tracks: %w", err)
	}
	defer rows.Close()

	var tracks []Track
	for rows.Next() {
		var t Track
		if err := rows.Scan(&t.ID, &t.Title, &t.DurationMs, &t.MBID, &t.ISRC, &t.Explicit, &t.LastEnrichedAt); err != nil {
			return nil, fmt.Errorf("scanning stale track: %w", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// AttachMBID sets a track's external id if unset.
func (r *TrackRepository) AttachMBID(ctx context.Context, id uuid.UUID, mbid string) (attached bool, err error) {
	result, err := r.pool.Exec(ctx, `UPDATE tracks SET mbid = $2 WHERE id = $1 AND mbid IS NULL`, id, mbid)
	if err != nil {
		return false, fmt.Errorf("attaching track mbid: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// UpdateEnrichment updates title/duration/isrc when newly available
// (§4.G "track.sync": "update title, duration, ISRC if absent").
func (r *TrackRepository) UpdateEnrichment(ctx context.Context, t *Track) error {
	query := `
		UPDATE tracks SET title = $2, duration_ms = COALESCE(duration_ms, $3), isrc = COALESCE(isrc, $4)
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, t.ID, t.Title, t.DurationMs, t.ISRC)
	if err != nil {
		return fmt.Errorf("updating track enrichment: %w", err)
	}
	return nil
}

// LinkArtist inserts (trackID, artistID) if the link is absent (§4.C
// LinkTrackArtists).
func (r *TrackRepository) LinkArtist(ctx context.Context, l TrackArtist) error {
	query := `
		INSERT INTO track_artists (track_id, artist_id, is_primary, "order", join_phrase)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (track_id, artist_id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, l.TrackID, l.ArtistID, l.IsPrimary, l.Order, l.JoinPhrase)
	if err != nil {
		return fmt.Errorf("linking track artist: %w", err)
	}
	return nil
}

// LinkAlbum inserts (trackID, albumID) if the link is absent (§4.C
// LinkTrackAlbum).
func (r *TrackRepository) LinkAlbum(ctx context.Context, l TrackAlbum) error {
	query := `
		INSERT INTO track_albums (track_id, album_id, disc_number, position)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (track_id, album_id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, l.TrackID, l.AlbumID, l.DiscNumber, l.Position)
	if err != nil {
		return fmt.Errorf("linking track album: %w", err)
	}
	return nil
}

// ListArtists returns the credited artists for a track, ordered by
// credit order.
func (r *TrackRepository) ListArtists(ctx context.Context, trackID uuid.UUID) ([]TrackArtist, error) {
	query := `
		SELECT track_id, artist_id, is_primary, "order", join_phrase
		FROM track_artists WHERE track_id = $1 ORDER BY "order"
	`
	rows, err := r.pool.Query(ctx, query, trackID)
	if err != nil {
		return nil, fmt.Errorf("querying track artists: %w", err)
	}
	defer rows.Close()

	var links []TrackArtist
	for rows.Next() {
		var l TrackArtist
		if err := rows.Scan(&l.TrackID, &l.ArtistID, &l.IsPrimary, &l.Order, &l.JoinPhrase); err != nil {
			return nil, fmt.Errorf("scanning track artist: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}
