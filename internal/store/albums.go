package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AlbumRepository handles album persistence, the album half of §4.C.
type AlbumRepository struct {
	pool *pgxpool.Pool
}

func (r *AlbumRepository) GetByMBID(ctx context.Context, mbid string) (*Album, error) {
	return r.scanOne(ctx, `
		SELECT id, primary_artist_id, title, release_date, mbid, image_url, last_enriched_at
		FROM albums WHERE mbid = $1`, mbid)
}

func (r *AlbumRepository) GetByTitleArtist(ctx context.Context, title string, primaryArtistID uuid.UUID) (*Album, error) {
	return r.scanOne(ctx, `
		SELECT id, primary_artist_id, title, release_date, mbid, image_url, last_enriched_at
		FROM albums WHERE title = $1 AND primary_artist_id = $2`, title, primaryArtistID)
}

func (r *AlbumRepository) Get(ctx context.Context, id uuid.UUID) (*Album, error) {
	return r.scanOne(ctx, `
		SELECT id, primary_artist_id, title, release_date, mbid, image_url, last_enriched_at
		FROM albums WHERE id = $1`, id)
}

func (r *AlbumRepository) scanOne(ctx context.Context, query string, args ...any) (*Album, error) {
	var a Album
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&a.ID, &a.PrimaryArtistID, &a.Title, &a.ReleaseDate, &a.MBID, &a.ImageURL, &a.LastEnrichedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying album: %w", err)
	}
	return &a, nil
}

// Insert creates a new album row, generating an id if unset.
func (r *AlbumRepository) Insert(ctx context.Context, a *Album) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	query := `
		INSERT INTO albums (id, primary_artist_id, title, release_date, mbid, image_url, last_enriched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query, a.ID, a.PrimaryArtistID, a.Title, a.ReleaseDate, a.MBID, a.ImageURL, a.LastEnrichedAt)
	if err != nil {
		return fmt.Errorf("inserting album: %w", err)
	}
	return nil
}

// AttachMBID sets an album's external id if unset, returning whether this
// call performed the attach.
func (r *AlbumRepository) AttachMBID(ctx context.Context, id uuid.UUID, mbid string) (attached bool, err error) {
	result, err := r.pool.Exec(ctx, `UPDATE albums SET mbid = $2 WHERE id = $1 AND mbid IS NULL`, id, mbid)
	if err != nil {
		return false, fmt.Errorf("attaching album mbid: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListStale returns up to limit albums needing enrichment, unresolved
// (no mbid) albums first, then the least-recently-enriched (§6 bulk sync).
func (r *AlbumRepository) ListStale(ctx context.Context, limit int) ([]Album, error) {
	query := `
		SELECT id, primary_artist_id, title, release_date, mbid, image_url, last_enriched_at
		FROM albums
		ORDER BY (mbid IS NULL) DESC, last_enriched_at ASC NULLS FIRST
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying stale albums: %w", err)
	}
	defer rows.Close()

	var albums []Album
	for rows.Next() {
		var a Album
		if err := rows.Scan(&a.ID, &a.PrimaryArtistID, &a.Title, &a.ReleaseDate, &a.MBID, &a.ImageURL, &a.LastEnrichedAt); err != nil {
			return nil, fmt.Errorf("scanning stale album: %w", err)
		}
		albums = append(albums, a)
	}
	return albums, rows.Err()
}

// UpdateEnrichment updates title/date/image on rediscovery and marks
// last_enriched_at (§4.G "album.sync": "update title/date if changed").
func (r *AlbumRepository) UpdateEnrichment(ctx context.Context, a *Album) error {
	query := `
		UPDATE albums SET title = $2, release_date = $3, image_url = COALESCE($4, image_url), last_enriched_at = NOW()
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, a.ID, a.Title, a.ReleaseDate, a.ImageURL)
	if err != nil {
		return fmt.Errorf("updating album enrichment: %w", err)
	}
	return nil
}
