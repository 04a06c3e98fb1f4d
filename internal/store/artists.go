package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ArtistRepository handles artist persistence and the artist half of the
// canonical upsert layer (§4.C). Business-level side effects (enqueuing an
// enrichment job when an MBID is newly attached) live one layer up, in
// internal/catalog, so this package stays a pure persistence boundary.
type ArtistRepository struct {
	pool *pgxpool.Pool
}

// GetByMBID retrieves an artist by external id.
func (r *ArtistRepository) GetByMBID(ctx context.Context, mbid string) (*Artist, error) {
	return r.scanOne(ctx, `
		SELECT id, name, mbid, type, gender, begin_date_raw, end_date_raw, image_url, last_enriched_at
		FROM artists WHERE mbid = $1`, mbid)
}

// GetByName retrieves an artist by exact display name.
func (r *ArtistRepository) GetByName(ctx context.Context, name string) (*Artist, error) {
	return r.scanOne(ctx, `
		SELECT id, name, mbid, type, gender, begin_date_raw, end_date_raw, image_url, last_enriched_at
		FROM artists WHERE name = $1`, name)
}

// Get retrieves an artist by id.
func (r *ArtistRepository) Get(ctx context.Context, id uuid.UUID) (*Artist, error) {
	return r.scanOne(ctx, `
		SELECT id, name, mbid, type, gender, begin_date_raw, end_date_raw, image_url, last_enriched_at
		FROM artists WHERE id = $1`, id)
}

func (r *ArtistRepository) scanOne(ctx context.Context, query string, arg any) (*Artist, error) {
	var a Artist
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&a.ID, &a.Name, &a.MBID, &a.Type, &a.Gender, &a.BeginDateRaw, &a.EndDateRaw, &a.ImageURL, &a.LastEnrichedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying artist: %w", err)
	}
	return &a, nil
}

// Insert creates a new artist row, generating an id if unset.
func (r *ArtistRepository) Insert(ctx context.Context, a *Artist) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	query := `
		INSERT INTO artists (id, name, mbid, type, gender, begin_date_raw, end_date_raw, image_url, last_enriched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query, a.ID, a.Name, a.MBID, a.Type, a.Gender, a.BeginDateRaw, a.EndDateRaw, a.ImageURL, a.LastEnrichedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting artist: %w", err)
	}
	return nil
}

// AttachMBID sets an artist's external id if it was previously unset.
// Returns (attached=true) only when this call is the one that set it,
// which the catalog layer uses to decide whether to fire an enrichment job.
func (r *ArtistRepository) AttachMBID(ctx context.Context, id uuid.UUID, mbid string) (attached bool, err error) {
	query := `UPDATE artists SET mbid = $2 WHERE id = $1 AND mbid IS NULL`
	result, err := r.pool.Exec(ctx, query, id, mbid)
	if err != nil {
		return false, fmt.Errorf("attaching artist mbid: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// UpdateEnrichment updates the type/gender/dates/image and marks the
// artist as freshly enriched.
func (r *ArtistRepository) UpdateEnrichment(ctx context.Context, a *Artist) error {
	query := `
		UPDATE artists SET type = $2, gender = $3, begin_date_raw = $4, end_date_raw = $5,
			image_url = $6, last_enriched_at = NOW()
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, a.ID, a.Type, a.Gender, a.BeginDateRaw, a.EndDateRaw, a.ImageURL)
	if err != nil {
		return fmt.Errorf("updating artist enrichment: %w", err)
	}
	return nil
}

// TopSolo returns solo artists (type person or unset) ranked by scrobble
// count, for the read-side "top solo artists" dashboard (§6).
func (r *ArtistRepository) TopSolo(ctx context.Context, userID uuid.UUID, limit int) ([]Artist, error) {
	query := `
		SELECT a.id, a.name, a.mbid, a.type, a.gender, a.begin_date_raw, a.end_date_raw, a.image_url, a.last_enriched_at
		FROM artists a
		JOIN track_artists ta ON ta.artist_id = a.id AND ta.is_primary
		JOIN scrobbles s ON s.track_id = ta.track_id AND s.user_id = $1
		WHERE a.type IS NULL OR a.type = 'person'
		GROUP BY a.id
		ORDER BY COUNT(s.id) DESC
		LIMIT $2
	`
	return r.queryMany(ctx, query, userID, limit)
}

// TopGroups returns group artists ranked by scrobble count (§6).
func (r *ArtistRepository) TopGroups(ctx context.Context, userID uuid.UUID, limit int) ([]Artist, error) {
	query := `
		SELECT a.id, a.name, a.mbid, a.type, a.gender, a.begin_date_raw, a.end_date_raw, a.image_url, a.last_enriched_at
		FROM artists a
		JOIN track_artists ta ON ta.artist_id = a.id AND ta.is_primary
		JOIN scrobbles s ON s.track_id = ta.track_id AND s.user_id = $1
		WHERE a.type = 'group'
		GROUP BY a.id
		ORDER BY COUNT(s.id) DESC
		LIMIT $2
	`
	return r.queryMany(ctx, query, userID, limit)
}

// ListStale returns up to limit artists needing enrichment, unresolved
// (no mbid) artists first, then the least-recently-enriched — the
// candidate set for a bulk sync request (§6).
func (r *ArtistRepository) ListStale(ctx context.Context, limit int) ([]Artist, error) {
	query := `
		SELECT id, name, mbid, type, gender, begin_date_raw, end_date_raw, image_url, last_enriched_at
		FROM artists
		ORDER BY (mbid IS NULL) DESC, last_enriched_at ASC NULLS FIRST
		LIMIT $1
	`
	return r.queryMany(ctx, query, limit)
}

func (r *ArtistRepository) queryMany(ctx context.Context, query string, args ...any) ([]Artist, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying artists: %w", err)
	}
	defer rows.Close()

	var artists []Artist
	for rows.Next() {
		var a Artist
		if err := rows.Scan(&a.ID, &a.Name, &a.MBID, &a.Type, &a.Gender, &a.BeginDateRaw, &a.EndDateRaw, &a.ImageURL, &a.LastEnrichedAt); err != nil {
			return nil, fmt.Errorf("scanning artist: %w", err)
		}
		artists = append(artists, a)
	}
	return artists, rows.Err()
}

// MembershipRepository handles ArtistGroupMembership persistence (§3, §4.G).
type MembershipRepository struct {
	pool *pgxpool.Pool
}

// ListForPair returns every stint for a (member, group) pair, oldest
// stints first — the candidate set for the §4.G refinement rule.
func (r *MembershipRepository) ListForPair(ctx context.Context, memberID, groupID uuid.UUID) ([]ArtistGroupMembership, error) {
	query := `
		SELECT id, member_id, group_id, begin_date_raw, end_date_raw, begin_date, end_date, ended
		FROM artist_group_memberships
		WHERE member_id = $1 AND group_id = $2
		ORDER BY begin_date NULLS FIRST
	`
	rows, err := r.pool.Query(ctx, query, memberID, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying memberships: %w", err)
	}
	defer rows.Close()

	var stints []ArtistGroupMembership
	for rows.Next() {
		var m ArtistGroupMembership
		if err := rows.Scan(&m.ID, &m.MemberID, &m.GroupID, &m.BeginDateRaw, &m.EndDateRaw, &m.BeginDate, &m.EndDate, &m.Ended); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		stints = append(stints, m)
	}
	return stints, rows.Err()
}

// Insert creates a new membership stint.
func (r *MembershipRepository) Insert(ctx context.Context, m *ArtistGroupMembership) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	query := `
		INSERT INTO artist_group_memberships (id, member_id, group_id, begin_date_raw, end_date_raw, begin_date, end_date, ended)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (member_id, group_id, begin_date_raw, end_date_raw) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, m.ID, m.MemberID, m.GroupID, m.BeginDateRaw, m.EndDateRaw, m.BeginDate, m.EndDate, m.Ended)
	if err != nil {
		return fmt.Errorf("inserting membership: %w", err)
	}
	return nil
}

// Update rewrites a stint's raw/normalized dates and ended flag, applying
// the §4.G refinement rule's chosen values.
func (r *MembershipRepository) Update(ctx context.Context, m *ArtistGroupMembership) error {
	query := `
		UPDATE artist_group_memberships
		SET begin_date_raw = $2, end_date_raw = $3, begin_date = $4, end_date = $5, ended = $6
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, m.ID, m.BeginDateRaw, m.EndDateRaw, m.BeginDate, m.EndDate, m.Ended)
	if err != nil {
		return fmt.Errorf("updating membership: %w", err)
	}
	return nil
}

// ListMembers returns every membership stint where groupID is the group,
// for the artist-detail "groups → members" view (§6).
func (r *MembershipRepository) ListMembers(ctx context.Context, groupID uuid.UUID) ([]ArtistGroupMembership, error) {
	query := `
		SELECT id, member_id, group_id, begin_date_raw, end_date_raw, begin_date, end_date, ended
		FROM artist_group_memberships WHERE group_id = $1 ORDER BY begin_date NULLS LAST
	`
	rows, err := r.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying group members: %w", err)
	}
	defer rows.Close()

	var stints []ArtistGroupMembership
	for rows.Next() {
		var m ArtistGroupMembership
		if err := rows.Scan(&m.ID, &m.MemberID, &m.GroupID, &m.BeginDateRaw, &m.EndDateRaw, &m.BeginDate, &m.EndDate, &m.Ended); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		stints = append(stints, m)
	}
	return stints, rows.Err()
}

// ListGroups returns every membership stint where memberID is the member,
// for the artist-detail "persons → groups" view (§6).
func (r *MembershipRepository) ListGroups(ctx context.Context, memberID uuid.UUID) ([]ArtistGroupMembership, error) {
	query := `
		SELECT id, member_id, group_id, begin_date_raw, end_date_raw, begin_date, end_date, ended
		FROM artist_group_memberships WHERE member_id = $1 ORDER BY begin_date NULLS LAST
	`
	rows, err := r.pool.Query(ctx, query, memberID)
	if err != nil {
		return nil, fmt.Errorf("querying artist groups: %w", err)
	}
	defer rows.Close()

	var stints []ArtistGroupMembership
	for rows.Next() {
		var m ArtistGroupMembership
		if err := rows.Scan(&m.ID, &m.MemberID, &m.GroupID, &m.BeginDateRaw, &m.EndDateRaw, &m.BeginDate, &m.EndDate, &m.Ended); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		stints = append(stints, m)
	}
	return stints, rows.Err()
}
