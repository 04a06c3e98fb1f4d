// Package catalog is the canonical-store upsert-and-link layer (§4.C). It
// sits one layer above internal/store: store is a pure persistence
// boundary, catalog adds the cross-cutting business rule that attaching
// an external id to an artist fires a "sync relationships" enrichment
// job (fire-and-forget), composing store repositories the same way a
// batch sync service would.
package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/justestif/scrobbld/internal/store"
)

// Service implements the idempotent upsert contracts of §4.C.
type Service struct {
	db  *store.DB
	log zerolog.Logger
}

// New creates a catalog Service.
func New(db *store.DB, log zerolog.Logger) *Service {
	return &Service{db: db, log: log.With().Str("component", "catalog").Logger()}
}

// TrackMetadata is the input to UpsertTrack: everything the session
// engine or reconciler observed about a played track.
type TrackMetadata struct {
	Title      string
	DurationMs *int
	ISRC       *string
	MBID       *string
	Explicit   bool
	Artists    []ArtistCredit
	Album      *AlbumMetadata
}

// ArtistCredit is one credited performer on a track (§3 TrackArtist).
type ArtistCredit struct {
	Name       string
	MBID       *string
	IsPrimary  bool
	Order      int
	JoinPhrase string
}

// AlbumMetadata is the album a track appears on.
type AlbumMetadata struct {
	Title       string
	MBID        *string
	ReleaseDate *string
	ImageURL    *string
	DiscNumber  *int
	Position    *int
}

// UpsertArtist matches by mbid if provided, else by exact name. If the
// existing row lacks an mbid and one is now supplied, it is attached and
// an artist.sync_relationships job is enqueued fire-and-forget (§4.C).
func (s *Service) UpsertArtist(ctx context.Context, name string, mbid *string) (*store.Artist, error) {
	if mbid != nil && *mbid != "" {
		if a, err := s.db.Artists().GetByMBID(ctx, *mbid); err == nil {
			return a, nil
		} else if err != store.ErrNotFound {
			return nil, fmt.Errorf("looking up artist by mbid: %w", err)
		}
	}

	existing, err := s.db.Artists().GetByName(ctx, name)
	switch {
	case err == nil:
		if existing.MBID == nil && mbid != nil && *mbid != "" {
			attached, attachErr := s.db.Artists().AttachMBID(ctx, existing.ID, *mbid)
			if attachErr != nil {
				return nil, fmt.Errorf("attaching artist mbid: %w", attachErr)
			}
			if attached {
				existing.MBID = mbid
				s.enqueueFireAndForget(ctx, store.JobArtistSyncRelationships, store.EntityArtist, existing.ID)
			}
		}
		return existing, nil
	case err == store.ErrNotFound:
		a := &store.Artist{Name: name, MBID: mbid}
		if err := s.db.Artists().Insert(ctx, a); err != nil {
			if err == store.ErrConflict {
				return s.db.Artists().GetByName(ctx, name)
			}
			return nil, fmt.Errorf("inserting artist: %w", err)
		}
		if mbid != nil && *mbid != "" {
			s.enqueueFireAndForget(ctx, store.JobArtistSyncRelationships, store.EntityArtist, a.ID)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("looking up artist by name: %w", err)
	}
}

// UpsertAlbum matches by mbid, else by (title, primaryArtistID); mbid is
// back-attached on later discovery (§4.C).
func (s *Service) UpsertAlbum(ctx context.Context, meta AlbumMetadata, primaryArtistID uuid.UUID) (*store.Album, error) {
	if meta.MBID != nil && *meta.MBID != "" {
		if a, err := s.db.Albums().GetByMBID(ctx, *meta.MBID); err == nil {
			return a, nil
		} else if err != store.ErrNotFound {
			return nil, fmt.Errorf("looking up album by mbid: %w", err)
		}
	}

	existing, err := s.db.Albums().GetByTitleArtist(ctx, meta.Title, primaryArtistID)
	switch {
	case err == nil:
		if existing.MBID == nil && meta.MBID != nil && *meta.MBID != "" {
			if _, attachErr := s.db.Albums().AttachMBID(ctx, existing.ID, *meta.MBID); attachErr != nil {
				return nil, fmt.Errorf("attaching album mbid: %w", attachErr)
			}
			existing.MBID = meta.MBID
		}
		return existing, nil
	case err == store.ErrNotFound:
		a := &store.Album{
			PrimaryArtistID: primaryArtistID,
			Title:           meta.Title,
			MBID:            meta.MBID,
			ReleaseDate:     meta.ReleaseDate,
			ImageURL:        meta.ImageURL,
		}
		if err := s.db.Albums().Insert(ctx, a); err != nil {
			return nil, fmt.Errorf("inserting album: %w", err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("looking up album by title/artist: %w", err)
	}
}

// UpsertTrack matches by ISRC, then by mbid; mbid is back-attached if
// newly available (§4.C).
func (s *Service) UpsertTrack(ctx context.Context, meta TrackMetadata) (*store.Track, error) {
	if meta.ISRC != nil && *meta.ISRC != "" {
		if t, err := s.db.Tracks().GetByISRC(ctx, *meta.ISRC); err == nil {
			s.backfillTrackMBID(ctx, t, meta.MBID)
			return t, nil
		} else if err != store.ErrNotFound {
			return nil, fmt.Errorf("looking up track by isrc: %w", err)
		}
	}

	if meta.MBID != nil && *meta.MBID != "" {
		if t, err := s.db.Tracks().GetByMBID(ctx, *meta.MBID); err == nil {
			return t, nil
		} else if err != store.ErrNotFound {
			return nil, fmt.Errorf("looking up track by mbid: %w", err)
		}
	}

	t := &store.Track{
		Title:      meta.Title,
		DurationMs: meta.DurationMs,
		MBID:       meta.MBID,
		ISRC:       meta.ISRC,
		Explicit:   meta.Explicit,
	}
	if err := s.db.Tracks().Insert(ctx, t); err != nil {
		if err == store.ErrConflict {
			if meta.ISRC != nil && *meta.ISRC != "" {
				return s.db.Tracks().GetByISRC(ctx, *meta.ISRC)
			}
			if meta.MBID != nil && *meta.MBID != "" {
				return s.db.Tracks().GetByMBID(ctx, *meta.MBID)
			}
		}
		return nil, fmt.Errorf("inserting track: %w", err)
	}
	return t, nil
}

func (s *Service) backfillTrackMBID(ctx context.Context, t *store.Track, mbid *string) {
	if t.MBID != nil || mbid == nil || *mbid == "" {
		return
	}
	if _, err := s.db.Tracks().AttachMBID(ctx, t.ID, *mbid); err != nil {
		s.log.Warn().Err(err).Str("track_id", t.ID.String()).Msg("failed to backfill track mbid")
		return
	}
	t.MBID = mbid
}

// LinkTrackArtists upserts each credited artist, then links it to the
// track if the link is absent (§4.C).
func (s *Service) LinkTrackArtists(ctx context.Context, trackID uuid.UUID, credits []ArtistCredit) error {
	for _, c := range credits {
		artist, err := s.UpsertArtist(ctx, c.Name, c.MBID)
		if err != nil {
			return fmt.Errorf("upserting credited artist %q: %w", c.Name, err)
		}
		link := store.TrackArtist{
			TrackID:    trackID,
			ArtistID:   artist.ID,
			IsPrimary:  c.IsPrimary,
			Order:      c.Order,
			JoinPhrase: c.JoinPhrase,
		}
		if err := s.db.Tracks().LinkArtist(ctx, link); err != nil {
			return fmt.Errorf("linking artist %q: %w", c.Name, err)
		}
	}
	return nil
}

// LinkTrackAlbum inserts the track↔album link if absent (§4.C).
func (s *Service) LinkTrackAlbum(ctx context.Context, trackID, albumID uuid.UUID, discNumber, position *int) error {
	link := store.TrackAlbum{TrackID: trackID, AlbumID: albumID, DiscNumber: discNumber, Position: position}
	if err := s.db.Tracks().LinkAlbum(ctx, link); err != nil {
		return fmt.Errorf("linking track album: %w", err)
	}
	return nil
}

// ResolveAndLink upserts the track, its credited artists, and its album
// (if any) in the ordering §9's "always insert both endpoints before the
// edge" implies: artist(s) and album must exist before their link rows.
func (s *Service) ResolveAndLink(ctx context.Context, meta TrackMetadata) (*store.Track, error) {
	track, err := s.UpsertTrack(ctx, meta)
	if err != nil {
		return nil, err
	}

	if err := s.LinkTrackArtists(ctx, track.ID, meta.Artists); err != nil {
		return nil, err
	}

	if meta.Album != nil {
		var primaryArtistID uuid.UUID
		for _, c := range meta.Artists {
			if c.IsPrimary {
				a, err := s.UpsertArtist(ctx, c.Name, c.MBID)
				if err != nil {
					return nil, fmt.Errorf("resolving primary artist for album: %w", err)
				}
				primaryArtistID = a.ID
				break
			}
		}
		if primaryArtistID != uuid.Nil {
			album, err := s.UpsertAlbum(ctx, *meta.Album, primaryArtistID)
			if err != nil {
				return nil, err
			}
			if err := s.LinkTrackAlbum(ctx, track.ID, album.ID, meta.Album.DiscNumber, meta.Album.Position); err != nil {
				return nil, err
			}
		}
	}

	return track, nil
}

// enqueueFireAndForget enqueues a job and logs, but never fails, the
// caller's operation (§4.C: "fire-and-forget").
func (s *Service) enqueueFireAndForget(ctx context.Context, kind store.JobKind, entityKind store.EntityKind, entityID uuid.UUID) {
	_, err := s.db.Jobs().Enqueue(ctx, &store.EnrichmentJob{
		JobKind:    kind,
		EntityKind: entityKind,
		EntityID:   entityID,
		Priority:   0,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("job_kind", string(kind)).Str("entity_id", entityID.String()).Msg("fire-and-forget enqueue failed")
	}
}
