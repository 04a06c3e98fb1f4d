// Package store is the canonical relational store: entities, the
// idempotent upsert/link layer (§4.C), scrobble persistence, the
// playback session row, the scrobble cursor, and enrichment job rows.
// One *Repository type per aggregate, backed by a shared *pgxpool.Pool,
// parameterized SQL, and ON CONFLICT upserts.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get-style lookups that find no row.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a unique constraint absorbs a duplicate
// write; callers treat it as success (§7 "Conflict").
var ErrConflict = errors.New("conflict")

// Role is a User's access level.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is an authenticated identity, created on first authentication.
type User struct {
	ID        uuid.UUID
	Email     string
	Username  *string
	Role      Role
	CreatedAt time.Time
}

// Provider names an external streaming provider. Spotify is the only one
// implemented; the type exists so the schema does not hardcode it.
type Provider string

const ProviderSpotify Provider = "spotify"

// Account links a User to one streaming provider.
type Account struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Provider     Provider
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // absolute epoch, not a relative duration (§4.H)
	Scope        string
	ExternalID   string
}

// ArtistType enumerates MusicBrainz's artist-type vocabulary.
type ArtistType string

const (
	ArtistTypePerson     ArtistType = "person"
	ArtistTypeGroup      ArtistType = "group"
	ArtistTypeOrchestra  ArtistType = "orchestra"
	ArtistTypeChoir      ArtistType = "choir"
	ArtistTypeCharacter  ArtistType = "character"
	ArtistTypeOther      ArtistType = "other"
)

// Artist is a canonical performer, shared across all users.
type Artist struct {
	ID              uuid.UUID
	Name            string
	MBID            *string
	Type            *ArtistType
	Gender          *string
	BeginDateRaw    *string
	EndDateRaw      *string
	ImageURL        *string
	LastEnrichedAt  *time.Time
}

// ArtistGroupMembership is one membership stint of a member-artist in a
// group-artist (§3, §4.G). Multiple stints may exist per (member, group).
type ArtistGroupMembership struct {
	ID             uuid.UUID
	MemberID       uuid.UUID
	GroupID        uuid.UUID
	BeginDateRaw   *string
	EndDateRaw     *string
	BeginDate      *time.Time
	EndDate        *time.Time
	Ended          bool
}

// Album is a canonical release, shared across all users.
type Album struct {
	ID             uuid.UUID
	PrimaryArtistID uuid.UUID
	Title          string
	ReleaseDate    *string
	MBID           *string
	ImageURL       *string
	LastEnrichedAt *time.Time
}

// Track is a canonical recording, shared across all users.
type Track struct {
	ID             uuid.UUID
	Title          string
	DurationMs     *int
	MBID           *string
	ISRC           *string
	Explicit       bool
	LastEnrichedAt *time.Time
}

// TrackArtist links a Track to a credited Artist.
type TrackArtist struct {
	TrackID    uuid.UUID
	ArtistID   uuid.UUID
	IsPrimary  bool
	Order      int
	JoinPhrase string
}

// TrackAlbum links a Track to an Album.
type TrackAlbum struct {
	TrackID    uuid.UUID
	AlbumID    uuid.UUID
	DiscNumber *int
	Position   *int
}

// Scrobble is one recorded play.
type Scrobble struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	TrackID           uuid.UUID
	AlbumID           *uuid.UUID
	PlayedAt          time.Time
	PlayedDurationMs  int64
	Skipped           bool
	Provider          Provider
	ImportBatchID     *uuid.UUID
}

// ScrobbleCursor tracks the highest played_at successfully processed by
// the reconciler for one (user, provider) pair (§3, §4.E).
type ScrobbleCursor struct {
	UserID         uuid.UUID
	Provider       Provider
	LastPlayedAt   time.Time
}

// PlaybackSession is the singleton in-flight session row per (user,
// provider) (§3, §4.D). MetadataSnapshot is the JSON encoding of the
// track metadata captured when the session began (the session engine's
// converted track record, not the provider's raw response); finalization
// never re-queries the provider for it.
type PlaybackSession struct {
	UserID           uuid.UUID
	Provider         Provider
	TrackURI         string
	StartedAt        time.Time
	LastSeenAt       time.Time
	LastProgressMs   int64
	AccumulatedMs    int64
	IsPlaying        bool
	TrackDurationMs  *int64
	MetadataSnapshot []byte // JSON
	Scrobbled        bool
}

// JobStatus is an EnrichmentJob's lifecycle state.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// JobKind names the enrichment operation an EnrichmentJob performs.
type JobKind string

const (
	JobArtistResolveMBID     JobKind = "artist.resolve_mbid"
	JobArtistSyncRelationships JobKind = "artist.sync_relationships"
	JobAlbumResolveMBID      JobKind = "album.resolve_mbid"
	JobAlbumSync             JobKind = "album.sync"
	JobTrackResolveMBID      JobKind = "track.resolve_mbid"
	JobTrackSync             JobKind = "track.sync"
)

// EntityKind names the aggregate an EnrichmentJob operates on.
type EntityKind string

const (
	EntityArtist EntityKind = "artist"
	EntityAlbum  EntityKind = "album"
	EntityTrack  EntityKind = "track"
)

// EnrichmentJob is a database-backed unit of enrichment work (§4.F).
type EnrichmentJob struct {
	ID          uuid.UUID
	JobKind     JobKind
	EntityKind  EntityKind
	EntityID    uuid.UUID
	Status      JobStatus
	Priority    int
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	LockedAt    *time.Time
	LockedBy    *string
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
