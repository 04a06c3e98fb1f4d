// Package enrich implements the Enrichment Worker (§4.G): it drains the
// job queue (internal/store's JobRepository) and dispatches each job kind
// against the MusicBrainz resolver, applying the date-precision
// membership-refinement rule for group↔member relationships, following
// a "resolve then persist" shape with jittered worker-loop pacing.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/justestif/scrobbld/internal/config"
	"github.com/justestif/scrobbld/internal/musicbrainz"
	"github.com/justestif/scrobbld/internal/store"
)

// ErrNoMatch is returned when a resolve_mbid job cannot find a confident
// match (§4.G: "attach mbid or fail with 'no match'").
var ErrNoMatch = errors.New("enrich: no confident match found")

// ErrPrecondition surfaces verbatim to the caller per §7 ("sync requested
// but entity has no external id").
var ErrPrecondition = errors.New("enrich: precondition failed")

// Worker claims and processes batches of EnrichmentJobs.
type Worker struct {
	db       *store.DB
	resolver *musicbrainz.Resolver
	cfg      config.Jobs
	pacing   config.Worker
	log      zerolog.Logger
}

// New constructs a Worker.
func New(db *store.DB, resolver *musicbrainz.Resolver, cfg config.Jobs, pacing config.Worker, log zerolog.Logger) *Worker {
	return &Worker{db: db, resolver: resolver, cfg: cfg, pacing: pacing, log: log.With().Str("component", "enrich.worker").Str("worker_id", pacing.ID).Logger()}
}

// Run claims and drains jobs until ctx is cancelled, pacing itself
// between jobs and idling when the queue is empty (§4.G worker pacing).
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		jobs, err := w.db.Jobs().Claim(ctx, w.pacing.ID, w.cfg.ClaimBatchSize, w.cfg.LeaseTimeout)
		if err != nil {
			w.log.Error().Err(err).Msg("claiming jobs")
			if !sleepJittered(ctx, w.pacing.PollInterval, 0.1) {
				return
			}
			continue
		}

		if len(jobs) == 0 {
			if !sleepJittered(ctx, w.pacing.PollInterval, 0.1) {
				return
			}
			continue
		}

		for _, job := range jobs {
			if ctx.Err() != nil {
				return
			}
			w.processJob(ctx, job)
			if !sleepJittered(ctx, w.pacing.JobDelay, 0.1) {
				return
			}
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job store.EnrichmentJob) {
	err := w.dispatch(ctx, job)
	if err == nil {
		if cerr := w.db.Jobs().Complete(ctx, job.ID, job.EntityKind, job.EntityID); cerr != nil {
			w.log.Error().Err(cerr).Str("job_id", job.ID.String()).Msg("marking job complete")
		}
		return
	}

	backoff := backoffDelay(w.cfg.BackoffBase, w.cfg.BackoffCap, w.cfg.BackoffMultiplier, job.Attempts+1)
	if ferr := w.db.Jobs().Fail(ctx, job.ID, err.Error(), backoff); ferr != nil {
		w.log.Error().Err(ferr).Str("job_id", job.ID.String()).Msg("marking job failed")
	}
	w.log.Warn().Err(err).Str("job_id", job.ID.String()).Str("job_kind", string(job.JobKind)).Msg("job failed")
}

func (w *Worker) dispatch(ctx context.Context, job store.EnrichmentJob) error {
	switch job.JobKind {
	case store.JobArtistResolveMBID:
		return w.artistResolveMBID(ctx, job.EntityID)
	case store.JobArtistSyncRelationships:
		return w.artistSyncRelationships(ctx, job.EntityID)
	case store.JobAlbumResolveMBID:
		return w.albumResolveMBID(ctx, job.EntityID)
	case store.JobAlbumSync:
		return w.albumSync(ctx, job.EntityID)
	case store.JobTrackResolveMBID:
		return w.trackResolveMBID(ctx, job.EntityID)
	case store.JobTrackSync:
		return w.trackSync(ctx, job.EntityID)
	default:
		return fmt.Errorf("unknown job kind %q", job.JobKind)
	}
}

func (w *Worker) artistResolveMBID(ctx context.Context, artistID uuid.UUID) error {
	artist, err := w.db.Artists().Get(ctx, artistID)
	if err != nil {
		return fmt.Errorf("loading artist: %w", err)
	}

	mbid, err := w.resolver.SearchArtist(ctx, artist.Name)
	if err != nil {
		return fmt.Errorf("searching artist: %w", err)
	}
	if mbid == nil {
		return ErrNoMatch
	}

	if _, err := w.db.Artists().AttachMBID(ctx, artistID, *mbid); err != nil {
		return fmt.Errorf("attaching mbid: %w", err)
	}
	return nil
}

func (w *Worker) artistSyncRelationships(ctx context.Context, artistID uuid.UUID) error {
	artist, err := w.db.Artists().Get(ctx, artistID)
	if err != nil {
		return fmt.Errorf("loading artist: %w", err)
	}
	if artist.MBID == nil {
		return fmt.Errorf("%w: artist has no mbid", ErrPrecondition)
	}

	details, err := w.resolver.ArtistDetails(ctx, *artist.MBID)
	if err != nil {
		return fmt.Errorf("fetching artist details: %w", err)
	}
	if details == nil {
		return ErrNoMatch
	}

	isGroup := artist.Type != nil && *artist.Type == store.ArtistTypeGroup

	for _, rel := range details.Relations {
		if rel.Type != "member of band" {
			continue
		}

		counterpart, err := w.upsertArtistFromRelation(ctx, rel.Artist)
		if err != nil {
			w.log.Warn().Err(err).Str("relation_artist", rel.Artist.Name).Msg("resolving relation counterpart")
			continue
		}

		var memberID, groupID uuid.UUID
		if isGroup {
			// rel.Direction == "backward" means rel.Artist is a member of this group.
			memberID, groupID = counterpart.ID, artistID
		} else {
			memberID, groupID = artistID, counterpart.ID
		}

		if err := w.upsertMembership(ctx, memberID, groupID, rel); err != nil {
			w.log.Warn().Err(err).Str("member_id", memberID.String()).Str("group_id", groupID.String()).Msg("upserting membership stint")
		}
	}
	return nil
}

func (w *Worker) upsertArtistFromRelation(ctx context.Context, ra musicbrainz.Artist) (*store.Artist, error) {
	if existing, err := w.db.Artists().GetByMBID(ctx, ra.ID); err == nil {
		return existing, nil
	} else if err != store.ErrNotFound {
		return nil, err
	}

	artistType := mapArtistType(ra.Type)
	a := &store.Artist{Name: ra.Name, MBID: &ra.ID, Type: artistType}
	if ra.LifeSpan.Begin != "" {
		a.BeginDateRaw = &ra.LifeSpan.Begin
	}
	if ra.LifeSpan.End != "" {
		a.EndDateRaw = &ra.LifeSpan.End
	}
	if ra.Gender != "" {
		a.Gender = &ra.Gender
	}
	if err := w.db.Artists().Insert(ctx, a); err != nil {
		if err == store.ErrConflict {
			return w.db.Artists().GetByMBID(ctx, ra.ID)
		}
		return nil, err
	}
	return a, nil
}

// upsertMembership implements §4.G's membership precision-refinement
// rule for one candidate stint.
func (w *Worker) upsertMembership(ctx context.Context, memberID, groupID uuid.UUID, rel musicbrainz.Relation) error {
	var beginRaw, endRaw *string
	if rel.Begin != "" {
		beginRaw = &rel.Begin
	}
	if rel.End != "" {
		endRaw = &rel.End
	}

	stints, err := w.db.Memberships().ListForPair(ctx, memberID, groupID)
	if err != nil {
		return fmt.Errorf("listing existing stints: %w", err)
	}

	for i := range stints {
		s := &stints[i]
		if rawEqual(s.BeginDateRaw, beginRaw) && rawEqual(s.EndDateRaw, endRaw) {
			if s.Ended != rel.Ended {
				s.Ended = rel.Ended
				return w.db.Memberships().Update(ctx, s)
			}
			return nil
		}
	}

	for i := range stints {
		s := &stints[i]
		if !store.PrefixCompatible(s.BeginDateRaw, beginRaw) || !store.PrefixCompatible(s.EndDateRaw, endRaw) {
			continue
		}

		changed := false
		if store.Refines(s.BeginDateRaw, beginRaw) {
			s.BeginDateRaw = beginRaw
			if t, ok := store.ParseDatePrecision(*beginRaw); ok {
				s.BeginDate = &t
			}
			changed = true
		}
		if store.Refines(s.EndDateRaw, endRaw) {
			s.EndDateRaw = endRaw
			if t, ok := store.ParseDatePrecision(*endRaw); ok {
				s.EndDate = &t
			}
			changed = true
		}
		if s.Ended != rel.Ended {
			s.Ended = rel.Ended
			changed = true
		}
		if changed {
			return w.db.Memberships().Update(ctx, s)
		}
		return nil
	}

	m := &store.ArtistGroupMembership{
		MemberID:     memberID,
		GroupID:      groupID,
		BeginDateRaw: beginRaw,
		EndDateRaw:   endRaw,
		Ended:        rel.Ended,
	}
	if beginRaw != nil {
		if t, ok := store.ParseDatePrecision(*beginRaw); ok {
			m.BeginDate = &t
		}
	}
	if endRaw != nil {
		if t, ok := store.ParseDatePrecision(*endRaw); ok {
			m.EndDate = &t
		}
	}
	return w.db.Memberships().Insert(ctx, m)
}

func rawEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func mapArtistType(t string) *store.ArtistType {
	if t == "" {
		return nil
	}
	var at store.ArtistType
	switch t {
	case "Person":
		at = store.ArtistTypePerson
	case "Group":
		at = store.ArtistTypeGroup
	case "Orchestra":
		at = store.ArtistTypeOrchestra
	case "Choir":
		at = store.ArtistTypeChoir
	case "Character":
		at = store.ArtistTypeCharacter
	default:
		at = store.ArtistTypeOther
	}
	return &at
}

func (w *Worker) albumResolveMBID(ctx context.Context, albumID uuid.UUID) error {
	album, err := w.db.Albums().Get(ctx, albumID)
	if err != nil {
		return fmt.Errorf("loading album: %w", err)
	}
	artist, err := w.db.Artists().Get(ctx, album.PrimaryArtistID)
	if err != nil {
		return fmt.Errorf("loading primary artist: %w", err)
	}

	releaseID, err := w.resolver.SearchRelease(ctx, album.Title, artist.Name)
	if err != nil {
		return fmt.Errorf("searching release: %w", err)
	}
	if releaseID == nil {
		return ErrNoMatch
	}

	if _, err := w.db.Albums().AttachMBID(ctx, albumID, *releaseID); err != nil {
		return fmt.Errorf("attaching mbid: %w", err)
	}
	return nil
}

func (w *Worker) albumSync(ctx context.Context, albumID uuid.UUID) error {
	album, err := w.db.Albums().Get(ctx, albumID)
	if err != nil {
		return fmt.Errorf("loading album: %w", err)
	}
	if album.MBID == nil {
		return fmt.Errorf("%w: album has no mbid", ErrPrecondition)
	}

	rel, err := w.resolver.ReleaseDetails(ctx, *album.MBID)
	if err != nil {
		return fmt.Errorf("fetching release details: %w", err)
	}
	if rel == nil {
		return ErrNoMatch
	}

	if rel.Title != "" && rel.Title != album.Title {
		album.Title = rel.Title
	}
	if rel.Date != "" && (album.ReleaseDate == nil || *album.ReleaseDate != rel.Date) {
		album.ReleaseDate = &rel.Date
	}
	if album.ImageURL == nil {
		if cover := w.resolver.CoverURL(ctx, *album.MBID); cover != nil {
			album.ImageURL = cover
		}
	}

	return w.db.Albums().UpdateEnrichment(ctx, album)
}

func (w *Worker) trackResolveMBID(ctx context.Context, trackID uuid.UUID) error {
	track, err := w.db.Tracks().Get(ctx, trackID)
	if err != nil {
		return fmt.Errorf("loading track: %w", err)
	}

	if track.ISRC != nil && *track.ISRC != "" {
		recID, err := w.resolver.RecordingByISRC(ctx, *track.ISRC)
		if err != nil {
			return fmt.Errorf("resolving by isrc: %w", err)
		}
		if recID != nil {
			_, err := w.db.Tracks().AttachMBID(ctx, trackID, *recID)
			return err
		}
	}

	artists, err := w.db.Tracks().ListArtists(ctx, trackID)
	if err != nil {
		return fmt.Errorf("listing track artists: %w", err)
	}
	var primaryName string
	for _, a := range artists {
		if a.IsPrimary {
			artist, err := w.db.Artists().Get(ctx, a.ArtistID)
			if err == nil {
				primaryName = artist.Name
			}
			break
		}
	}

	recID, err := w.resolver.RecordingBySearch(ctx, track.Title, primaryName, "")
	if err != nil {
		return fmt.Errorf("searching recording: %w", err)
	}
	if recID == nil {
		return ErrNoMatch
	}
	_, err = w.db.Tracks().AttachMBID(ctx, trackID, *recID)
	return err
}

func (w *Worker) trackSync(ctx context.Context, trackID uuid.UUID) error {
	track, err := w.db.Tracks().Get(ctx, trackID)
	if err != nil {
		return fmt.Errorf("loading track: %w", err)
	}
	if track.MBID == nil {
		return fmt.Errorf("%w: track has no mbid", ErrPrecondition)
	}

	rec, err := w.resolver.RecordingDetails(ctx, *track.MBID)
	if err != nil {
		return fmt.Errorf("fetching recording details: %w", err)
	}
	if rec == nil {
		return ErrNoMatch
	}

	if rec.Title != "" {
		track.Title = rec.Title
	}
	if track.DurationMs == nil && rec.Length > 0 {
		track.DurationMs = &rec.Length
	}
	if track.ISRC == nil && len(rec.ISRCs) > 0 {
		track.ISRC = &rec.ISRCs[0]
	}

	return w.db.Tracks().UpdateEnrichment(ctx, track)
}

// backoffDelay computes attempt N's delay per §4.F: min(base *
// mult^(attempts-1), cap), no jitter (unlike §4.A — the job's own
// run_after column already spaces retries, so jitter here would just
// blur the "first retry is exactly base" testable property in §8).
func backoffDelay(base, cap time.Duration, multiplier float64, attempts int) time.Duration {
	d := float64(base)
	for i := 1; i < attempts; i++ {
		d *= multiplier
		if time.Duration(d) > cap {
			return cap
		}
	}
	result := time.Duration(d)
	if result > cap {
		return cap
	}
	return result
}

// sleepJittered sleeps base ± jitterFrac, returning false if ctx is
// cancelled first.
func sleepJittered(ctx context.Context, base time.Duration, jitterFrac float64) bool {
	factor := 1 - jitterFrac + rand.Float64()*2*jitterFrac
	d := time.Duration(float64(base) * factor)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
