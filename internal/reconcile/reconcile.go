// Package reconcile implements the Recently-Played Reconciler (§4.E): a
// slower safety-net loop that estimates per-play duration from
// inter-arrival times and backfills scrobbles the session engine missed.
// Follows a batch-fetch-then-persist shape generalized to a
// cursor-bounded incremental pull.
package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/justestif/scrobbld/internal/catalog"
	"github.com/justestif/scrobbld/internal/config"
	"github.com/justestif/scrobbld/internal/musicbrainz"
	provider "github.com/justestif/scrobbld/internal/provider/spotify"
	"github.com/justestif/scrobbld/internal/store"
)

// Reconciler runs one recently-played backfill cycle across all eligible
// accounts.
type Reconciler struct {
	db       *store.DB
	catalog  *catalog.Service
	tokens   *provider.TokenSource
	resolver *musicbrainz.Resolver
	cfg      config.Reconcile
	session  config.Session // shares the §4.D threshold knobs
	log      zerolog.Logger
}

// New constructs a Reconciler.
func New(db *store.DB, cat *catalog.Service, tokens *provider.TokenSource, resolver *musicbrainz.Resolver, cfg config.Reconcile, sessionCfg config.Session, log zerolog.Logger) *Reconciler {
	return &Reconciler{db: db, catalog: cat, tokens: tokens, resolver: resolver, cfg: cfg, session: sessionCfg, log: log.With().Str("component", "reconcile").Logger()}
}

// RunCycle processes one backfill pass across all Spotify accounts.
func (r *Reconciler) RunCycle(ctx context.Context) {
	accounts, err := r.db.Accounts().ListEligible(ctx, store.ProviderSpotify)
	if err != nil {
		r.log.Error().Err(err).Msg("listing eligible accounts")
		return
	}

	for _, account := range accounts {
		if ctx.Err() != nil {
			return
		}
		if err := r.processAccount(ctx, account); err != nil {
			r.log.Warn().Err(err).Str("user_id", account.UserID.String()).Msg("reconcile cycle failed, skipping this account")
		}
	}
}

func (r *Reconciler) processAccount(ctx context.Context, account store.Account) error {
	client, err := r.tokens.ClientFor(ctx, &account)
	if err != nil {
		return fmt.Errorf("resolving client: %w", err)
	}
	sp := provider.New(client)

	cursor, err := r.db.Scrobbles().GetCursor(ctx, account.UserID, store.ProviderSpotify)
	if err != nil {
		return fmt.Errorf("reading cursor: %w", err)
	}

	limit := r.cfg.RecentlyPlayedCap
	plays, err := sp.RecentlyPlayed(ctx, cursor, limit)
	if err != nil {
		return fmt.Errorf("fetching recently played: %w", err)
	}
	if len(plays) == 0 {
		return nil
	}

	// Ascending by played_at (§4.E step 4).
	sortAscending(plays)

	maxPlayedAt := cursor
	for i, play := range plays {
		if play.PlayedAt.After(maxPlayedAt) {
			maxPlayedAt = play.PlayedAt
		}

		estimatedMs := estimateDurationMs(plays, i)

		if !meetsThreshold(estimatedMs, play.Track.DurationMs, r.session.MinPlaySeconds, r.session.MinPlayPercent) {
			continue
		}

		if err := r.insertBackfilled(ctx, account, play, estimatedMs); err != nil {
			r.log.Warn().Err(err).Str("track_uri", play.Track.URI).Msg("backfilling play failed")
		}
	}

	// §4.E step 8: cursor advances to the max played_at seen, even for
	// below-threshold plays — decided explicitly, see DESIGN.md.
	if maxPlayedAt.After(cursor) {
		if err := r.db.Scrobbles().AdvanceCursor(ctx, account.UserID, store.ProviderSpotify, maxPlayedAt); err != nil {
			return fmt.Errorf("advancing cursor: %w", err)
		}
	}
	return nil
}

func (r *Reconciler) insertBackfilled(ctx context.Context, account store.Account, play provider.RecentPlay, estimatedMs int64) error {
	meta := trackInfoToMetadata(ctx, play.Track, r.resolver)
	dbTrack, err := r.catalog.ResolveAndLink(ctx, meta)
	if err != nil {
		return fmt.Errorf("resolving track: %w", err)
	}

	// §4.E step 7: dedupe window is track-scoped and ±10 min, asymmetric
	// with the session engine's provider-scoped ±5 s window (§9) because
	// played_at here marks the end of the play, not the start.
	exists, err := r.db.Scrobbles().ExistsNear(ctx, account.UserID, dbTrack.ID, play.PlayedAt, r.cfg.DedupeWindow)
	if err != nil {
		return fmt.Errorf("checking dedupe window: %w", err)
	}
	if exists {
		return nil
	}

	skipped := estimatedMs < play.Track.DurationMs*int64(r.session.SkipThresholdPct)/100
	scrobble := &store.Scrobble{
		UserID:           account.UserID,
		TrackID:          dbTrack.ID,
		PlayedAt:         play.PlayedAt,
		PlayedDurationMs: estimatedMs,
		Skipped:          skipped,
		Provider:         store.ProviderSpotify,
	}
	if err := r.db.Scrobbles().Insert(ctx, scrobble); err != nil && err != store.ErrConflict {
		return fmt.Errorf("inserting scrobble: %w", err)
	}
	return nil
}

func meetsThreshold(accumulatedMs, durationMs int64, minPlaySeconds, minPlayPercent int) bool {
	if accumulatedMs >= int64(minPlaySeconds)*1000 {
		return true
	}
	return accumulatedMs >= durationMs*int64(minPlayPercent)/100
}

// estimateDurationMs implements §4.E's inter-arrival estimation: the
// smaller of the track's own duration and the gap to the next play, or
// the full track duration for the last item in the batch.
func estimateDurationMs(plays []provider.RecentPlay, i int) int64 {
	estimated := plays[i].Track.DurationMs
	if i+1 < len(plays) {
		gap := plays[i+1].PlayedAt.Sub(plays[i].PlayedAt).Milliseconds()
		if gap < estimated {
			estimated = gap
		}
	}
	return estimated
}

func sortAscending(plays []provider.RecentPlay) {
	for i := 1; i < len(plays); i++ {
		for j := i; j > 0 && plays[j].PlayedAt.Before(plays[j-1].PlayedAt); j-- {
			plays[j], plays[j-1] = plays[j-1], plays[j]
		}
	}
}

func trackInfoToMetadata(ctx context.Context, t provider.TrackInfo, resolver *musicbrainz.Resolver) catalog.TrackMetadata {
	credits := make([]catalog.ArtistCredit, 0, len(t.Artists))
	for i, a := range t.Artists {
		credits = append(credits, catalog.ArtistCredit{Name: a.Name, IsPrimary: i == 0, Order: i})
	}

	var mbid *string
	if resolver != nil && t.ISRC != "" {
		if rec, err := resolver.RecordingByISRC(ctx, t.ISRC); err == nil && rec != nil {
			mbid = rec
		}
	}

	var isrc *string
	if t.ISRC != "" {
		isrc = &t.ISRC
	}
	duration := int(t.DurationMs)

	var album *catalog.AlbumMetadata
	if t.Album.Title != "" {
		var imageURL *string
		if t.Album.ImageURL != "" {
			imageURL = &t.Album.ImageURL
		}
		var releaseDate *string
		if t.Album.ReleaseDate != "" {
			releaseDate = &t.Album.ReleaseDate
		}
		discNumber := t.Album.DiscNumber
		trackNumber := t.Album.TrackNumber
		album = &catalog.AlbumMetadata{
			Title:       t.Album.Title,
			ReleaseDate: releaseDate,
			ImageURL:    imageURL,
			DiscNumber:  &discNumber,
			Position:    &trackNumber,
		}
	}

	return catalog.TrackMetadata{
		Title:      t.Title,
		DurationMs: &duration,
		ISRC:       isrc,
		MBID:       mbid,
		Explicit:   t.Explicit,
		Artists:    credits,
		Album:      album,
	}
}
