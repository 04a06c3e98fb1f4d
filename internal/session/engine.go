// Package session implements the Playback Session Engine (§4.D): a
// per-(user, provider) state machine driven by short-interval polling of
// a "currently playing" endpoint, iterating accounts and calling the
// provider the way a one-shot batch sync would, generalized into a
// continuously polled state machine.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/justestif/scrobbld/internal/catalog"
	"github.com/justestif/scrobbld/internal/config"
	"github.com/justestif/scrobbld/internal/musicbrainz"
	provider "github.com/justestif/scrobbld/internal/provider/spotify"
	"github.com/justestif/scrobbld/internal/store"
)

// Engine runs one fast-loop cycle across all eligible accounts.
type Engine struct {
	db       *store.DB
	catalog  *catalog.Service
	tokens   *provider.TokenSource
	resolver *musicbrainz.Resolver
	cfg      config.Session
	log      zerolog.Logger
}

// New constructs an Engine.
func New(db *store.DB, cat *catalog.Service, tokens *provider.TokenSource, resolver *musicbrainz.Resolver, cfg config.Session, log zerolog.Logger) *Engine {
	return &Engine{db: db, catalog: cat, tokens: tokens, resolver: resolver, cfg: cfg, log: log.With().Str("component", "session.engine").Logger()}
}

// RunCycle processes one poll cycle across all Spotify accounts,
// sequentially (§4.D: "a single engine worker processes all accounts
// sequentially per cycle").
func (e *Engine) RunCycle(ctx context.Context) {
	accounts, err := e.db.Accounts().ListEligible(ctx, store.ProviderSpotify)
	if err != nil {
		e.log.Error().Err(err).Msg("listing eligible accounts")
		return
	}

	for _, account := range accounts {
		if ctx.Err() != nil {
			return
		}
		if err := e.processAccount(ctx, account); err != nil {
			e.log.Warn().Err(err).Str("user_id", account.UserID.String()).Msg("session poll failed, skipping this cycle")
		}
	}
}

func (e *Engine) processAccount(ctx context.Context, account store.Account) error {
	client, err := e.tokens.ClientFor(ctx, &account)
	if err != nil {
		return fmt.Errorf("resolving client: %w", err)
	}
	sp := provider.New(client)

	poll, err := sp.CurrentlyPlaying(ctx)
	if err != nil {
		return fmt.Errorf("polling currently playing: %w", err)
	}
	if poll.Kind == provider.PollNotATrack {
		return nil
	}

	current, err := e.db.Sessions().Get(ctx, account.UserID, store.ProviderSpotify)
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("loading session: %w", err)
	}
	if err == store.ErrNotFound {
		current = nil
	}

	switch poll.Kind {
	case provider.PollNoContent:
		return e.handleNoContent(ctx, account, current)
	case provider.PollTrack:
		return e.handleTrack(ctx, account, current, poll)
	default:
		return nil
	}
}

func (e *Engine) handleNoContent(ctx context.Context, account store.Account, current *store.PlaybackSession) error {
	if current == nil {
		return nil
	}
	if !e.isStale(current) {
		return nil
	}
	if err := e.finalize(ctx, account, current); err != nil {
		return err
	}
	return e.db.Sessions().Delete(ctx, account.UserID, store.ProviderSpotify)
}

func (e *Engine) isStale(s *store.PlaybackSession) bool {
	staleAfter := time.Duration(e.cfg.StaleSessionMs) * time.Millisecond
	return time.Since(s.LastSeenAt) >= staleAfter
}

func (e *Engine) handleTrack(ctx context.Context, account store.Account, current *store.PlaybackSession, poll provider.PollResult) error {
	if current == nil {
		return e.startSession(ctx, account, poll)
	}
	if current.TrackURI == poll.TrackURI {
		return e.continueSession(ctx, account, current, poll)
	}

	if err := e.finalize(ctx, account, current); err != nil {
		e.log.Warn().Err(err).Msg("finalizing previous session on track change")
	}
	return e.startSession(ctx, account, poll)
}

func (e *Engine) startSession(ctx context.Context, account store.Account, poll provider.PollResult) error {
	snapshot, err := json.Marshal(poll.Track)
	if err != nil {
		return fmt.Errorf("marshaling track snapshot: %w", err)
	}
	duration := poll.DurationMs
	s := &store.PlaybackSession{
		UserID:           account.UserID,
		Provider:         store.ProviderSpotify,
		TrackURI:         poll.TrackURI,
		StartedAt:        time.Now().UTC(),
		LastSeenAt:       time.Now().UTC(),
		LastProgressMs:   poll.ProgressMs,
		AccumulatedMs:    0,
		IsPlaying:        poll.IsPlaying,
		TrackDurationMs:  &duration,
		MetadataSnapshot: snapshot,
		Scrobbled:        false,
	}
	return e.db.Sessions().Put(ctx, s)
}

func (e *Engine) continueSession(ctx context.Context, account store.Account, s *store.PlaybackSession, poll provider.PollResult) error {
	delta := poll.ProgressMs - s.LastProgressMs
	duration := poll.DurationMs
	if s.TrackDurationMs != nil {
		duration = *s.TrackDurationMs
	}

	threshold := wrapThreshold(duration, int64(e.cfg.WrapMinToleranceMs), e.cfg.WrapThresholdPct)

	if s.IsPlaying {
		if isLoopWrap(delta, threshold) {
			if err := e.finalize(ctx, account, s); err != nil {
				e.log.Warn().Err(err).Msg("finalizing session on wrap")
			}
			return e.startSession(ctx, account, poll)
		}
		s.AccumulatedMs += cappedDelta(delta, int64(e.cfg.MaxDeltaMs))
	}

	s.LastSeenAt = time.Now().UTC()
	s.LastProgressMs = poll.ProgressMs
	s.IsPlaying = poll.IsPlaying
	return e.db.Sessions().Put(ctx, s)
}

// wrapThreshold is the effective backward-jump threshold past which a
// progress regression is treated as a wrap/loop rather than seek jitter
// (§4.D: "max(wrap_min_tolerance_ms, duration * wrap_threshold_pct / 100)").
func wrapThreshold(durationMs, wrapMinToleranceMs int64, wrapThresholdPct int) int64 {
	pctThreshold := durationMs * int64(wrapThresholdPct) / 100
	if pctThreshold > wrapMinToleranceMs {
		return pctThreshold
	}
	return wrapMinToleranceMs
}

// isLoopWrap reports whether a progress delta is a backward jump past the
// wrap threshold (§4.D).
func isLoopWrap(delta, threshold int64) bool {
	return delta < -threshold
}

// cappedDelta is the amount to add to accumulated play time for a forward
// (or zero) progress delta, capped at maxDeltaMs so a stalled/late poll
// can't inflate accumulated time past what elapsed between polls (§4.D).
// A negative delta within the wrap tolerance (seek-back jitter) adds
// nothing.
func cappedDelta(delta, maxDeltaMs int64) int64 {
	if delta <= 0 {
		return 0
	}
	if delta > maxDeltaMs {
		return maxDeltaMs
	}
	return delta
}

// finalize implements §4.D's finalization steps 1-8.
func (e *Engine) finalize(ctx context.Context, account store.Account, s *store.PlaybackSession) error {
	if s.Scrobbled {
		return nil
	}
	if len(s.MetadataSnapshot) == 0 {
		e.log.Warn().Str("user_id", account.UserID.String()).Msg("finalizing session with no metadata snapshot, skipping")
		return nil
	}

	var track provider.TrackInfo
	if err := json.Unmarshal(bytes.TrimSpace(s.MetadataSnapshot), &track); err != nil {
		return fmt.Errorf("decoding metadata snapshot: %w", err)
	}

	duration := track.DurationMs
	if s.TrackDurationMs != nil {
		duration = *s.TrackDurationMs
	}
	if duration <= 0 {
		return nil
	}

	if !meetsThreshold(s.AccumulatedMs, duration, e.cfg.MinPlaySeconds, e.cfg.MinPlayPercent) {
		return nil
	}

	effectiveMs := effectivePlayedMs(s.AccumulatedMs, duration, int64(e.cfg.EndMarginMs))
	skipped := isSkipped(effectiveMs, duration, e.cfg.SkipThresholdPct)

	window := time.Duration(e.cfg.FastLoopDedupeSecs) * time.Second
	exists, err := e.db.Scrobbles().ExistsNearAnyTrack(ctx, account.UserID, store.ProviderSpotify, s.StartedAt, window)
	if err != nil {
		return fmt.Errorf("checking dedupe: %w", err)
	}
	if exists {
		s.Scrobbled = true
		return nil
	}

	meta := trackInfoToMetadata(track, e.resolver, ctx)
	dbTrack, err := e.catalog.ResolveAndLink(ctx, meta)
	if err != nil {
		return fmt.Errorf("resolving track for scrobble: %w", err)
	}

	scrobble := &store.Scrobble{
		UserID:           account.UserID,
		TrackID:          dbTrack.ID,
		PlayedAt:         s.StartedAt,
		PlayedDurationMs: effectiveMs,
		Skipped:          skipped,
		Provider:         store.ProviderSpotify,
	}
	if err := e.db.Scrobbles().Insert(ctx, scrobble); err != nil && err != store.ErrConflict {
		return fmt.Errorf("inserting scrobble: %w", err)
	}

	s.Scrobbled = true
	return nil
}

// meetsThreshold implements §4.D's disjunctive threshold predicate.
func meetsThreshold(accumulatedMs, durationMs int64, minPlaySeconds, minPlayPercent int) bool {
	if accumulatedMs >= int64(minPlaySeconds)*1000 {
		return true
	}
	return accumulatedMs >= durationMs*int64(minPlayPercent)/100
}

// effectivePlayedMs snaps accumulated play time up to the full track
// duration once it's within endMarginMs of the end, so a track that
// finished playing but whose last poll landed a beat before the true end
// still scrobbles with the full duration (§4.D finalization).
func effectivePlayedMs(accumulatedMs, durationMs, endMarginMs int64) int64 {
	if accumulatedMs+endMarginMs >= durationMs {
		return durationMs
	}
	return accumulatedMs
}

// isSkipped reports whether a play falls under the skip-threshold
// percentage of the track's duration (§4.D).
func isSkipped(effectiveMs, durationMs int64, skipThresholdPct int) bool {
	return effectiveMs < durationMs*int64(skipThresholdPct)/100
}

// trackInfoToMetadata converts a provider snapshot into catalog upsert
// input. ISRC lookup is attempted opportunistically via the resolver so
// the very first sighting of a track can already carry an mbid.
func trackInfoToMetadata(t provider.TrackInfo, resolver *musicbrainz.Resolver, ctx context.Context) catalog.TrackMetadata {
	credits := make([]catalog.ArtistCredit, 0, len(t.Artists))
	for i, a := range t.Artists {
		credits = append(credits, catalog.ArtistCredit{
			Name:      a.Name,
			IsPrimary: i == 0,
			Order:     i,
		})
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
