package spotify

import (
	"context"
	"fmt"
	"time"

	"github.com/zmb3/spotify/v2"
)

// PollResult is the tagged variant the session engine consumes from a
// "currently playing" poll (§9: "model this as a tagged variant at the
// boundary and reject non-track items early"). The non-Kind fields are
// meaningful only when Kind is PollTrack.
type PollResult struct {
	Kind PollKind

	TrackURI    string
	ProgressMs  int64
	IsPlaying   bool
	DurationMs  int64
	Snapshot    []byte // not set by CurrentlyPlaying; the session engine snapshots Track instead
	Track       TrackInfo
}

// PollKind discriminates a PollResult.
type PollKind int

const (
	// PollNoContent is a 204 — nothing is currently playing.
	PollNoContent PollKind = iota
	// PollNotATrack is a non-track currently_playing_type (episode, ad,
	// unknown) — rejected early per §9.
	PollNotATrack
	// PollTrack carries a track snapshot.
	PollTrack
)

// TrackInfo is the subset of Spotify track metadata the catalog layer
// needs to resolve and link a track.
type TrackInfo struct {
	URI        string
	ISRC       string
	Title      string
	DurationMs int64
	Explicit   bool
	Artists    []ArtistInfo
	Album      AlbumInfo
}

// ArtistInfo is one credited artist on a Spotify track.
type ArtistInfo struct {
	Name string
	ID   string
}

// AlbumInfo is the album a Spotify track appears on.
type AlbumInfo struct {
	Title       string
	ID          string
	ReleaseDate string
	ImageURL    string
	DiscNumber  int
	TrackNumber int
}

// RecentPlay is one item from the "recently played" endpoint.
type RecentPlay struct {
	Track    TrackInfo
	PlayedAt time.Time
}

// Client polls the currently-playing and recently-played endpoints for
// one already-authenticated *spotify.Client.
type Client struct {
	api *spotify.Client
}

// New wraps an authenticated SDK client.
func New(api *spotify.Client) *Client {
	return &Client{api: api}
}

// CurrentlyPlaying polls the "currently playing" endpoint and returns a
// tagged PollResult (§4.D, §6).
func (c *Client) CurrentlyPlaying(ctx context.Context) (PollResult, error) {
	state, err := c.api.PlayerCurrentlyPlaying(ctx)
	if err != nil {
		return PollResult{}, fmt.Errorf("fetching currently playing: %w", err)
	}
	if state == nil || state.Item == nil {
		return PollResult{Kind: PollNoContent}, nil
	}
	if state.Item.Type != "track" {
		return PollResult{Kind: PollNotATrack}, nil
	}

	track := convertTrack(*state.Item)
	return PollResult{
		Kind:       PollTrack,
		TrackURI:   string(state.Item.URI),
		ProgressMs: int64(state.Progress),
		IsPlaying:  state.Playing,
		DurationMs: int64(state.Item.Duration),
		Track:      track,
	}, nil
}

// RecentlyPlayed fetches plays strictly after `after` (§4.E), newest
// first as the provider returns them, capped at 50.
func (c *Client) RecentlyPlayed(ctx context.Context, after time.Time, limit int) ([]RecentPlay, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	opts := &spotify.RecentlyPlayedOptions{Limit: spotify.Numeric(limit)}
	if !after.IsZero() {
		opts.AfterEpochMs = after.UnixMilli()
	}

	items, err := c.api.PlayerRecentlyPlayedOpt(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("fetching recently played: %w", err)
	}

	plays := make([]RecentPlay, 0, len(items))
	for _, item := range items {
		plays = append(plays, RecentPlay{
			Track:    convertSimpleTrack(item.Track),
			PlayedAt: item.PlayedAt,
		})
	}
	return plays, nil
}

func convertTrack(t spotify.FullTrack) TrackInfo {
	info := convertSimpleTrack(t.SimpleTrack)
	info.ISRC = t.ExternalIDs["isrc"]
	return info
}

func convertSimpleTrack(t spotify.SimpleTrack) TrackInfo {
	artists := make([]ArtistInfo, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, ArtistInfo{Name: a.Name, ID: string(a.ID)})
	}

	var imageURL string
	if len(t.Album.Images) > 0 {
		imageURL = t.Album.Images[0].URL
	}

	return TrackInfo{
		URI:        string(t.URI),
		ISRC:       t.ExternalIDs.ISRC,
		Title:      t.Name,
		DurationMs: int64(t.Duration),
		Explicit:   t.Explicit,
		Artists:    artists,
		Album: AlbumInfo{
			Title:       t.Album.Name,
			ID:          string(t.Album.ID),
			ReleaseDate: t.Album.ReleaseDate,
			ImageURL:    imageURL,
			DiscNumber:  int(t.DiscNumber),
			TrackNumber: int(t.TrackNumber),
		},
	}
}
