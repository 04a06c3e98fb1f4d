package musicbrainz

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// minRelevanceScore is the search relevance floor below which a match
// resolves to null rather than being trusted (§4.B).
const minRelevanceScore = 80

// thumbnailPreference is the Cover Art Archive thumbnail size fallback
// order (§6: "prefer thumbnail 1200 → 500 → large → 250 → full").
var thumbnailPreference = []string{"1200", "500", "large", "250"}

// Cache memoizes resolver calls (§4.B). Entries are never evicted or
// expired: they live as long as the Cache itself, and cmd/scrobbld
// creates each Cache once per process. The access pattern is read-heavy
// across many keys, so a single
// mutex protecting four maps is enough (§5) — the corpus shows no
// lock-free concurrent map in use anywhere, so none is introduced here.
type Cache struct {
	mu               sync.Mutex
	isrcToRecording  map[string]*string // ISRC -> recording id, nil = not found
	searchToRecording map[string]*string
	recordingDetails map[string]*Recording
	releaseCoverURL  map[string]*string
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{
		isrcToRecording:   make(map[string]*string),
		searchToRecording: make(map[string]*string),
		recordingDetails:  make(map[string]*Recording),
		releaseCoverURL:   make(map[string]*string),
	}
}

// Resolver performs the stateless resolution operations of §4.B, each
// backed by the rate-limited Client and memoized in Cache.
type Resolver struct {
	client *Client
	cache  *Cache
	log    zerolog.Logger
}

// NewResolver constructs a Resolver over client, using cache for
// memoization for as long as the Resolver is in use.
func NewResolver(client *Client, cache *Cache, log zerolog.Logger) *Resolver {
	return &Resolver{client: client, cache: cache, log: log.With().Str("component", "musicbrainz.resolver").Logger()}
}

// RecordingByISRC resolves an ISRC to a recording id, or nil if not
// found. Memoized by ISRC.
func (r *Resolver) RecordingByISRC(ctx context.Context, isrc string) (*string, error) {
	r.cache.mu.Lock()
	if cached, ok := r.cache.isrcToRecording[isrc]; ok {
		r.cache.mu.Unlock()
		return cached, nil
	}
	r.cache.mu.Unlock()

	v := url.Values{}
	v.Set("query", "isrc:"+escapeLucene(isrc))
	v.Set("fmt", "json")

	body, err := r.client.get(ctx, "/recording?"+v.Encode())
	if err != nil {
		return nil, fmt.Errorf("searching recording by isrc: %w", err)
	}

	var resp searchRecordingsResponse
	if err := decodeJSON(body, &resp); err != nil {
		return nil, err
	}

	var id *string
	if len(resp.Recordings) > 0 {
		best := resp.Recordings[0]
		id = &best.ID
	}

	r.cache.mu.Lock()
	r.cache.isrcToRecording[isrc] = id
	r.cache.mu.Unlock()
	return id, nil
}

// RecordingBySearch resolves (title, artist, album) to a recording id via
// full-text search, accepting only matches with relevance score >= 80
// (§4.B); lower scores resolve to nil with a log line.
func (r *Resolver) RecordingBySearch(ctx context.Context, title, artist, album string) (*string, error) {
	key := strings.ToLower(title) + "|" + strings.ToLower(artist) + "|" + strings.ToLower(album)

	r.cache.mu.Lock()
	if cached, ok := r.cache.searchToRecording[key]; ok {
		r.cache.mu.Unlock()
		return cached, nil
	}
	r.cache.mu.Unlock()

	query := buildRecordingQuery(title, artist, album)
	v := url.Values{}
	v.Set("query", query)
	v.Set("limit", "5")
	v.Set("fmt", "json")

	body, err := r.client.get(ctx, "/recording?"+v.Encode())
	if err != nil {
		return nil, fmt.Errorf("searching recording: %w", err)
	}

	var resp searchRecordingsResponse
	if err := decodeJSON(body, &resp); err != nil {
		return nil, err
	}

	var id *string
	if len(resp.Recordings) > 0 && resp.Recordings[0].Score >= minRelevanceScore {
		id = &resp.Recordings[0].ID
	} else if len(resp.Recordings) > 0 {
		r.log.Info().
			Str("title", title).Str("artist", artist).
			Int("score", resp.Recordings[0].Score).
			Msg("recording match below relevance threshold, resolving to null")
	}

	r.cache.mu.Lock()
	r.cache.searchToRecording[key] = id
	r.cache.mu.Unlock()
	return id, nil
}

// RecordingDetails fetches full recording details by id, including
// artist credits, ISRCs, and release references. Memoized by recording id.
func (r *Resolver) RecordingDetails(ctx context.Context, recordingID string) (*Recording, error) {
	r.cache.mu.Lock()
	if cached, ok := r.cache.recordingDetails[recordingID]; ok {
		r.cache.mu.Unlock()
		return cached, nil
	}
	r.cache.mu.Unlock()

	v := url.Values{}
	v.Set("fmt", "json")
	v.Set("inc", "artist-credits+isrcs+releases")

	body, err := r.client.get(ctx, "/recording/"+recordingID+"?"+v.Encode())
	if err != nil {
		if err == ErrNotFound {
			r.memoizeRecording(recordingID, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("fetching recording details: %w", err)
	}

	var rec Recording
	if err := decodeJSON(body, &rec); err != nil {
		return nil, err
	}
	r.memoizeRecording(recordingID, &rec)
	return &rec, nil
}

func (r *Resolver) memoizeRecording(id string, rec *Recording) {
	r.cache.mu.Lock()
	r.cache.recordingDetails[id] = rec
	r.cache.mu.Unlock()
}

// ArtistDetails fetches full artist details, including relations, for
// §4.G's artist.sync_relationships job.
func (r *Resolver) ArtistDetails(ctx context.Context, artistMBID string) (*Artist, error) {
	v := url.Values{}
	v.Set("fmt", "json")
	v.Set("inc", "artist-rels")

	body, err := r.client.get(ctx, "/artist/"+artistMBID+"?"+v.Encode())
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching artist details: %w", err)
	}

	var a Artist
	if err := decodeJSON(body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// SearchArtist resolves an artist name to a MusicBrainz artist id,
// applying the same relevance threshold as recording search (§4.G
// artist.resolve_mbid).
func (r *Resolver) SearchArtist(ctx context.Context, name string) (*string, error) {
	v := url.Values{}
	v.Set("query", "artist:"+escapeLucene(name))
	v.Set("limit", "5")
	v.Set("fmt", "json")

	var resp struct {
		Artists []Artist `json:"artists"`
	}
	body, err := r.client.get(ctx, "/artist?"+v.Encode())
	if err != nil {
		return nil, fmt.Errorf("searching artist: %w", err)
	}
	if err := decodeJSON(body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Artists) > 0 && resp.Artists[0].Score >= minRelevanceScore {
		return &resp.Artists[0].ID, nil
	}
	return nil, nil
}

// SearchRelease resolves (title, artist) to a release id.
func (r *Resolver) SearchRelease(ctx context.Context, title, artist string) (*string, error) {
	v := url.Values{}
	v.Set("query", fmt.Sprintf("release:%s AND artist:%s", escapeLucene(title), escapeLucene(artist)))
	v.Set("limit", "5")
	v.Set("fmt", "json")

	body, err := r.client.get(ctx, "/release?"+v.Encode())
	if err != nil {
		return nil, fmt.Errorf("searching release: %w", err)
	}

	var resp searchReleasesResponse
	if err := decodeJSON(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Releases) == 0 {
		return nil, nil
	}
	return &resp.Releases[0].ID, nil
}

// ReleaseDetails fetches full release details by id.
func (r *Resolver) ReleaseDetails(ctx context.Context, releaseID string) (*Release, error) {
	v := url.Values{}
	v.Set("fmt", "json")
	v.Set("inc", "artist-credits+recordings")

	body, err := r.client.get(ctx, "/release/"+releaseID+"?"+v.Encode())
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching release details: %w", err)
	}

	var rel Release
	if err := decodeJSON(body, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// CoverURL resolves a release id to a cover image URL, preferring the
// front cover and the largest available thumbnail (§4.B, §6). Failures
// downgrade to nil — "no image" — never propagate as an error
// (§4.A: "failures never propagate").
func (r *Resolver) CoverURL(ctx context.Context, releaseID string) *string {
	r.cache.mu.Lock()
	if cached, ok := r.cache.releaseCoverURL[releaseID]; ok {
		r.cache.mu.Unlock()
		return cached
	}
	r.cache.mu.Unlock()

	body, err := r.client.getCoverArt(ctx, "/release/"+releaseID)
	if err != nil {
		r.log.Debug().Err(err).Str("release_id", releaseID).Msg("cover art unavailable")
		r.memoizeCover(releaseID, nil)
		return nil
	}

	var resp CoverArtResponse
	if err := decodeJSON(body, &resp); err != nil {
		r.memoizeCover(releaseID, nil)
		return nil
	}

	url := pickCoverURL(resp.Images)
	r.memoizeCover(releaseID, url)
	return url
}

func (r *Resolver) memoizeCover(id string, url *string) {
	r.cache.mu.Lock()
	r.cache.releaseCoverURL[id] = url
	r.cache.mu.Unlock()
}

func pickCoverURL(images []CoverImage) *string {
	var front *CoverImage
	for i := range images {
		if images[i].Front {
			front = &images[i]
			break
		}
	}
	if front == nil && len(images) > 0 {
		front = &images[0]
	}
	if front == nil {
		return nil
	}
	for _, size := range thumbnailPreference {
		if u, ok := front.Thumbnails[size]; ok && u != "" {
			return &u
		}
	}
	if front.Image != "" {
		return &front.Image
	}
	return nil
}

func buildRecordingQuery(title, artist, album string) string {
	parts := []string{fmt.Sprintf("recording:%s", escapeLucene(title))}
	if artist != "" {
		parts = append(parts, fmt.Sprintf("artist:%s", escapeLucene(artist)))
	}
	if album != "" {
		parts = append(parts, fmt.Sprintf("release:%s", escapeLucene(album)))
	}
	return strings.Join(parts, " AND ")
}

// luceneSpecial are the characters Lucene treats specially and that must
// be backslash-escaped before embedding a value in a query (§4.B).
const luceneSpecial = `+-&|!(){}[]^"~*?:\/`

// escapeLucene backslash-escapes Lucene special characters in v and wraps
// it in quotes for a phrase match.
func escapeLucene(v string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range v {
		if strings.ContainsRune(luceneSpecial, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}
