package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	provider "github.com/justestif/scrobbld/internal/provider/spotify"
	"github.com/justestif/scrobbld/internal/store"
)

var errUnknownEntityKind = errors.New("unknown entity kind")

type handlers struct {
	db     *store.DB
	tokens *provider.TokenSource
	log    zerolog.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseUserID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.URL.Query().Get("user_id"))
}

func parseLimit(r *http.Request, def, max int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// recentlyPlayed handles GET /api/recently-played?limit=N (§6, N ≤ 50).
func (h *handlers) recentlyPlayed(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or missing user_id")
		return
	}
	limit := parseLimit(r, 20, 50)

	scrobbles, err := h.db.Scrobbles().Recent(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scrobbles)
}

// topGroups handles GET /api/top-groups.
func (h *handlers) topGroups(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or missing user_id")
		return
	}
	limit := parseLimit(r, 10, 50)

	artists, err := h.db.Artists().TopGroups(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, artists)
}

// topSoloArtists handles GET /api/top-solo-artists.
func (h *handlers) topSoloArtists(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or missing user_id")
		return
	}
	limit := parseLimit(r, 10, 50)

	artists, err := h.db.Artists().TopSolo(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, artists)
}

// artistDetail handles GET /api/artist/{id}: groups return their member
// breakdown, persons return the list of groups they belong to (§6).
func (h *handlers) artistDetail(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid artist id")
		return
	}

	artist, err := h.db.Artists().Get(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "artist not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{"artist": artist}

	if artist.Type != nil && *artist.Type == store.ArtistTypeGroup {
		members, err := h.db.Memberships().ListMembers(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["members"] = members
	} else {
		groups, err := h.db.Memberships().ListGroups(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["groups"] = groups
	}

	writeJSON(w, http.StatusOK, resp)
}

// currentlyPlaying handles GET /api/currently-playing?user_id=…: a
// server-side pass-through of the provider's "currently playing" poll,
// the same call the session engine's fast loop makes (§6).
func (h *handlers) currentlyPlaying(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or missing user_id")
		return
	}

	account, err := h.db.Accounts().Get(r.Context(), userID, store.ProviderSpotify)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "no spotify account linked")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	client, err := h.tokens.ClientFor(r.Context(), account)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	poll, err := provider.New(client).CurrentlyPlaying(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	switch poll.Kind {
	case provider.PollNoContent, provider.PollNotATrack:
		writeJSON(w, http.StatusOK, map[string]any{"playing": false})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"playing":      poll.IsPlaying,
			"track_uri":    poll.TrackURI,
			"progress_ms":  poll.ProgressMs,
			"duration_ms":  poll.DurationMs,
			"track":        poll.Track,
		})
	}
}

// enqueueBulkSync handles POST /api/{artists,albums,tracks}?limit=N&type=T:
// enqueues jobs for up to limit (≤50) stale/unresolved entities of the
// given kind, unresolved entities first (§6: "bulk sync ... with query
// params limit (≤ 50) and type ∈ {sync, resolve}").
func (h *handlers) enqueueBulkSync(entityKind store.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseLimit(r, 20, 50)

		kind, err := resolveJobKind(entityKind, r.URL.Query().Get("type"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		ids, err := h.staleEntityIDs(r.Context(), entityKind, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		results := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			result, err := h.db.Jobs().Enqueue(r.Context(), &store.EnrichmentJob{
				JobKind:    kind,
				EntityKind: entityKind,
				EntityID:   id,
			})
			if err != nil {
				h.log.Warn().Err(err).Str("entity_id", id.String()).Msg("enqueueing bulk sync job")
				continue
			}
			results = append(results, map[string]any{
				"entity_id": id,
				"job_id":    result.JobID,
				"created":   result.Created,
				"reason":    result.Reason,
			})
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"requested": len(ids),
			"jobs":      results,
		})
	}
}

func (h *handlers) staleEntityIDs(ctx context.Context, entityKind store.EntityKind, limit int) ([]uuid.UUID, error) {
	switch entityKind {
	case store.EntityArtist:
		artists, err := h.db.Artists().ListStale(ctx, limit)
		if err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, len(artists))
		for i, a := range artists {
			ids[i] = a.ID
		}
		return ids, nil
	case store.EntityAlbum:
		albums, err := h.db.Albums().ListStale(ctx, limit)
		if err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, len(albums))
		for i, a := range albums {
			ids[i] = a.ID
		}
		return ids, nil
	case store.EntityTrack:
		tracks, err := h.db.Tracks().ListStale(ctx, limit)
		if err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, len(tracks))
		for i, t := range tracks {
			ids[i] = t.ID
		}
		return ids, nil
	default:
		return nil, errUnknownEntityKind
	}
}

// enqueueEntitySync handles POST /api/{artists,albums,tracks}/{id}/sync
// with query param type ∈ {sync, resolve}, always returning 202 with a
// job id (§6, §7: "enrichment endpoints always return 202").
func (h *handlers) enqueueEntitySync(entityKind store.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid entity id")
			return
		}

		kind, err := resolveJobKind(entityKind, r.URL.Query().Get("type"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		result, err := h.db.Jobs().Enqueue(r.Context(), &store.EnrichmentJob{
			JobKind:    kind,
			EntityKind: entityKind,
			EntityID:   id,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id":  result.JobID,
			"created": result.Created,
			"reason":  result.Reason,
		})
	}
}

func resolveJobKind(entityKind store.EntityKind, syncType string) (store.JobKind, error) {
	if syncType == "" {
		syncType = "sync"
	}
	switch entityKind {
	case store.EntityArtist:
		if syncType == "resolve" {
			return store.JobArtistResolveMBID, nil
		}
		return store.JobArtistSyncRelationships, nil
	case store.EntityAlbum:
		if syncType == "resolve" {
			return store.JobAlbumResolveMBID, nil
		}
		return store.JobAlbumSync, nil
	case store.EntityTrack:
		if syncType == "resolve" {
			return store.JobTrackResolveMBID, nil
		}
		return store.JobTrackSync, nil
	default:
		return "", errUnknownEntityKind
	}
}

// jobStats handles GET /api/jobs: queue stats (§6).
func (h *handlers) jobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.Jobs().Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// jobDetail handles GET /api/jobs/{id}: a single job (§6).
func (h *handlers) jobDetail(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.db.Jobs().Get(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}
