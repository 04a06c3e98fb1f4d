// Package api is the read-side HTTP surface (§6): dashboards, manual
// sync triggers, and job-queue introspection. Explicitly out of the
// core per §1 ("thin façades over the core"), but still built and wired
// with a chi router and middleware stack, returning JSON rather than
// rendering server-side templates.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	provider "github.com/justestif/scrobbld/internal/provider/spotify"
	"github.com/justestif/scrobbld/internal/store"
)

// Server is the read-side HTTP API.
type Server struct {
	router chi.Router
	server *http.Server
	db     *store.DB
	log    zerolog.Logger
}

// OAuthConfig carries the streaming provider client credentials needed
// to serve the login/callback endpoints (§6).
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// New constructs a Server bound to addr, serving reads/writes against db.
// tokens resolves per-account Spotify clients for the currently-playing
// pass-through (§6).
func New(addr string, db *store.DB, tokens *provider.TokenSource, oauthCfg OAuthConfig, log zerolog.Logger) *Server {
	s := &Server{db: db, log: log.With().Str("component", "api").Logger()}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Compress(5))

	h := &handlers{db: db, tokens: tokens, log: s.log}
	auth := newAuthHandlers(oauthCfg.ClientID, oauthCfg.ClientSecret, oauthCfg.RedirectURI, db, s.log)

	router.Get("/auth/login", auth.login)
	router.Get("/auth/callback", auth.callback)

	router.Route("/api", func(r chi.Router) {
		r.Get("/recently-played", h.recentlyPlayed)
		r.Get("/top-groups", h.topGroups)
		r.Get("/top-solo-artists", h.topSoloArtists)
		r.Get("/artist/{id}", h.artistDetail)
		r.Get("/currently-playing", h.currentlyPlaying)

		r.Post("/artists/{id}/sync", h.enqueueEntitySync(store.EntityArtist))
		r.Post("/albums/{id}/sync", h.enqueueEntitySync(store.EntityAlbum))
		r.Post("/tracks/{id}/sync", h.enqueueEntitySync(store.EntityTrack))

		r.Post("/artists", h.enqueueBulkSync(store.EntityArtist))
		r.Post("/albums", h.enqueueBulkSync(store.EntityAlbum))
		r.Post("/tracks", h.enqueueBulkSync(store.EntityTrack))

		r.Get("/jobs", h.jobStats)
		r.Get("/jobs/{id}", h.jobDetail)
	})

	s.router = router
	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving and blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting api server")
	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
