// Command scrobbld runs the scrobble ingestion and enrichment daemon: the
// playback session engine's fast loop, the recently-played reconciler's
// slow loop, one or more enrichment workers, and the read-side API.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/justestif/scrobbld/internal/api"
	"github.com/justestif/scrobbld/internal/catalog"
	"github.com/justestif/scrobbld/internal/config"
	"github.com/justestif/scrobbld/internal/enrich"
	"github.com/justestif/scrobbld/internal/logging"
	"github.com/justestif/scrobbld/internal/musicbrainz"
	provider "github.com/justestif/scrobbld/internal/provider/spotify"
	"github.com/justestif/scrobbld/internal/reconcile"
	"github.com/justestif/scrobbld/internal/scheduler"
	"github.com/justestif/scrobbld/internal/session"
	"github.com/justestif/scrobbld/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scrobbld: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.LogLevel)
	log.Info().Msg("starting scrobbld")

	ctx := context.Background()

	db, err := store.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	mbClient, err := musicbrainz.New(musicbrainz.Config{
		UserAgent:          cfg.MusicBrainz.UserAgent,
		MusicBrainzBaseURL: cfg.MusicBrainz.MusicBrainzBaseURL,
		CoverArtBaseURL:    cfg.MusicBrainz.CoverArtBaseURL,
		MinInterval:        cfg.MusicBrainz.MinInterval,
		RetryBaseDelay:     cfg.MusicBrainz.RetryBaseDelay,
		RetryMaxDelay:      cfg.MusicBrainz.RetryMaxDelay,
		RetryMaxAttempts:   cfg.MusicBrainz.RetryMaxAttempts,
		RequestTimeout:     cfg.MusicBrainz.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating musicbrainz client: %w", err)
	}

	cat := catalog.New(db, log)
	tokens := provider.NewTokenSource(cfg.Spotify.ClientID, cfg.Spotify.ClientSecret, cfg.Spotify.RedirectURI, db.Accounts(), cfg.Worker.SafetyMargin)

	// The metadata cache is per-process and shared between the fast and
	// slow loops (§5); the enrichment worker gets its own cache since it
	// runs on a separate cadence and job kind mix.
	ingestCache := musicbrainz.NewCache()
	ingestResolver := musicbrainz.NewResolver(mbClient, ingestCache, log)

	engine := session.New(db, cat, tokens, ingestResolver, cfg.Session, log)
	reconciler := reconcile.New(db, cat, tokens, ingestResolver, cfg.Reconcile, cfg.Session, log)

	sched := scheduler.New(log)
	sched.AddLoop(scheduler.Loop{
		Name:      "session-fast-loop",
		Interval:  cfg.Session.PollInterval,
		JitterPct: 0.1,
		RunCycle:  engine.RunCycle,
	})
	sched.AddLoop(scheduler.Loop{
		Name:      "reconcile-slow-loop",
		Interval:  cfg.Reconcile.Interval,
		JitterPct: 0.1,
		RunCycle:  reconciler.RunCycle,
	})
	sched.AddLoop(scheduler.Loop{
		Name:      "job-reaper",
		Interval:  cfg.Jobs.ReapInterval,
		JitterPct: 0,
		RunCycle: func(ctx context.Context) {
			n, err := db.Jobs().Reap(ctx, cfg.Jobs.ReapTTL)
			if err != nil {
				log.Error().Err(err).Msg("reaping terminal jobs")
				return
			}
			if n > 0 {
				log.Info().Int64("reaped", n).Msg("reaped terminal jobs")
			}
		},
	})

	for i := 0; i < cfg.Worker.Count; i++ {
		workerCache := musicbrainz.NewCache()
		workerResolver := musicbrainz.NewResolver(mbClient, workerCache, log)
		workerCfg := cfg.Worker
		if cfg.Worker.Count > 1 {
			workerCfg.ID = fmt.Sprintf("%s-%d", cfg.Worker.ID, i)
		}
		w := enrich.New(db, workerResolver, cfg.Jobs, workerCfg, log)
		sched.AddWorker(scheduler.Worker{
			Name: fmt.Sprintf("enrichment-worker-%d", i),
			Run:  w.Run,
		})
	}

	apiServer := api.New(cfg.API.Addr, db, tokens, api.OAuthConfig{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		RedirectURI:  cfg.Spotify.RedirectURI,
	}, log)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error().Err(err).Msg("api server stopped")
		}
	}()

	sched.Run(30 * time.Second)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api server shutdown")
	}

	log.Info().Msg("scrobbld stopped")
	return nil
}
