package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// JobRepository handles the enrichment job queue's persistence (§4.F):
// partial-unique dedupe on active jobs, row-locked skip-locked batch
// claiming, exponential backoff on failure, and TTL reaping.
type JobRepository struct {
	pool *pgxpool.Pool
}

// EnqueueResult reports whether Enqueue actually created a job.
type EnqueueResult struct {
	JobID   uuid.UUID
	Created bool
	Reason  string // "already_active" when Created is false
}

// Enqueue attempts to insert a job. A partial-unique index over
// (job_kind, entity_kind, entity_id) filtered by status IN ('pending',
// 'running') rejects duplicates atomically; on conflict this looks up
// the existing active job and returns it instead (§4.F, §8 scenario 4).
func (r *JobRepository) Enqueue(ctx context.Context, j *EnrichmentJob) (EnqueueResult, error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 5
	}
	if j.RunAfter.IsZero() {
		j.RunAfter = time.Now()
	}

	query := `
		INSERT INTO enrichment_jobs (id, job_kind, entity_kind, entity_id, status, priority, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, 0, $6, $7, NOW(), NOW())
		ON CONFLICT (job_kind, entity_kind, entity_id) WHERE status IN ('pending', 'running') DO NOTHING
		RETURNING id
	`
	var insertedID uuid.UUID
	err := r.pool.QueryRow(ctx, query, j.ID, j.JobKind, j.EntityKind, j.EntityID, j.Priority, j.MaxAttempts, j.RunAfter).Scan(&insertedID)
	if err == nil {
		return EnqueueResult{JobID: insertedID, Created: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return EnqueueResult{}, fmt.Errorf("enqueuing job: %w", err)
	}

	existing, err := r.getActive(ctx, j.JobKind, j.EntityKind, j.EntityID)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("looking up active job after conflict: %w", err)
	}
	return EnqueueResult{JobID: existing.ID, Created: false, Reason: "already_active"}, nil
}

func (r *JobRepository) getActive(ctx context.Context, kind JobKind, entityKind EntityKind, entityID uuid.UUID) (*EnrichmentJob, error) {
	query := `
		SELECT id, job_kind, entity_kind, entity_id, status, priority, attempts, max_attempts,
			run_after, locked_at, locked_by, last_error, created_at, updated_at
		FROM enrichment_jobs
		WHERE job_kind = $1 AND entity_kind = $2 AND entity_id = $3 AND status IN ('pending', 'running')
	`
	return r.scanOne(ctx, query, kind, entityKind, entityID)
}

func (r *JobRepository) scanOne(ctx context.Context, query string, args ...any) (*EnrichmentJob, error) {
	var j EnrichmentJob
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&j.ID, &j.JobKind, &j.EntityKind, &j.EntityID, &j.Status, &j.Priority, &j.Attempts, &j.MaxAttempts,
		&j.RunAfter, &j.LockedAt, &j.LockedBy, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying job: %w", err)
	}
	return &j, nil
}

// Get retrieves a job by id.
func (r *JobRepository) Get(ctx context.Context, id uuid.UUID) (*EnrichmentJob, error) {
	query := `
		SELECT id, job_kind, entity_kind, entity_id, status, priority, attempts, max_attempts,
			run_after, locked_at, locked_by, last_error, created_at, updated_at
		FROM enrichment_jobs WHERE id = $1
	`
	return r.scanOne(ctx, query, id)
}

// Claim atomically transitions up to `limit` rows from pending
// (run_after <= now) or running-with-stale-lease (locked_at < now -
// leaseTimeout) to running, ordered by priority DESC, created_at ASC.
// The candidate set is chosen with FOR UPDATE SKIP LOCKED inside a CTE so
// concurrent workers never block on or double-claim a row (§4.F, §5,
// §9 "never claim by select-then-update").
func (r *JobRepository) Claim(ctx context.Context, workerID string, limit int, leaseTimeout time.Duration) ([]EnrichmentJob, error) {
	query := `
		WITH candidates AS (
			SELECT id FROM enrichment_jobs
			WHERE (status = 'pending' AND run_after <= NOW())
			   OR (status = 'running' AND locked_at < NOW() - $3::interval)
			ORDER BY priority DESC, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE enrichment_jobs
		SET status = 'running', locked_at = NOW(), locked_by = $1, updated_at = NOW()
		WHERE id IN (SELECT id FROM candidates)
		RETURNING id, job_kind, entity_kind, entity_id, status, priority, attempts, max_attempts,
			run_after, locked_at, locked_by, last_error, created_at, updated_at
	`
	rows, err := r.pool.Query(ctx, query, workerID, limit, leaseTimeout)
	if err != nil {
		return nil, fmt.Errorf("claiming jobs: %w", err)
	}
	defer rows.Close()

	var jobs []EnrichmentJob
	for rows.Next() {
		var j EnrichmentJob
		if err := rows.Scan(&j.ID, &j.JobKind, &j.EntityKind, &j.EntityID, &j.Status, &j.Priority, &j.Attempts, &j.MaxAttempts,
			&j.RunAfter, &j.LockedAt, &j.LockedBy, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning claimed job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Complete marks a job succeeded, clears its lock fields, and stamps the
// target entity's last_enriched_at column, all in one transaction (§4.F:
// "set status = succeeded, clear lock fields, and update the entity's
// 'last enriched at' column" — unconditionally, for every successful job,
// not just the handlers that happen to touch the row themselves).
func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, entityKind EntityKind, entityID uuid.UUID) error {
	table, err := entityTable(entityKind)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning complete tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE enrichment_jobs SET status = 'succeeded', locked_at = NULL, locked_by = NULL, updated_at = NOW()
		WHERE id = $1
	`, id); err != nil {
		return fmt.Errorf("completing job: %w", err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET last_enriched_at = NOW() WHERE id = $1`, table), entityID); err != nil {
		return fmt.Errorf("stamping last_enriched_at: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing complete tx: %w", err)
	}
	return nil
}

// entityTable maps an EntityKind to its backing table. EntityKind values
// only ever originate from the fixed set of constants in model.go, so
// this is safe to interpolate directly into the query.
func entityTable(k EntityKind) (string, error) {
	switch k {
	case EntityArtist:
		return "artists", nil
	case EntityAlbum:
		return "albums", nil
	case EntityTrack:
		return "tracks", nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", k)
	}
}

// Fail increments attempts; if the job has exhausted max_attempts it
// becomes terminally failed, otherwise it goes back to pending with
// run_after set to now + exponential backoff (§4.F, §8 boundary
// behaviors: "first retry is exactly base; Nth retry is min(base *
// mult^(N-1), cap)").
func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, lastErr string, backoff time.Duration) error {
	query := `
		UPDATE enrichment_jobs
		SET attempts = attempts + 1,
			last_error = $2,
			updated_at = NOW(),
			status = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
			run_after = CASE WHEN attempts + 1 >= max_attempts THEN run_after ELSE NOW() + $3::interval END,
			locked_at = NULL,
			locked_by = NULL
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, lastErr, backoff)
	if err != nil {
		return fmt.Errorf("failing job: %w", err)
	}
	return nil
}

// Reap deletes terminal jobs older than ttl, returning the count removed
// (§4.F "Reap").
func (r *JobRepository) Reap(ctx context.Context, ttl time.Duration) (int64, error) {
	query := `
		DELETE FROM enrichment_jobs
		WHERE status IN ('succeeded', 'failed') AND updated_at < NOW() - $1::interval
	`
	result, err := r.pool.Exec(ctx, query, ttl)
	if err != nil {
		return 0, fmt.Errorf("reaping jobs: %w", err)
	}
	return result.RowsAffected(), nil
}

// Stats summarizes queue depth by status, for the read-side "jobs" stats
// endpoint (§6).
type Stats struct {
	Pending   int64
	Running   int64
	Succeeded int64
	Failed    int64
}

// Stats returns queue depth counts by status.
func (r *JobRepository) Stats(ctx context.Context) (Stats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'running'),
			COUNT(*) FILTER (WHERE status = 'succeeded'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM enrichment_jobs
	`
	var s Stats
	err := r.pool.QueryRow(ctx, query).Scan(&s.Pending, &s.Running, &s.Succeeded, &s.Failed)
	if err != nil {
		return Stats{}, fmt.Errorf("querying job stats: %w", err)
	}
	return s, nil
}
