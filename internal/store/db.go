package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is Postgres's SQLSTATE for a unique-constraint violation.
const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique-constraint conflict,
// the case §7 calls out as "absorbed silently; the conflict target is
// known (dedupe key)".
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// DB wraps a PostgreSQL connection pool and exposes one repository per
// aggregate.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a connection pool against databaseURL. Every pooled
// connection declares UTC at handshake (§5): "all timestamps are written
// in UTC".
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET TIME ZONE 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Pool returns the underlying connection pool for advanced operations.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

func (db *DB) Users() *UserRepository             { return &UserRepository{pool: db.pool} }
func (db *DB) Accounts() *AccountRepository       { return &AccountRepository{pool: db.pool} }
func (db *DB) Artists() *ArtistRepository         { return &ArtistRepository{pool: db.pool} }
func (db *DB) Albums() *AlbumRepository           { return &AlbumRepository{pool: db.pool} }
func (db *DB) Tracks() *TrackRepository           { return &TrackRepository{pool: db.pool} }
func (db *DB) Scrobbles() *ScrobbleRepository     { return &ScrobbleRepository{pool: db.pool} }
func (db *DB) Sessions() *SessionRepository       { return &SessionRepository{pool: db.pool} }
func (db *DB) Jobs() *JobRepository               { return &JobRepository{pool: db.pool} }
func (db *DB) Memberships() *MembershipRepository { return &MembershipRepository{pool: db.pool} }
