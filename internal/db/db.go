// Package db owns the Postgres connection pool and schema bootstrap for the
// relational state named in spec.md §3: challenges, challenge_submissions,
// leaderboard_entries, runs, binaries metadata, compile_cache, and
// rate_limit_buckets. The queue substrate's own state (job metadata,
// results) lives in NATS JetStream KV, not here — see internal/queue.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// registers the "postgres" sql.DB driver
	_ "github.com/lib/pq"
)

// Config controls pool sizing. Zero values fall back to conservative
// defaults suitable for a single worker or API replica.
type Config struct {
	DSN             string
	MaxOpenConns    int           // default 10
	MaxIdleConns    int           // default 5
	ConnMaxLifetime time.Duration // default 30m
}

// Open opens (and pings) a *sql.DB against cfg.DSN via lib/pq.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.DSN == `` {
		return nil, fmt.Errorf(`db: empty DSN`)
	}

	conn, err := sql.Open(`postgres`, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf(`db: open: %w`, err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxIdle)
	conn.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf(`db: ping: %w`, err)
	}

	return conn, nil
}

// Migrate applies Schema idempotently. Every statement uses CREATE TABLE
// IF NOT EXISTS / CREATE INDEX IF NOT EXISTS, so repeated calls (one per
// process at startup, across API and worker replicas) are safe.
func Migrate(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf(`db: migrate: %w`, err)
	}
	return nil
}

// Schema is the relational DDL for the tables spec.md §3 requires beyond
// the content-addressed binary store and the NATS-backed queue substrate.
const Schema = `
CREATE TABLE IF NOT EXISTS binaries (
	id               text        PRIMARY KEY,
	size             bigint      NOT NULL,
	language         text,
	optimization     text,
	compiler_version text,
	compile_flags    jsonb,
	created_at       timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS compile_cache (
	fingerprint     text        PRIMARY KEY,
	binary_id       text        NOT NULL,
	binary_size     bigint      NOT NULL,
	compile_time_ms bigint      NOT NULL,
	created_at      timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id           uuid        PRIMARY KEY,
	job_id       uuid        NOT NULL UNIQUE,
	binary_id    text        NOT NULL,
	user_id      text,
	benchmark_id text,
	result       jsonb       NOT NULL,
	created_at   timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS challenges (
	id              text        PRIMARY KEY,
	name            text        NOT NULL,
	description     text        NOT NULL,
	category        text        NOT NULL,
	difficulty      text        NOT NULL,
	input_spec      text,
	output_spec     text        NOT NULL,
	test_cases      jsonb       NOT NULL,
	verify_mode     text        NOT NULL,
	is_active       boolean     NOT NULL DEFAULT true,
	network_enabled boolean     NOT NULL DEFAULT false,
	env_vars        jsonb,
	baselines       jsonb
);

CREATE TABLE IF NOT EXISTS challenge_submissions (
	id            uuid             PRIMARY KEY,
	user_id       text             NOT NULL,
	challenge_id  text             NOT NULL REFERENCES challenges(id),
	language      text             NOT NULL,
	source_code   text             NOT NULL,
	binary_id     text,
	status        text             NOT NULL,
	test_results  jsonb,
	instructions  bigint,
	error_message text,
	created_at    timestamptz      NOT NULL DEFAULT now(),
	completed_at  timestamptz
);

CREATE INDEX IF NOT EXISTS challenge_submissions_user_challenge_idx
	ON challenge_submissions (user_id, challenge_id);

CREATE TABLE IF NOT EXISTS leaderboard_entries (
	user_id      text        NOT NULL,
	challenge_id text        NOT NULL REFERENCES challenges(id),
	language     text        NOT NULL,
	instructions bigint      NOT NULL,
	run_id       uuid        NOT NULL,
	source_code  text        NOT NULL,
	is_verified  boolean     NOT NULL DEFAULT false,
	created_at   timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, challenge_id, language)
);

CREATE INDEX IF NOT EXISTS leaderboard_entries_challenge_idx
	ON leaderboard_entries (challenge_id, language, instructions);

CREATE TABLE IF NOT EXISTS rate_limit_buckets (
	user_id text        NOT NULL,
	bucket  timestamptz NOT NULL,
	count   integer     NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, bucket)
);
`
