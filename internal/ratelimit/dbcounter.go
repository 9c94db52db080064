package ratelimit

import (
	"context"
	"database/sql"
	"time"
)

// DBCounter is the authoritative, persisted rate limiter from spec.md §5:
// a per-user counter bucketed by truncated-minute timestamp, backed by a
// Postgres table with an atomic upsert-and-return.
//
//	CREATE TABLE rate_limit_buckets (
//	    user_id    text        NOT NULL,
//	    bucket     timestamptz NOT NULL,
//	    count      integer     NOT NULL DEFAULT 0,
//	    PRIMARY KEY (user_id, bucket)
//	);
type DBCounter struct {
	db    *sql.DB
	limit int
}

// NewDBCounter constructs a DBCounter enforcing limit events per truncated
// minute, per userID.
func NewDBCounter(db *sql.DB, limit int) *DBCounter {
	return &DBCounter{db: db, limit: limit}
}

// Allow increments the current minute's bucket for userID and reports
// whether the resulting count is within limit. The increment always happens
// (the caller is always charged for the attempt), matching the
// "INSERT ... ON CONFLICT DO UPDATE SET count = count+1 RETURNING count"
// policy of spec.md §5.
func (c *DBCounter) Allow(ctx context.Context, userID string) (bool, error) {
	if c == nil || c.limit <= 0 {
		return true, nil
	}

	bucket := time.Now().UTC().Truncate(time.Minute)

	var count int
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO rate_limit_buckets (user_id, bucket, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, bucket)
		DO UPDATE SET count = rate_limit_buckets.count + 1
		RETURNING count
	`, userID, bucket).Scan(&count)
	if err != nil {
		return false, err
	}

	return count <= c.limit, nil
}

// Janitor deletes buckets older than retention, relative to now. Intended to
// be called periodically from a background goroutine.
func (c *DBCounter) Janitor(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().UTC().Add(-retention)
	_, err := c.db.ExecContext(ctx, `DELETE FROM rate_limit_buckets WHERE bucket < $1`, cutoff)
	return err
}
