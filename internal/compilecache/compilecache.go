// Package compilecache implements C2, spec.md §4.2: a fingerprint ->
// CompileResult mapping, validated against the binary store (C1) on every
// read so a cache entry can never outlive the binary it names (invariant
// I-2).
package compilecache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"sort"

	"github.com/joeycumines/ctf-arena/internal/apperror"
	"github.com/joeycumines/ctf-arena/internal/model"
)

// BinaryExistence is the subset of binarystore.Store the cache needs, kept
// narrow so tests can fake it without a real store.
type BinaryExistence interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Cache is C2.
type Cache struct {
	db     *sql.DB
	store  BinaryExistence
}

// New constructs a Cache backed by db for storage and store for the
// existence check on read (invariant I-2).
func New(db *sql.DB, store BinaryExistence) *Cache {
	return &Cache{db: db, store: store}
}

// Fingerprint computes the cache key for spec.md §4.2: SHA-256 over
// source_bytes || lang_tag || opt_tag || concat(sort_by_key("{k}={v};")).
// The flag map MUST be sorted by key byte-lexicographically before
// concatenation; any other order breaks cache sharing across equivalent
// requests (spec.md §4.2).
func Fingerprint(source, lang, opt string, flags map[string]string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte(lang))
	h.Write([]byte(opt))

	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(`=`))
		h.Write([]byte(flags[k]))
		h.Write([]byte(`;`))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// ErrMiss is returned by Lookup when no valid cache entry exists — either
// nothing was ever stored for the fingerprint, or the stored entry's
// binary no longer resolves in C1.
var ErrMiss = errors.New(`compilecache: miss`)

// Lookup resolves fingerprint to a CompileResult with Cached set to true,
// or returns ErrMiss. A stale entry (binary since reaped by C1's janitor)
// is best-effort deleted before returning the miss.
func (c *Cache) Lookup(ctx context.Context, fingerprint string) (model.CompileResult, error) {
	var (
		binaryID      string
		binarySize    int64
		compileTimeMs int64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT binary_id, binary_size, compile_time_ms
		FROM compile_cache WHERE fingerprint = $1
	`, fingerprint).Scan(&binaryID, &binarySize, &compileTimeMs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CompileResult{}, ErrMiss
	}
	if err != nil {
		return model.CompileResult{}, apperror.Wrap(apperror.KindInternal, `compile cache lookup`, err)
	}

	exists, err := c.store.Exists(ctx, binaryID)
	if err != nil {
		return model.CompileResult{}, apperror.Wrap(apperror.KindInternal, `validate cached binary`, err)
	}
	if !exists {
		_, _ = c.db.ExecContext(ctx, `DELETE FROM compile_cache WHERE fingerprint = $1`, fingerprint)
		return model.CompileResult{}, ErrMiss
	}

	return model.CompileResult{
		BinaryID:      binaryID,
		BinarySize:    binarySize,
		CompileTimeMs: compileTimeMs,
		Cached:        true,
	}, nil
}

// Store idempotently overwrites the entry for fingerprint.
func (c *Cache) Store(ctx context.Context, fingerprint string, result model.CompileResult) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO compile_cache (fingerprint, binary_id, binary_size, compile_time_ms, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (fingerprint) DO UPDATE SET
			binary_id       = EXCLUDED.binary_id,
			binary_size     = EXCLUDED.binary_size,
			compile_time_ms = EXCLUDED.compile_time_ms,
			created_at      = now()
	`, fingerprint, result.BinaryID, result.BinarySize, result.CompileTimeMs)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, `compile cache store`, err)
	}
	return nil
}
