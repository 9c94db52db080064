// Package binarystore implements C1, the content-addressed binary store of
// spec.md §4.1: ids are "sha256-<hex>", bytes live on a local filesystem
// path, and sidecar metadata (language, optimization, compiler version,
// flags) lives in Postgres so metadata merges can use an atomic
// ON CONFLICT ... DO UPDATE rather than a read-modify-write race.
package binarystore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joeycumines/ctf-arena/internal/apperror"
	"github.com/joeycumines/ctf-arena/internal/model"
)

// Store is C1. The zero value is not usable; construct with New.
type Store struct {
	dir        string
	db         *sql.DB
	maxSize    int64
	ttl        time.Duration
}

// Config controls Store behavior.
type Config struct {
	Dir     string        // filesystem root for blob bytes
	MaxSize int64         // PayloadTooLarge threshold; default 100 MiB
	TTL     time.Duration // janitor retention; default 24h
}

// New constructs a Store rooted at cfg.Dir, creating it if necessary.
func New(db *sql.DB, cfg Config) (*Store, error) {
	if cfg.Dir == `` {
		return nil, fmt.Errorf(`binarystore: empty Dir`)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf(`binarystore: mkdir: %w`, err)
	}
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 100 * 1024 * 1024
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{dir: cfg.Dir, db: db, maxSize: maxSize, ttl: ttl}, nil
}

// ID computes the content-addressed identity of bytes (invariant I-1).
func ID(bytes []byte) string {
	sum := sha256.Sum256(bytes)
	return `sha256-` + hex.EncodeToString(sum[:])
}

// Put stores bytes, returning the resulting Binary. If id is non-nil it is
// trusted as-is (the ingress raw-binary-id path, §9 Open Question); a nil
// id is computed from bytes. Puts are idempotent: repeated puts of equal
// bytes return the same id, and metadata merges via COALESCE(old, new) —
// first-writer wins on every previously non-null field (spec.md §9
// "Binary-store metadata merge").
func (s *Store) Put(ctx context.Context, id *string, bytes []byte, metadata model.BinaryMetadata) (model.Binary, error) {
	if int64(len(bytes)) > s.maxSize {
		return model.Binary{}, apperror.PayloadTooLarge(`binary exceeds max size of %d bytes`, s.maxSize)
	}

	resolvedID := ID(bytes)
	if id != nil && *id != `` {
		resolvedID = *id
	}

	path := s.path(resolvedID)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeFileAtomic(path, bytes); err != nil {
			return model.Binary{}, apperror.Wrap(apperror.KindStorageUnavailable, `write binary`, err)
		}
	} else if err != nil {
		return model.Binary{}, apperror.Wrap(apperror.KindStorageUnavailable, `stat binary`, err)
	}

	flags, err := marshalFlags(metadata.CompileFlags)
	if err != nil {
		return model.Binary{}, apperror.Wrap(apperror.KindInternal, `marshal compile flags`, err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO binaries (id, size, language, optimization, compiler_version, compile_flags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
			language         = COALESCE(binaries.language, EXCLUDED.language),
			optimization     = COALESCE(binaries.optimization, EXCLUDED.optimization),
			compiler_version = COALESCE(binaries.compiler_version, EXCLUDED.compiler_version),
			compile_flags    = COALESCE(binaries.compile_flags, EXCLUDED.compile_flags)
		RETURNING id, size, language, optimization, compiler_version, compile_flags, created_at
	`, resolvedID, int64(len(bytes)), metadata.Language, optStr(metadata.Optimization), metadata.CompilerVersion, flags)

	bin, err := scanBinary(row)
	if err != nil {
		return model.Binary{}, apperror.Wrap(apperror.KindStorageUnavailable, `upsert binary metadata`, err)
	}
	return bin, nil
}

// Get returns the raw bytes for id, or a NotFound *apperror.Error.
func (s *Store) Get(_ context.Context, id string) ([]byte, error) {
	b, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperror.NotFound(`binary %s`, id)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.KindStorageUnavailable, `read binary`, err)
	}
	return b, nil
}

// GetMetadata returns the sidecar record for id, or NotFound.
func (s *Store) GetMetadata(ctx context.Context, id string) (model.Binary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, size, language, optimization, compiler_version, compile_flags, created_at
		FROM binaries WHERE id = $1
	`, id)
	bin, err := scanBinary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Binary{}, apperror.NotFound(`binary %s`, id)
	}
	if err != nil {
		return model.Binary{}, apperror.Wrap(apperror.KindStorageUnavailable, `lookup binary metadata`, err)
	}
	return bin, nil
}

// Exists reports whether id currently resolves, used by the compile cache
// (invariant I-2) to validate cache hits without transferring bytes.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM binaries WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, apperror.Wrap(apperror.KindStorageUnavailable, `check binary existence`, err)
	}
	return exists, nil
}

// Janitor deletes binary rows (and their blob files) older than the
// store's TTL. It is not called from the hot path (spec.md §4.1).
func (s *Store) Janitor(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM binaries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, apperror.Wrap(apperror.KindStorageUnavailable, `janitor scan`, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	rows.Close()

	var reaped int
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM binaries WHERE id = $1`, id); err != nil {
			return reaped, err
		}
		_ = os.Remove(s.path(id))
		reaped++
	}
	return reaped, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + `.tmp`
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func marshalFlags(flags map[string]string) ([]byte, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	return json.Marshal(flags)
}

func optStr(opt *model.Optimization) *string {
	if opt == nil {
		return nil
	}
	s := string(*opt)
	return &s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBinary(row rowScanner) (model.Binary, error) {
	var (
		bin          model.Binary
		language     sql.NullString
		optimization sql.NullString
		compilerVer  sql.NullString
		flagsJSON    []byte
	)
	if err := row.Scan(&bin.ID, &bin.Size, &language, &optimization, &compilerVer, &flagsJSON, &bin.CreatedAt); err != nil {
		return model.Binary{}, err
	}
	if language.Valid {
		bin.Metadata.Language = &language.String
	}
	if optimization.Valid {
		opt := model.Optimization(optimization.String)
		bin.Metadata.Optimization = &opt
	}
	if compilerVer.Valid {
		bin.Metadata.CompilerVersion = &compilerVer.String
	}
	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &bin.Metadata.CompileFlags); err != nil {
			return model.Binary{}, err
		}
	}
	return bin, nil
}
