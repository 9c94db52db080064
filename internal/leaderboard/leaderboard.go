// Package leaderboard implements C7, spec.md §4.7: keep-best upsert per
// (user, challenge, language), per-challenge ranking, and the composite
// global score. Reads go through a Redis read-through cache (the arena's
// leaderboards are read far more often than they're written) in front of
// the authoritative Postgres rows.
package leaderboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/joeycumines/ctf-arena/internal/apperror"
	"github.com/joeycumines/ctf-arena/internal/model"
)

// Engine is C7.
type Engine struct {
	db    *sql.DB
	redis *goredis.Client
	ttl   time.Duration
}

// New constructs an Engine. redis may be nil, in which case reads always
// fall through to Postgres (useful for tests and for deployments without
// a cache tier).
func New(db *sql.DB, redis *goredis.Client) *Engine {
	return &Engine{db: db, redis: redis, ttl: 15 * time.Second}
}

// UpsertLeaderboard performs the conditional upsert of spec.md §4.7 /
// invariant I-5: insert if absent, else replace iff
// new.instructions < old.instructions.
func (e *Engine) UpsertLeaderboard(ctx context.Context, userID, challengeID, language string, instructions uint64, runID uuid.UUID, sourceCode string, verified bool) error {
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO leaderboard_entries (user_id, challenge_id, language, instructions, run_id, source_code, is_verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (user_id, challenge_id, language) DO UPDATE SET
			instructions = EXCLUDED.instructions,
			run_id       = EXCLUDED.run_id,
			source_code  = EXCLUDED.source_code,
			is_verified  = EXCLUDED.is_verified,
			created_at   = now()
		WHERE leaderboard_entries.instructions > EXCLUDED.instructions
	`, userID, challengeID, language, int64(instructions), runID, sourceCode, verified)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, `upsert leaderboard`, err)
	}
	if e.redis != nil {
		e.invalidate(ctx, challengeID)
	}
	return nil
}

// userTypeFilter maps spec.md §4.7/§6's `user_type?` leaderboard filter to
// the is_verified value it selects. "human" and "clanker" are the only
// recognised values (spec.md §9's clanker-verification Open Question); any
// other value, including the empty string, means "no filter" rather than
// a validation error, since spec.md gives leaderboard reads no error path.
func userTypeFilter(userType string) (verified bool, ok bool) {
	switch userType {
	case `human`:
		return true, true
	case `clanker`:
		return false, true
	default:
		return false, false
	}
}

// PerChallengeLeaderboard implements spec.md §4.7's per_challenge_leaderboard.
// When language is empty, ranking is partitioned per language (via
// RANK() OVER (PARTITION BY language ...)); otherwise rows are filtered to
// that language and ranked globally. userType optionally restricts rows to
// verified ("human") or unverified ("clanker") submitters.
func (e *Engine) PerChallengeLeaderboard(ctx context.Context, challengeID, language, userType string, limit int) ([]model.RankedLeaderboardRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	verified, filterByType := userTypeFilter(userType)

	cacheKey := fmt.Sprintf(`leaderboard:challenge:%s:%s:%s:%d`, challengeID, language, userType, limit)
	if rows, ok := e.cacheGet(ctx, cacheKey); ok {
		return rows, nil
	}

	var (
		rows *sql.Rows
		err  error
	)
	switch {
	case language == `` && !filterByType:
		rows, err = e.db.QueryContext(ctx, `
			SELECT RANK() OVER (PARTITION BY language ORDER BY instructions ASC) AS rank,
			       user_id, instructions, language, created_at
			FROM leaderboard_entries
			WHERE challenge_id = $1
			ORDER BY language, rank
			LIMIT $2
		`, challengeID, limit)
	case language == `` && filterByType:
		rows, err = e.db.QueryContext(ctx, `
			SELECT RANK() OVER (PARTITION BY language ORDER BY instructions ASC) AS rank,
			       user_id, instructions, language, created_at
			FROM leaderboard_entries
			WHERE challenge_id = $1 AND is_verified = $2
			ORDER BY language, rank
			LIMIT $3
		`, challengeID, verified, limit)
	case language != `` && !filterByType:
		rows, err = e.db.QueryContext(ctx, `
			SELECT RANK() OVER (ORDER BY instructions ASC) AS rank,
			       user_id, instructions, language, created_at
			FROM leaderboard_entries
			WHERE challenge_id = $1 AND language = $2
			ORDER BY rank
			LIMIT $3
		`, challengeID, language, limit)
	default:
		rows, err = e.db.QueryContext(ctx, `
			SELECT RANK() OVER (ORDER BY instructions ASC) AS rank,
			       user_id, instructions, language, created_at
			FROM leaderboard_entries
			WHERE challenge_id = $1 AND language = $2 AND is_verified = $3
			ORDER BY rank
			LIMIT $4
		`, challengeID, language, verified, limit)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, `query per-challenge leaderboard`, err)
	}
	defer rows.Close()

	var out []model.RankedLeaderboardRow
	for rows.Next() {
		var row model.RankedLeaderboardRow
		var instructions int64
		if err := rows.Scan(&row.Rank, &row.UserID, &instructions, &row.Language, &row.SubmittedAt); err != nil {
			return nil, err
		}
		row.Instructions = uint64(instructions)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	e.cacheSet(ctx, cacheKey, out)
	return out, nil
}

// GlobalLeaderboard implements spec.md §4.7's global_leaderboard: a
// composite score per user, summed over every leaderboard row they hold,
// against the per-(challenge, language) minimum instruction count. Ties
// are broken first_places DESC, challenges_completed DESC, user_id ASC
// (spec.md §9: "an implementer SHOULD tie-break ... for determinism —
// call this out as a deliberate addition"). userType optionally restricts
// which submitters' rows are aggregated ("human" or "clanker"); the best
// (minimum) instruction count per (challenge, language) used as the
// scoring baseline is always computed across every submitter, filtered or
// not, so a user_type filter narrows who's ranked without changing what
// "best" means.
func (e *Engine) GlobalLeaderboard(ctx context.Context, userType string, limit int) ([]model.GlobalLeaderboardRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	verified, filterByType := userTypeFilter(userType)

	cacheKey := fmt.Sprintf(`leaderboard:global:%s:%d`, userType, limit)
	var out []model.GlobalLeaderboardRow
	if cached, ok := e.cacheGetGlobal(ctx, cacheKey); ok {
		return cached, nil
	}

	var (
		rows *sql.Rows
		err  error
	)
	if filterByType {
		rows, err = e.db.QueryContext(ctx, `
			WITH best AS (
				SELECT challenge_id, language, MIN(instructions) AS best_instructions
				FROM leaderboard_entries
				GROUP BY challenge_id, language
			)
			SELECT le.user_id,
			       le.instructions = best.best_instructions AS is_best,
			       CASE WHEN le.instructions = best.best_instructions THEN 1000
			            ELSE FLOOR(best.best_instructions::numeric / le.instructions::numeric * 1000)
			       END AS contribution
			FROM leaderboard_entries le
			JOIN best ON best.challenge_id = le.challenge_id AND best.language = le.language
			WHERE le.is_verified = $1
		`, verified)
	} else {
		rows, err = e.db.QueryContext(ctx, `
			WITH best AS (
				SELECT challenge_id, language, MIN(instructions) AS best_instructions
				FROM leaderboard_entries
				GROUP BY challenge_id, language
			)
			SELECT le.user_id,
			       le.instructions = best.best_instructions AS is_best,
			       CASE WHEN le.instructions = best.best_instructions THEN 1000
			            ELSE FLOOR(best.best_instructions::numeric / le.instructions::numeric * 1000)
			       END AS contribution
			FROM leaderboard_entries le
			JOIN best ON best.challenge_id = le.challenge_id AND best.language = le.language
		`)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, `query global leaderboard rows`, err)
	}
	defer rows.Close()

	type agg struct {
		totalScore          int64
		challengesCompleted int
		firstPlaces         int
	}
	byUser := make(map[string]*agg)
	var order []string
	for rows.Next() {
		var userID string
		var isBest bool
		var contribution int64
		if err := rows.Scan(&userID, &isBest, &contribution); err != nil {
			return nil, err
		}
		a, ok := byUser[userID]
		if !ok {
			a = &agg{}
			byUser[userID] = a
			order = append(order, userID)
		}
		a.totalScore += contribution
		a.challengesCompleted++
		if isBest {
			a.firstPlaces++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, userID := range order {
		a := byUser[userID]
		out = append(out, model.GlobalLeaderboardRow{
			UserID:              userID,
			TotalScore:          a.totalScore,
			ChallengesCompleted: a.challengesCompleted,
			FirstPlaces:         a.firstPlaces,
		})
	}

	sortGlobalRows(out)
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}

	e.cacheSetGlobal(ctx, cacheKey, out)
	return out, nil
}

func (e *Engine) cacheGet(ctx context.Context, key string) ([]model.RankedLeaderboardRow, bool) {
	if e.redis == nil {
		return nil, false
	}
	raw, err := e.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var rows []model.RankedLeaderboardRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, false
	}
	return rows, true
}

func (e *Engine) cacheSet(ctx context.Context, key string, rows []model.RankedLeaderboardRow) {
	if e.redis == nil {
		return
	}
	if raw, err := json.Marshal(rows); err == nil {
		e.redis.Set(ctx, key, raw, e.ttl)
	}
}

func (e *Engine) cacheGetGlobal(ctx context.Context, key string) ([]model.GlobalLeaderboardRow, bool) {
	if e.redis == nil {
		return nil, false
	}
	raw, err := e.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var rows []model.GlobalLeaderboardRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, false
	}
	return rows, true
}

func (e *Engine) cacheSetGlobal(ctx context.Context, key string, rows []model.GlobalLeaderboardRow) {
	if e.redis == nil {
		return
	}
	if raw, err := json.Marshal(rows); err == nil {
		e.redis.Set(ctx, key, raw, e.ttl)
	}
}

// invalidate drops every cached per-challenge leaderboard page for
// challengeID, plus every cached global leaderboard page (a new best
// instruction count for one challenge can shift anyone's composite
// score). Best-effort: a cache miss just falls through to Postgres.
func (e *Engine) invalidate(ctx context.Context, challengeID string) {
	for _, pattern := range []string{
		fmt.Sprintf(`leaderboard:challenge:%s:*`, challengeID),
		`leaderboard:global:*`,
	} {
		keys, err := e.redis.Keys(ctx, pattern).Result()
		if err != nil || len(keys) == 0 {
			continue
		}
		e.redis.Del(ctx, keys...)
	}
}

// sortGlobalRows orders rows by total_score DESC, then the deliberate
// tie-break addition of spec.md §9: first_places DESC, then
// challenges_completed DESC, then user id ASC.
func sortGlobalRows(rows []model.GlobalLeaderboardRow) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if a.FirstPlaces != b.FirstPlaces {
			return a.FirstPlaces > b.FirstPlaces
		}
		if a.ChallengesCompleted != b.ChallengesCompleted {
			return a.ChallengesCompleted > b.ChallengesCompleted
		}
		return a.UserID < b.UserID
	})
}
