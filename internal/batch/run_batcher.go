package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/joeycumines/ctf-arena/internal/model"
)

// RunBatcher coalesces model.Run inserts from a single execute-worker
// process into small Postgres batch writes, using pq.CopyIn so each flush
// is a single COPY FROM STDIN round trip rather than N separate INSERTs
// (spec.md §4.5's "every completed execute job is persisted as a Run").
type RunBatcher struct {
	batcher *Batcher[*model.Run]
}

// NewRunBatcher wires a RunBatcher to db. The provided BatcherConfig may be
// nil, in which case Batcher's defaults (16 jobs or 50ms, whichever first)
// apply.
func NewRunBatcher(db *sql.DB, config *BatcherConfig) *RunBatcher {
	rb := &RunBatcher{}
	rb.batcher = NewBatcher(config, func(ctx context.Context, runs []*model.Run) error {
		return insertRuns(ctx, db, runs)
	})
	return rb
}

// Submit enqueues run for persistence, returning once it has been assigned
// to a batch (not once the batch has been flushed — call JobResult.Wait on
// the result for that).
func (rb *RunBatcher) Submit(ctx context.Context, run *model.Run) (*JobResult[*model.Run], error) {
	return rb.batcher.Submit(ctx, run)
}

// Shutdown flushes any pending batch and waits for it to complete.
func (rb *RunBatcher) Shutdown(ctx context.Context) error {
	return rb.batcher.Shutdown(ctx)
}

// Close rejects further submissions, flushes any pending batch, and waits
// for in-flight batches to complete, with no deadline.
func (rb *RunBatcher) Close() error {
	return rb.batcher.Close()
}

func insertRuns(ctx context.Context, db *sql.DB, runs []*model.Run) error {
	if len(runs) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf(`batch: begin run insert tx: %w`, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(
		`runs`,
		`id`, `job_id`, `binary_id`, `user_id`, `benchmark_id`, `result`, `created_at`,
	))
	if err != nil {
		return fmt.Errorf(`batch: prepare run copy-in: %w`, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, run := range runs {
		result, err := json.Marshal(run.Result)
		if err != nil {
			return fmt.Errorf(`batch: marshal run %s result: %w`, run.ID, err)
		}

		var userID, benchmarkID any
		if run.UserID != nil {
			userID = *run.UserID
		}
		if run.BenchmarkID != nil {
			benchmarkID = *run.BenchmarkID
		}

		if _, err := stmt.ExecContext(ctx,
			run.ID.String(), run.JobID.String(), run.BinaryID, userID, benchmarkID,
			string(result), run.CreatedAt,
		); err != nil {
			return fmt.Errorf(`batch: queue run %s for copy-in: %w`, run.ID, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf(`batch: flush run copy-in: %w`, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf(`batch: commit run insert tx: %w`, err)
	}
	return nil
}
