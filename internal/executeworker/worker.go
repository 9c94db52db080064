// Package executeworker implements C5, spec.md §4.5: fetch the binary,
// invoke the sandbox collaborator, persist the result and a historical
// Run record.
package executeworker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/joeycumines/ctf-arena/internal/batch"
	"github.com/joeycumines/ctf-arena/internal/collaborator"
	"github.com/joeycumines/ctf-arena/internal/model"
	"github.com/joeycumines/ctf-arena/internal/queue"
)

// BinaryFetcher is the subset of binarystore.Store the worker depends on.
type BinaryFetcher interface {
	Get(ctx context.Context, id string) ([]byte, error)
	GetMetadata(ctx context.Context, id string) (model.Binary, error)
}

// Consumer is the subset of *queue.ExecuteConsumer the worker depends on.
type Consumer interface {
	Fetch(ctx context.Context) (*queue.Message[model.ExecuteJob], error)
}

// MetadataStore is the subset of *queue.Queue the worker uses.
type MetadataStore interface {
	SetExecuteMetadata(ctx context.Context, jobID uuid.UUID, meta model.Metadata) error
	SetExecuteResult(ctx context.Context, jobID uuid.UUID, result model.ExecutionResult) error
}

// Sandbox is the subset of *collaborator.Sandbox the worker depends on.
type Sandbox interface {
	Run(ctx context.Context, req collaborator.Request) (model.ExecutionResult, error)
}

// RunRecorder is the subset of *batch.RunBatcher the worker depends on, for
// persisting historical Run records (spec.md §4.5 step 8, batched per the
// "Batched Run persistence" addition in SPEC_FULL.md).
type RunRecorder interface {
	Submit(ctx context.Context, run *model.Run) (*batch.JobResult[*model.Run], error)
}

// Worker is C5.
type Worker struct {
	consumer Consumer
	meta     MetadataStore
	binaries BinaryFetcher
	sandbox  Sandbox
	runs     RunRecorder
	writeDir string // host directory where fetched binaries are materialised for the bind mount
	log      zerolog.Logger
}

// New constructs a Worker. writeDir is a host-visible scratch directory
// where fetched binary bytes are written before being bind-mounted into
// the sandbox container.
func New(consumer Consumer, meta MetadataStore, binaries BinaryFetcher, sandbox Sandbox, runs RunRecorder, writeDir string, log zerolog.Logger) *Worker {
	return &Worker{consumer: consumer, meta: meta, binaries: binaries, sandbox: sandbox, runs: runs, writeDir: writeDir, log: log}
}

// Run loops Fetch -> handle until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := w.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn().Err(err).Msg(`execute fetch failed, retrying`)
			continue
		}
		w.handle(ctx, msg)
	}
}

func (w *Worker) handle(ctx context.Context, msg *queue.Message[model.ExecuteJob]) {
	job := msg.Job
	log := w.log.With().Str(`job_id`, job.ID.String()).Logger()

	if err := w.process(ctx, job, log); err != nil {
		log.Error().Err(err).Msg(`execute job failed`)
	}
	if err := msg.Ack(); err != nil {
		log.Warn().Err(err).Msg(`ack failed`)
	}
}

func (w *Worker) process(ctx context.Context, job model.ExecuteJob, log zerolog.Logger) error {
	binBytes, err := w.binaries.Get(ctx, job.BinaryID)
	if err != nil {
		return w.fail(ctx, job.ID, err, log)
	}

	now := time.Now().UTC()
	if err := w.meta.SetExecuteMetadata(ctx, job.ID, model.Metadata{Status: model.StatusRunning, CreatedAt: job.CreatedAt, StartedAt: &now}); err != nil {
		return err
	}

	binaryPath, cleanup, err := materialize(w.writeDir, job.ID.String(), binBytes)
	if err != nil {
		return w.fail(ctx, job.ID, err, log)
	}
	defer cleanup()

	start := time.Now()
	result, err := w.sandbox.Run(ctx, collaborator.Request{
		BinaryPath:       binaryPath,
		InstructionLimit: job.InstructionLimit,
		Stdin:            job.Stdin,
		EnvVars:          job.EnvVars,
		NetworkEnabled:   job.NetworkEnabled,
	})
	if err != nil {
		return w.fail(ctx, job.ID, err, log)
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	if err := w.meta.SetExecuteResult(ctx, job.ID, result); err != nil {
		return w.fail(ctx, job.ID, err, log)
	}

	run := &model.Run{ID: uuid.New(), JobID: job.ID, BinaryID: job.BinaryID, UserID: job.UserID, BenchmarkID: job.BenchmarkID, Result: result, CreatedAt: time.Now().UTC()}
	if _, err := w.runs.Submit(ctx, run); err != nil {
		log.Warn().Err(err).Msg(`run history submit failed, continuing`)
	}

	completed := time.Now().UTC()
	if err := w.meta.SetExecuteMetadata(ctx, job.ID, model.Metadata{Status: model.StatusCompleted, CreatedAt: job.CreatedAt, StartedAt: &now, CompletedAt: &completed}); err != nil {
		log.Error().Err(err).Msg(`failed to write completed metadata`)
		return err
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, jobID uuid.UUID, cause error, log zerolog.Logger) error {
	now := time.Now().UTC()
	msg := cause.Error()
	if err := w.meta.SetExecuteMetadata(ctx, jobID, model.Metadata{Status: model.StatusFailed, CompletedAt: &now, Error: &msg}); err != nil {
		log.Error().Err(err).Msg(`failed to write failed metadata`)
	}
	return fmt.Errorf(`execute job failed: %w`, cause)
}
