// Package compileworker implements C4, spec.md §4.4: one compile job at a
// time (prefetch=1, spec.md §5), checking the compile cache before ever
// invoking the compiler collaborator.
package compileworker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/joeycumines/ctf-arena/internal/apperror"
	"github.com/joeycumines/ctf-arena/internal/collaborator"
	"github.com/joeycumines/ctf-arena/internal/compilecache"
	"github.com/joeycumines/ctf-arena/internal/langs"
	"github.com/joeycumines/ctf-arena/internal/model"
	"github.com/joeycumines/ctf-arena/internal/queue"
)

// BinaryStore is the subset of binarystore.Store the worker depends on.
type BinaryStore interface {
	Put(ctx context.Context, id *string, bytes []byte, metadata model.BinaryMetadata) (model.Binary, error)
}

// Consumer is the subset of *queue.CompileConsumer the worker depends on.
type Consumer interface {
	Fetch(ctx context.Context) (*queue.Message[model.CompileJob], error)
}

// MetadataStore is the subset of *queue.Queue the worker uses for
// metadata/result transitions, kept narrow for testability.
type MetadataStore interface {
	CompileMetadata(ctx context.Context, jobID uuid.UUID) (model.Metadata, error)
	SetCompileMetadata(ctx context.Context, jobID uuid.UUID, meta model.Metadata) error
	SetCompileResult(ctx context.Context, jobID uuid.UUID, result model.CompileResult) error
}

// Compiler is the subset of *collaborator.Compiler the worker depends on.
type Compiler interface {
	Compile(ctx context.Context, req collaborator.CompileRequest) (collaborator.CompileOutcome, error)
}

// Worker is C4.
type Worker struct {
	consumer Consumer
	meta     MetadataStore
	cache    *compilecache.Cache
	binaries BinaryStore
	compiler Compiler
	log      zerolog.Logger
}

// New constructs a Worker from its collaborators.
func New(consumer Consumer, meta MetadataStore, cache *compilecache.Cache, binaries BinaryStore, compiler Compiler, log zerolog.Logger) *Worker {
	return &Worker{consumer: consumer, meta: meta, cache: cache, binaries: binaries, compiler: compiler, log: log}
}

// Run loops Fetch -> handle until ctx is canceled (spec.md §5: "within
// one replica, jobs are processed strictly one at a time").
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
			w.log.Warn().Err(err).Msg(`compile fetch failed, retrying`)
			continue
		}
		w.handle(ctx, msg)
	}
}

func (w *Worker) handle(ctx context.Context, msg *queue.Message[model.CompileJob]) {
	job := msg.Job
	log := w.log.With().Str(`job_id`, job.ID.String()).Logger()

	if msg.Redelivered {
		current, err := w.meta.CompileMetadata(ctx, job.ID)
		if err == nil && current.Terminal() {
			log.Info().Msg(`redelivered job already terminal, ack and skip`)
			_ = msg.Ack()
			return
		}
	}

	if err := w.process(ctx, job, log); err != nil {
		log.Error().Err(err).Msg(`compile job failed`)
	}
	if err := msg.Ack(); err != nil {
		log.Warn().Err(err).Msg(`ack failed`)
	}
}

func (w *Worker) process(ctx context.Context, job model.CompileJob, log zerolog.Logger) error {
	fingerprint := compilecache.Fingerprint(job.SourceCode, job.Language, string(job.Optimization), job.Flags)

	if result, err := w.cache.Lookup(ctx, fingerprint); err == nil {
		result.Cached = true
		if err := w.meta.SetCompileResult(ctx, job.ID, result); err != nil {
			return w.fail(ctx, job.ID, err, log)
		}
		return w.complete(ctx, job.ID, log)
	}

	now := time.Now().UTC()
	if err := w.meta.SetCompileMetadata(ctx, job.ID, model.Metadata{Status: model.StatusCompiling, CreatedAt: job.CreatedAt, StartedAt: &now}); err != nil {
		return err
	}

	if !langs.Valid(langs.Tag(job.Language)) {
		return w.fail(ctx, job.ID, apperror.Validation(`unsupported language %q`, job.Language), log)
	}

	start := time.Now()
	outcome, err := w.compiler.Compile(ctx, collaborator.CompileRequest{
		SourceCode:   job.SourceCode,
		Language:     langs.Tag(job.Language),
		Optimization: string(job.Optimization),
		Flags:        job.Flags,
	})
	compileTimeMs := time.Since(start).Milliseconds()
	if err != nil {
		return w.fail(ctx, job.ID, err, log)
	}

	var flags map[string]string
	if len(outcome.CompileFlagsRaw) > 0 {
		_ = json.Unmarshal(outcome.CompileFlagsRaw, &flags)
	}
	var version *string
	if outcome.CompilerVersion != `` {
		version = &outcome.CompilerVersion
	}
	optimization := job.Optimization

	bin, err := w.binaries.Put(ctx, nil, outcome.Binary, model.BinaryMetadata{
		Language:        &job.Language,
		Optimization:    &optimization,
		CompilerVersion: version,
		CompileFlags:    flags,
	})
	if err != nil {
		return w.fail(ctx, job.ID, err, log)
	}

	result := model.CompileResult{BinaryID: bin.ID, BinarySize: bin.Size, CompileTimeMs: compileTimeMs, Cached: false}
	if err := w.cache.Store(ctx, fingerprint, result); err != nil {
		log.Warn().Err(err).Msg(`compile cache store failed, continuing`)
	}
	if err := w.meta.SetCompileResult(ctx, job.ID, result); err != nil {
		return w.fail(ctx, job.ID, err, log)
	}

	return w.complete(ctx, job.ID, log)
}

func (w *Worker) complete(ctx context.Context, jobID uuid.UUID, log zerolog.Logger) error {
	now := time.Now().UTC()
	if err := w.meta.SetCompileMetadata(ctx, jobID, model.Metadata{Status: model.StatusCompleted, CompletedAt: &now}); err != nil {
		log.Error().Err(err).Msg(`failed to write completed metadata`)
		return err
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, jobID uuid.UUID, cause error, log zerolog.Logger) error {
	now := time.Now().UTC()
	msg := cause.Error()
	if err := w.meta.SetCompileMetadata(ctx, jobID, model.Metadata{Status: model.StatusFailed, CompletedAt: &now, Error: &msg}); err != nil {
		log.Error().Err(err).Msg(`failed to write failed metadata`)
	}
	return fmt.Errorf(`compile job failed: %w`, cause)
}
