// Package queue implements C3, spec.md §4.3: two durable work-queue
// streams (compiles, executes) plus the KV spaces that back job metadata
// and results. Stream, KV, and subject names follow
// original_source/api/src/queue.rs, the Rust original this spec was
// distilled from: JOBS/jobs/results for executes, COMPILES/compiles for
// compiles.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/joeycumines/ctf-arena/internal/apperror"
	"github.com/joeycumines/ctf-arena/internal/model"
)

const (
	compileSubject = `compiles.submit`
	executeSubject = `jobs.submit`

	compileStreamName = `COMPILES`
	jobsStreamName    = `JOBS`

	compilesKVBucket = `compiles`
	jobsKVBucket     = `jobs`
	resultsKVBucket  = `results`

	compileConsumerName = `compile-worker`
	executeConsumerName = `execute-worker`
)

// Queue is a handle to the connected JetStream streams and KV buckets. It
// is a shared, thread-safe capability per spec.md §9 — one Queue is
// constructed at startup and passed to every worker/API goroutine.
type Queue struct {
	nc          *nats.Conn
	js          nats.JetStreamContext
	compilesKV  nats.KeyValue
	jobsKV      nats.KeyValue
	resultsKV   nats.KeyValue
	jobTTL      time.Duration
}

// Config controls Connect.
type Config struct {
	URL        string
	JobTTL     time.Duration // default 3600s, spec.md §4.3
}

// Connect dials url and ensures the two work-queue streams and three KV
// buckets exist, creating them if necessary.
func Connect(cfg Config) (*Queue, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf(`queue: connect: %w`, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf(`queue: jetstream context: %w`, err)
	}

	ttl := cfg.JobTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	if _, err := js.AddStream(&nats.StreamConfig{
		Name:      compileStreamName,
		Subjects:  []string{compileSubject},
		Retention: nats.WorkQueuePolicy,
		MaxAge:    ttl,
	}); err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, fmt.Errorf(`queue: add compiles stream: %w`, err)
	}

	if _, err := js.AddStream(&nats.StreamConfig{
		Name:      jobsStreamName,
		Subjects:  []string{executeSubject},
		Retention: nats.WorkQueuePolicy,
		MaxAge:    ttl,
	}); err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, fmt.Errorf(`queue: add jobs stream: %w`, err)
	}

	compilesKV, err := ensureKV(js, compilesKVBucket, ttl)
	if err != nil {
		nc.Close()
		return nil, err
	}
	jobsKV, err := ensureKV(js, jobsKVBucket, ttl)
	if err != nil {
		nc.Close()
		return nil, err
	}
	resultsKV, err := ensureKV(js, resultsKVBucket, ttl)
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &Queue{
		nc:         nc,
		js:         js,
		compilesKV: compilesKV,
		jobsKV:     jobsKV,
		resultsKV:  resultsKV,
		jobTTL:     ttl,
	}, nil
}

func ensureKV(js nats.JetStreamContext, bucket string, ttl time.Duration) (nats.KeyValue, error) {
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket, TTL: ttl})
	}
	if err != nil {
		return nil, fmt.Errorf(`queue: keyvalue bucket %s: %w`, bucket, err)
	}
	return kv, nil
}

// Close closes the underlying NATS connection.
func (q *Queue) Close() {
	q.nc.Close()
}

// PublishCompileJob enqueues job and seeds its metadata as Pending.
func (q *Queue) PublishCompileJob(ctx context.Context, job model.CompileJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, `marshal compile job`, err)
	}
	if _, err := q.js.Publish(compileSubject, payload, nats.Context(ctx)); err != nil {
		return apperror.Wrap(apperror.KindInternal, `publish compile job`, err)
	}
	return q.SetCompileMetadata(ctx, job.ID, model.Metadata{Status: model.StatusPending, CreatedAt: job.CreatedAt})
}

// PublishExecuteJob enqueues job and seeds its metadata as Pending.
func (q *Queue) PublishExecuteJob(ctx context.Context, job model.ExecuteJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, `marshal execute job`, err)
	}
	if _, err := q.js.Publish(executeSubject, payload, nats.Context(ctx)); err != nil {
		return apperror.Wrap(apperror.KindInternal, `publish execute job`, err)
	}
	return q.SetExecuteMetadata(ctx, job.ID, model.Metadata{Status: model.StatusPending, CreatedAt: job.CreatedAt})
}

// CompileMetadata fetches the metadata for a compile job.
func (q *Queue) CompileMetadata(_ context.Context, jobID uuid.UUID) (model.Metadata, error) {
	return getMetadata(q.compilesKV, jobID)
}

// SetCompileMetadata writes metadata for a compile job. Callers are
// responsible for respecting the monotonic state machine (invariant I-3);
// this method performs no transition validation itself.
func (q *Queue) SetCompileMetadata(_ context.Context, jobID uuid.UUID, meta model.Metadata) error {
	return putMetadata(q.compilesKV, jobID, meta)
}

// ExecuteMetadata fetches the metadata for an execute job.
func (q *Queue) ExecuteMetadata(_ context.Context, jobID uuid.UUID) (model.Metadata, error) {
	return getMetadata(q.jobsKV, jobID)
}

// SetExecuteMetadata writes metadata for an execute job.
func (q *Queue) SetExecuteMetadata(_ context.Context, jobID uuid.UUID, meta model.Metadata) error {
	return putMetadata(q.jobsKV, jobID, meta)
}

// CompileResult fetches the cached/fresh CompileResult for a compile job.
func (q *Queue) CompileResult(_ context.Context, jobID uuid.UUID) (model.CompileResult, error) {
	entry, err := q.compilesKV.Get(resultKey(jobID))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return model.CompileResult{}, apperror.NotFound(`compile result %s`, jobID)
	}
	if err != nil {
		return model.CompileResult{}, apperror.Wrap(apperror.KindInternal, `get compile result`, err)
	}
	var result model.CompileResult
	if err := json.Unmarshal(entry.Value(), &result); err != nil {
		return model.CompileResult{}, apperror.Wrap(apperror.KindInternal, `unmarshal compile result`, err)
	}
	return result, nil
}

// SetCompileResult writes the CompileResult for jobID to
// compiles/<job_id>_result.
func (q *Queue) SetCompileResult(_ context.Context, jobID uuid.UUID, result model.CompileResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, `marshal compile result`, err)
	}
	if _, err := q.compilesKV.Put(resultKey(jobID), payload); err != nil {
		return apperror.Wrap(apperror.KindInternal, `put compile result`, err)
	}
	return nil
}

// ExecuteResult fetches the ExecutionResult for an execute job.
func (q *Queue) ExecuteResult(_ context.Context, jobID uuid.UUID) (model.ExecutionResult, error) {
	entry, err := q.resultsKV.Get(jobID.String())
	if errors.Is(err, nats.ErrKeyNotFound) {
		return model.ExecutionResult{}, apperror.NotFound(`execute result %s`, jobID)
	}
	if err != nil {
		return model.ExecutionResult{}, apperror.Wrap(apperror.KindInternal, `get execute result`, err)
	}
	var result model.ExecutionResult
	if err := json.Unmarshal(entry.Value(), &result); err != nil {
		return model.ExecutionResult{}, apperror.Wrap(apperror.KindInternal, `unmarshal execute result`, err)
	}
	return result, nil
}

// SetExecuteResult writes the ExecutionResult for jobID to results/<job_id>.
func (q *Queue) SetExecuteResult(_ context.Context, jobID uuid.UUID, result model.ExecutionResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, `marshal execute result`, err)
	}
	if _, err := q.resultsKV.Put(jobID.String(), payload); err != nil {
		return apperror.Wrap(apperror.KindInternal, `put execute result`, err)
	}
	return nil
}

// CompileQueueDepth reports the number of messages currently pending in
// the compiles stream, for internal/metrics's gauge.
func (q *Queue) CompileQueueDepth() (uint64, error) {
	info, err := q.js.StreamInfo(compileStreamName)
	if err != nil {
		return 0, fmt.Errorf(`queue: compile stream info: %w`, err)
	}
	return info.State.Msgs, nil
}

// ExecuteQueueDepth reports the number of messages currently pending in
// the jobs (execute) stream.
func (q *Queue) ExecuteQueueDepth() (uint64, error) {
	info, err := q.js.StreamInfo(jobsStreamName)
	if err != nil {
		return 0, fmt.Errorf(`queue: jobs stream info: %w`, err)
	}
	return info.State.Msgs, nil
}

func resultKey(jobID uuid.UUID) string {
	return jobID.String() + `_result`
}

func getMetadata(kv nats.KeyValue, jobID uuid.UUID) (model.Metadata, error) {
	entry, err := kv.Get(jobID.String())
	if errors.Is(err, nats.ErrKeyNotFound) {
		return model.Metadata{}, apperror.NotFound(`job %s`, jobID)
	}
	if err != nil {
		return model.Metadata{}, apperror.Wrap(apperror.KindInternal, `get metadata`, err)
	}
	var meta model.Metadata
	if err := json.Unmarshal(entry.Value(), &meta); err != nil {
		return model.Metadata{}, apperror.Wrap(apperror.KindInternal, `unmarshal metadata`, err)
	}
	return meta, nil
}

func putMetadata(kv nats.KeyValue, jobID uuid.UUID, meta model.Metadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, `marshal metadata`, err)
	}
	if _, err := kv.Put(jobID.String(), payload); err != nil {
		return apperror.Wrap(apperror.KindInternal, `put metadata`, err)
	}
	return nil
}
