package batch

import (
	"context"
	"sync"
	"time"
)

type (
	// BatcherConfig models optional configuration, for NewBatcher.
	BatcherConfig struct {
		// MaxSize restricts the maximum number of jobs per batch, if positive.
		// **Defaults to 16, if 0, or BatcherConfig is nil.**
		//
		// WARNING: NewBatcher will panic if both MaxSize and FlushInterval are
		// disabled.
		MaxSize int

		// FlushInterval specifies the maximum duration before an "incomplete"
		// batch is passed to the BatchProcessor, if positive.
		// **Defaults to 50ms, if 0, or BatcherConfig is nil.**
		// If MaxSize is specified, time-based flushing can be disabled, by
		// setting this <= 0.
		//
		// WARNING: NewBatcher will panic if both MaxSize and FlushInterval are
		// disabled.
		FlushInterval time.Duration

		// MaxConcurrency specifies the maximum number of concurrent
		// BatchProcessor calls, able to be made by the Batcher, if positive.
		// **Defaults to 1, if 0, or BatcherConfig is nil.**
		MaxConcurrency int
	}

	// BatchProcessor runs jobs, using arbitrary behavior. Individual job
	// results (etc) should be assigned to the jobs themselves. Any returned
	// error will be propagated via JobResult.Wait.
	BatchProcessor[Job any] func(ctx context.Context, jobs []Job) error

	// Batcher accumulates jobs behind a mutex, flushing them to the
	// configured BatchProcessor whenever the pending batch reaches MaxSize
	// or FlushInterval has elapsed since its first job, whichever comes
	// first. Instances must be initialized using the NewBatcher factory.
	Batcher[Job any] struct {
		processor      BatchProcessor[Job]
		maxSize        int
		flushInterval  time.Duration
		maxConcurrency int

		mu      sync.Mutex
		pending []Job
		state   *batcherState[Job]
		timer   *time.Timer
		closed  bool

		flushSem chan struct{} // bounds concurrent BatchProcessor calls, nil if unbounded
		wg       sync.WaitGroup
	}

	// batcherState is shared by every JobResult belonging to one pending (or
	// in-flight) batch; a fresh one replaces it on every flush.
	batcherState[Job any] struct {
		err  error
		done chan struct{}
	}

	// JobResult models a scheduled job, providing a Wait method that should
	// be called prior to accessing any output/result, which the BatchProcessor
	// may set on the Job.
	//
	// WARNING: The actual value of the Job field will not be modified, meaning
	// any return values from BatchProcessor must be by references available
	// via the Job value.
	JobResult[Job any] struct {
		// Job is the pending job.
		//
		// WARNING: Consider that it may be accessed by the batch processor -
		// consider the implications, e.g. race conditions, if interacting with
		// internal state.
		Job Job

		batch *batcherState[Job]
	}
)

// NewBatcher initializes a new Batcher, using the provided BatcherConfig and
// BatchProcessor. The provided config may be nil. A panic will occur if
// processor is nil, or invalid config is provided.
//
// The Batcher.Close method and/or Batcher.Shutdown method should be called
// when the Batcher is no longer needed.
func NewBatcher[Job any](config *BatcherConfig, processor BatchProcessor[Job]) *Batcher[Job] {
	if processor == nil {
		panic(`batch: nil processor`)
	}

	b := &Batcher[Job]{
		processor:      processor,
		maxSize:        16,
		flushInterval:  50 * time.Millisecond,
		maxConcurrency: 1,
		state:          newBatcherState[Job](),
	}

	if config != nil {
		if config.MaxSize != 0 {
			b.maxSize = config.MaxSize
		}
		if config.FlushInterval != 0 {
			b.flushInterval = config.FlushInterval
		}
		if config.MaxConcurrency != 0 {
			b.maxConcurrency = config.MaxConcurrency
		}
	}

	if b.maxSize <= 0 && b.flushInterval <= 0 {
		panic(`batch: one of MaxSize or FlushInterval must be specified`)
	}

	if b.maxConcurrency > 0 {
		b.flushSem = make(chan struct{}, b.maxConcurrency)
	}

	return b
}

// Submit enqueues job into the current pending batch, returning a JobResult
// whose Wait method reports the outcome of whichever flush the job ends up
// in. Submit does not wait for its job's flush to finish, but a Submit that
// fills the batch to MaxSize flushes inline and may block until a flush
// slot (MaxConcurrency) is free.
func (b *Batcher[Job]) Submit(ctx context.Context, job Job) (*JobResult[Job], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, context.Canceled
	}

	b.pending = append(b.pending, job)
	result := &JobResult[Job]{Job: job, batch: b.state}

	if len(b.pending) == 1 && b.flushInterval > 0 {
		b.timer = time.AfterFunc(b.flushInterval, func() { b.flush(context.Background()) })
	}

	flushNow := b.maxSize > 0 && len(b.pending) >= b.maxSize
	b.mu.Unlock()

	if flushNow {
		b.flush(ctx)
	}

	return result, nil
}

// flush swaps out the current pending batch (if non-empty) and runs the
// processor against it on its own goroutine, bounded by MaxConcurrency.
func (b *Batcher[Job]) flush(ctx context.Context) {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	jobs := b.pending
	state := b.state
	b.pending = nil
	b.state = newBatcherState[Job]()
	b.mu.Unlock()

	b.wg.Add(1)
	if b.flushSem != nil {
		b.flushSem <- struct{}{}
	}
	go func() {
		defer b.wg.Done()
		defer func() {
			if b.flushSem != nil {
				<-b.flushSem
			}
		}()
		defer close(state.done)
		state.err = b.processor(ctx, jobs)
	}()
}

// Shutdown flushes any pending batch and waits for all in-flight batches to
// complete. An error is returned if ctx is canceled first.
//
// This method is unsafe to call from within a job or BatchProcessor.
func (b *Batcher[Job]) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.flush(ctx)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Close immediately prevents further jobs via Submit, flushes any pending
// batch, and blocks until all in-flight batches complete.
//
// This method is unsafe to call from within a job or BatchProcessor.
func (b *Batcher[Job]) Close() error {
	return b.Shutdown(context.Background())
}

func newBatcherState[Job any]() *batcherState[Job] {
	return &batcherState[Job]{done: make(chan struct{})}
}

// Wait for the Job to be processed. If the BatchProcessor failed with an
// error, that error will be returned. Handling of any implementation-specific
// behavior is via the JobResult.Job field.
func (x *JobResult[Job]) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()

	case <-x.batch.done:
		return x.batch.err
	}
}
