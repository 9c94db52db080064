package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewBatcher_PanicsOnNilProcessor(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error(`expected panic`)
		}
	}()
	NewBatcher[int](nil, nil)
}

func TestNewBatcher_PanicsWhenBothTriggersDisabled(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error(`expected panic`)
		}
	}()
	NewBatcher(&BatcherConfig{MaxSize: -1, FlushInterval: -1}, func(context.Context, []int) error { return nil })
}

func TestNewBatcher_Defaults(t *testing.T) {
	b := NewBatcher[int](nil, func(context.Context, []int) error { return nil })
	if b.maxSize != 16 {
		t.Errorf(`expected default maxSize 16, got %d`, b.maxSize)
	}
	if b.flushInterval != 50*time.Millisecond {
		t.Errorf(`expected default flushInterval 50ms, got %s`, b.flushInterval)
	}
	if b.maxConcurrency != 1 {
		t.Errorf(`expected default maxConcurrency 1, got %d`, b.maxConcurrency)
	}
}

func TestBatcher_FlushesOnMaxSize(t *testing.T) {
	var mu sync.Mutex
	var got []int

	b := NewBatcher(&BatcherConfig{MaxSize: 3, FlushInterval: -1}, func(ctx context.Context, jobs []int) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, jobs...)
		return nil
	})

	var results []*JobResult[int]
	for i := 0; i < 3; i++ {
		result, err := b.Submit(context.Background(), i)
		if err != nil {
			t.Fatal(err)
		}
		results = append(results, result)
	}

	for _, r := range results {
		if err := r.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Errorf(`expected 3 jobs flushed, got %d: %v`, len(got), got)
	}
}

func TestBatcher_FlushesOnInterval(t *testing.T) {
	processed := make(chan []int, 1)

	b := NewBatcher(&BatcherConfig{MaxSize: -1, FlushInterval: 20 * time.Millisecond}, func(ctx context.Context, jobs []int) error {
		processed <- jobs
		return nil
	})
	defer b.Close()

	if _, err := b.Submit(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Submit(context.Background(), 2); err != nil {
		t.Fatal(err)
	}

	select {
	case jobs := <-processed:
		if len(jobs) != 2 {
			t.Errorf(`expected 2 jobs, got %d`, len(jobs))
		}
	case <-time.After(time.Second):
		t.Fatal(`timed out waiting for interval flush`)
	}
}

func TestBatcher_SubmitAfterCloseIsRejected(t *testing.T) {
	b := NewBatcher[int](nil, func(context.Context, []int) error { return nil })
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Submit(context.Background(), 1); !errors.Is(err, context.Canceled) {
		t.Errorf(`expected context.Canceled, got %v`, err)
	}
}

func TestBatcher_SubmitRejectsCanceledContext(t *testing.T) {
	b := NewBatcher[int](nil, func(context.Context, []int) error { return nil })
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Submit(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Errorf(`expected context.Canceled, got %v`, err)
	}
}

func TestBatcher_ShutdownFlushesPendingBatch(t *testing.T) {
	var mu sync.Mutex
	var got []int

	b := NewBatcher(&BatcherConfig{MaxSize: 100, FlushInterval: -1}, func(ctx context.Context, jobs []int) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, jobs...)
		return nil
	})

	if _, err := b.Submit(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Submit(context.Background(), 2); err != nil {
		t.Fatal(err)
	}

	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Errorf(`expected 2 jobs flushed on shutdown, got %d`, len(got))
	}
}

func TestJobResult_WaitPropagatesProcessorError(t *testing.T) {
	wantErr := errors.New(`processor failed`)
	b := NewBatcher(&BatcherConfig{MaxSize: 1, FlushInterval: -1}, func(context.Context, []int) error {
		return wantErr
	})
	defer b.Close()

	result, err := b.Submit(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := result.Wait(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf(`expected %v, got %v`, wantErr, err)
	}
}

func TestJobResult_WaitRespectsContextCancel(t *testing.T) {
	result := JobResult[int]{batch: &batcherState[int]{done: make(chan struct{})}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := result.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf(`expected context.Canceled, got %v`, err)
	}
}
