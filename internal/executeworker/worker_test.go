package executeworker

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/ctf-arena/internal/batch"
	"github.com/joeycumines/ctf-arena/internal/collaborator"
	"github.com/joeycumines/ctf-arena/internal/model"
)

type fakeBinaryFetcher struct{ bytes []byte }

func (f fakeBinaryFetcher) Get(context.Context, string) ([]byte, error) { return f.bytes, nil }
func (f fakeBinaryFetcher) GetMetadata(context.Context, string) (model.Binary, error) {
	return model.Binary{}, nil
}

type fakeMetadataStore struct {
	metadata map[uuid.UUID]model.Metadata
	results  map[uuid.UUID]model.ExecutionResult
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{metadata: map[uuid.UUID]model.Metadata{}, results: map[uuid.UUID]model.ExecutionResult{}}
}

func (f *fakeMetadataStore) SetExecuteMetadata(_ context.Context, jobID uuid.UUID, meta model.Metadata) error {
	f.metadata[jobID] = meta
	return nil
}

func (f *fakeMetadataStore) SetExecuteResult(_ context.Context, jobID uuid.UUID, result model.ExecutionResult) error {
	f.results[jobID] = result
	return nil
}

type fakeSandbox struct {
	result model.ExecutionResult
	err    error
}

func (f fakeSandbox) Run(context.Context, collaborator.Request) (model.ExecutionResult, error) {
	return f.result, f.err
}

type fakeRunRecorder struct{ calls int }

func (f *fakeRunRecorder) Submit(context.Context, *model.Run) (*batch.JobResult[*model.Run], error) {
	f.calls++
	return nil, nil
}

func discardLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func TestProcessSuccessPersistsRunAndResult(t *testing.T) {
	meta := newFakeMetadataStore()
	runs := &fakeRunRecorder{}
	sandbox := fakeSandbox{result: model.ExecutionResult{Instructions: 42, ExitCode: 0}}

	w := New(nil, meta, fakeBinaryFetcher{bytes: []byte(`ELF`)}, sandbox, runs, t.TempDir(), discardLogger())

	job := model.ExecuteJob{ID: uuid.New(), BinaryID: `sha256-a`, InstructionLimit: 1_000_000}
	require.NoError(t, w.process(context.Background(), job, discardLogger()))

	require.Equal(t, model.StatusCompleted, meta.metadata[job.ID].Status)
	require.Equal(t, uint64(42), meta.results[job.ID].Instructions)
	require.Equal(t, 1, runs.calls)
}

func TestProcessSandboxFailureTransitionsFailed(t *testing.T) {
	meta := newFakeMetadataStore()
	runs := &fakeRunRecorder{}
	sandbox := fakeSandbox{err: require.AnError}

	w := New(nil, meta, fakeBinaryFetcher{bytes: []byte(`ELF`)}, sandbox, runs, t.TempDir(), discardLogger())

	job := model.ExecuteJob{ID: uuid.New(), BinaryID: `sha256-a`, InstructionLimit: 1_000_000}
	err := w.process(context.Background(), job, discardLogger())
	require.Error(t, err)
	require.Equal(t, model.StatusFailed, meta.metadata[job.ID].Status)
	require.Equal(t, 0, runs.calls)
}
