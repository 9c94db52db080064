package compileworker

import (
	"context"
	"io"
	"sync"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/ctf-arena/internal/collaborator"
	"github.com/joeycumines/ctf-arena/internal/compilecache"
	"github.com/joeycumines/ctf-arena/internal/model"
	"github.com/joeycumines/ctf-arena/internal/queue"
)

type alwaysExists struct{}

func (alwaysExists) Exists(context.Context, string) (bool, error) { return true, nil }

type fakeConsumer struct {
	mu   sync.Mutex
	jobs []model.CompileJob
	acks int
}

func (f *fakeConsumer) Fetch(ctx context.Context) (*queue.Message[model.CompileJob], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return &queue.Message[model.CompileJob]{Job: job}, nil
}

type fakeMetadataStore struct {
	mu       sync.Mutex
	metadata map[uuid.UUID]model.Metadata
	results  map[uuid.UUID]model.CompileResult
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{metadata: map[uuid.UUID]model.Metadata{}, results: map[uuid.UUID]model.CompileResult{}}
}

func (f *fakeMetadataStore) CompileMetadata(_ context.Context, jobID uuid.UUID) (model.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metadata[jobID], nil
}

func (f *fakeMetadataStore) SetCompileMetadata(_ context.Context, jobID uuid.UUID, meta model.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata[jobID] = meta
	return nil
}

func (f *fakeMetadataStore) SetCompileResult(_ context.Context, jobID uuid.UUID, result model.CompileResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[jobID] = result
	return nil
}

type fakeBinaryStore struct{ putCalls int }

func (f *fakeBinaryStore) Put(_ context.Context, _ *string, bytes []byte, metadata model.BinaryMetadata) (model.Binary, error) {
	f.putCalls++
	return model.Binary{ID: `sha256-fake`, Size: int64(len(bytes)), Metadata: metadata}, nil
}

type fakeCompiler struct {
	outcome collaborator.CompileOutcome
	err     error
	calls   int
}

func (f *fakeCompiler) Compile(context.Context, collaborator.CompileRequest) (collaborator.CompileOutcome, error) {
	f.calls++
	return f.outcome, f.err
}

func discardLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestProcessSuccessWritesBinaryAndCache(t *testing.T) {
	meta := newFakeMetadataStore()
	binaries := &fakeBinaryStore{}
	compiler := &fakeCompiler{outcome: collaborator.CompileOutcome{Binary: []byte(`ELF`), ExitCode: 0}}

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	mock.ExpectQuery(`SELECT binary_id, binary_size, compile_time_ms`).
		WillReturnRows(sqlmock.NewRows([]string{`binary_id`, `binary_size`, `compile_time_ms`}))
	mock.ExpectExec(`INSERT INTO compile_cache`).WillReturnResult(sqlmock.NewResult(0, 1))

	cache := compilecache.New(conn, alwaysExists{})
	w := New(nil, meta, cache, binaries, compiler, discardLogger())

	job := model.CompileJob{ID: uuid.New(), SourceCode: `print(1)`, Language: `python`, Optimization: model.OptimizationRelease}
	require.NoError(t, w.process(context.Background(), job, discardLogger()))

	require.Equal(t, 1, binaries.putCalls)
	require.Equal(t, 1, compiler.calls)
	require.Equal(t, model.StatusCompleted, meta.metadata[job.ID].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessCompilerFailureTransitionsFailed(t *testing.T) {
	meta := newFakeMetadataStore()
	binaries := &fakeBinaryStore{}
	compiler := &fakeCompiler{err: require.AnError}

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	mock.ExpectQuery(`SELECT binary_id, binary_size, compile_time_ms`).
		WillReturnRows(sqlmock.NewRows([]string{`binary_id`, `binary_size`, `compile_time_ms`}))

	cache := compilecache.New(conn, alwaysExists{})
	w := New(nil, meta, cache, binaries, compiler, discardLogger())

	job := model.CompileJob{ID: uuid.New(), SourceCode: `bad`, Language: `python`, Optimization: model.OptimizationRelease}
	err = w.process(context.Background(), job, discardLogger())
	require.Error(t, err)
	require.Equal(t, model.StatusFailed, meta.metadata[job.ID].Status)
	require.Equal(t, 0, binaries.putCalls)
	require.NoError(t, mock.ExpectationsWereMet())
}
