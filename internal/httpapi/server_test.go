package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/ctf-arena/internal/model"
	"github.com/joeycumines/ctf-arena/internal/orchestrator"
)

type fakeQueue struct {
	compileMeta model.Metadata
}

func (f *fakeQueue) PublishCompileJob(context.Context, model.CompileJob) error { return nil }
func (f *fakeQueue) PublishExecuteJob(context.Context, model.ExecuteJob) error { return nil }
func (f *fakeQueue) CompileMetadata(context.Context, uuid.UUID) (model.Metadata, error) {
	return f.compileMeta, nil
}
func (f *fakeQueue) CompileResult(context.Context, uuid.UUID) (model.CompileResult, error) {
	return model.CompileResult{BinaryID: `sha256-x`}, nil
}
func (f *fakeQueue) ExecuteMetadata(context.Context, uuid.UUID) (model.Metadata, error) {
	return model.Metadata{Status: model.StatusPending}, nil
}
func (f *fakeQueue) ExecuteResult(context.Context, uuid.UUID) (model.ExecutionResult, error) {
	return model.ExecutionResult{}, nil
}

type fakeBinaries struct{}

func (fakeBinaries) Put(context.Context, *string, []byte, model.BinaryMetadata) (model.Binary, error) {
	return model.Binary{ID: `sha256-abc`}, nil
}
func (fakeBinaries) Get(context.Context, string) ([]byte, error)             { return []byte(`ELF`), nil }
func (fakeBinaries) GetMetadata(context.Context, string) (model.Binary, error) { return model.Binary{}, nil }

type fakeChallenges struct{}

func (fakeChallenges) Challenge(context.Context, string) (model.Challenge, error) {
	return model.Challenge{ID: `fib`}, nil
}
func (fakeChallenges) List(context.Context) ([]model.Challenge, error) {
	return []model.Challenge{{ID: `fib`}}, nil
}

type fakeOrchestrator struct{ submissionID uuid.UUID }

func (f *fakeOrchestrator) SubmitAsync(context.Context, orchestrator.SubmitInput) (uuid.UUID, error) {
	return f.submissionID, nil
}
func (f *fakeOrchestrator) GetSubmission(context.Context, uuid.UUID) (model.ChallengeSubmission, error) {
	return model.ChallengeSubmission{ID: f.submissionID, UserID: `u1`, Status: model.SubmissionPassed}, nil
}

type fakeLeaderboard struct{}

func (fakeLeaderboard) PerChallengeLeaderboard(context.Context, string, string, string, int) ([]model.RankedLeaderboardRow, error) {
	return []model.RankedLeaderboardRow{{Rank: 1, UserID: `u1`}}, nil
}
func (fakeLeaderboard) GlobalLeaderboard(context.Context, string, int) ([]model.GlobalLeaderboardRow, error) {
	return []model.GlobalLeaderboardRow{{Rank: 1, UserID: `u1`}}, nil
}

func newTestServer() *Server {
	return New(&fakeQueue{compileMeta: model.Metadata{Status: model.StatusCompleted}}, fakeBinaries{}, fakeChallenges{}, &fakeOrchestrator{submissionID: uuid.New()}, fakeLeaderboard{}, nil, Config{MaxSourceSize: 1 << 20, MaxBinarySize: 1 << 20, DefaultInstructionLimit: 1e9, MaxInstructionLimit: 1e12}, zerolog.New(io.Discard))
}

func TestHandleCompile(t *testing.T) {
	s := newTestServer()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField(`source_code`, `print(1)`))
	require.NoError(t, mw.WriteField(`language`, `python`))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, `/compile`, &buf)
	req.Header.Set(`Content-Type`, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, `queued`, body[`status`])
}

func TestHandleCompileRejectsUnknownLanguage(t *testing.T) {
	s := newTestServer()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField(`source_code`, `print(1)`))
	require.NoError(t, mw.WriteField(`language`, `cobol-2099`))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, `/compile`, &buf)
	req.Header.Set(`Content-Type`, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChallengeSubmitRequiresAuth(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodPost, `/challenges/fib/submit`, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleGlobalLeaderboard(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, `/leaderboard`, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var rows []model.GlobalLeaderboardRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
}

func TestHandleSubmitRejectsBinaryIDWithoutAdminToken(t *testing.T) {
	s := newTestServer()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField(`binary_id`, `sha256-abc`))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, `/submit`, &buf)
	req.Header.Set(`Content-Type`, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleSubmitAcceptsBinaryIDWithValidAdminToken(t *testing.T) {
	s := New(&fakeQueue{compileMeta: model.Metadata{Status: model.StatusCompleted}}, fakeBinaries{}, fakeChallenges{}, &fakeOrchestrator{submissionID: uuid.New()}, fakeLeaderboard{}, nil, Config{
		MaxSourceSize: 1 << 20, MaxBinarySize: 1 << 20, DefaultInstructionLimit: 1e9, MaxInstructionLimit: 1e12,
		AdminToken: `s3cret`,
	}, zerolog.New(io.Discard))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField(`binary_id`, `sha256-abc`))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, `/submit`, &buf)
	req.Header.Set(`Content-Type`, mw.FormDataContentType())
	req.Header.Set(`Authorization`, `Bearer s3cret`)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSubmitRejectsBinaryIDWithWrongAdminToken(t *testing.T) {
	s := New(&fakeQueue{compileMeta: model.Metadata{Status: model.StatusCompleted}}, fakeBinaries{}, fakeChallenges{}, &fakeOrchestrator{submissionID: uuid.New()}, fakeLeaderboard{}, nil, Config{
		MaxSourceSize: 1 << 20, MaxBinarySize: 1 << 20, DefaultInstructionLimit: 1e9, MaxInstructionLimit: 1e12,
		AdminToken: `s3cret`,
	}, zerolog.New(io.Discard))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField(`binary_id`, `sha256-abc`))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, `/submit`, &buf)
	req.Header.Set(`Content-Type`, mw.FormDataContentType())
	req.Header.Set(`Authorization`, `Bearer nope`)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleChallengeSubmitUsesStubbedVerification(t *testing.T) {
	s := newTestServer()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField(`source_code`, `print(1)`))
	require.NoError(t, mw.WriteField(`language`, `python`))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, `/challenges/fib/submit`, &buf)
	req.Header.Set(`Content-Type`, mw.FormDataContentType())
	req.Header.Set(`X-User-ID`, `u1`)
	req.Header.Set(`X-User-Verified`, `true`) // must be ignored: never trusted
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleGetBinary(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, `/binaries/sha256-abc`, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `ELF`, rec.Body.String())
}
