// Package orchestrator implements C6, spec.md §4.6 — "the hardest part":
// compile once, fan out N test-case executions in declared order, verify
// each output, aggregate, and update the leaderboard iff every test
// passed.
package orchestrator

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joeycumines/ctf-arena/internal/apperror"
	"github.com/joeycumines/ctf-arena/internal/model"
	"github.com/joeycumines/ctf-arena/internal/pollutil"
)

// Enqueuer is the subset of *queue.Queue the orchestrator depends on.
type Enqueuer interface {
	PublishCompileJob(ctx context.Context, job model.CompileJob) error
	PublishExecuteJob(ctx context.Context, job model.ExecuteJob) error
	CompileMetadata(ctx context.Context, jobID uuid.UUID) (model.Metadata, error)
	CompileResult(ctx context.Context, jobID uuid.UUID) (model.CompileResult, error)
	ExecuteMetadata(ctx context.Context, jobID uuid.UUID) (model.Metadata, error)
	ExecuteResult(ctx context.Context, jobID uuid.UUID) (model.ExecutionResult, error)
}

// ChallengeLookup is the subset of the challenge repository the
// orchestrator depends on.
type ChallengeLookup interface {
	Challenge(ctx context.Context, id string) (model.Challenge, error)
}

// Leaderboard is the subset of *leaderboard.Engine the orchestrator
// depends on.
type Leaderboard interface {
	UpsertLeaderboard(ctx context.Context, userID, challengeID, language string, instructions uint64, runID uuid.UUID, sourceCode string, verified bool) error
}

// Orchestrator is C6.
type Orchestrator struct {
	db          *sql.DB
	queue       Enqueuer
	challenges  ChallengeLookup
	leaderboard Leaderboard

	compilePoll pollutil.Config
	executePoll pollutil.Config

	testInstructionLimit uint64
}

// Config controls poll cadence and the per-test instruction limit. Zero
// values fall back to spec.md §4.6's literals.
type Config struct {
	CompilePoll          pollutil.Config // default 250ms / 120s
	ExecutePoll          pollutil.Config // default 100ms / 30s
	TestInstructionLimit uint64          // default 1e9
}

// New constructs an Orchestrator.
func New(db *sql.DB, queue Enqueuer, challenges ChallengeLookup, lb Leaderboard, cfg Config) *Orchestrator {
	compilePoll := cfg.CompilePoll
	if compilePoll.Interval <= 0 {
		compilePoll.Interval = 250 * time.Millisecond
	}
	if compilePoll.Timeout <= 0 {
		compilePoll.Timeout = 120 * time.Second
	}
	executePoll := cfg.ExecutePoll
	if executePoll.Interval <= 0 {
		executePoll.Interval = 100 * time.Millisecond
	}
	if executePoll.Timeout <= 0 {
		executePoll.Timeout = 30 * time.Second
	}
	limit := cfg.TestInstructionLimit
	if limit == 0 {
		limit = 1_000_000_000
	}
	return &Orchestrator{db: db, queue: queue, challenges: challenges, leaderboard: lb, compilePoll: compilePoll, executePoll: executePoll, testInstructionLimit: limit}
}

// SubmitInput is the input to Submit (spec.md §4.6's opening tuple, plus
// the is_verified flag the ingress layer attaches to the user).
type SubmitInput struct {
	UserID       string
	ChallengeID  string
	SourceCode   string
	Language     string
	Optimization model.Optimization
	IsVerified   bool
}

// SubmitAsync records a pending ChallengeSubmission synchronously (so its
// id can be returned to the caller immediately, per spec.md §6's
// `{submission_id, status:"pending"}` response) and runs the remainder of
// the C6 algorithm in the background, since a submission's compile + N
// test-case fan-out can take minutes. The background run uses ctx only to
// look up the challenge and record the initial row; it detaches onto
// context.Background() for everything after, so caller cancellation (e.g.
// an HTTP request context) never aborts in-flight compile/execute jobs —
// consistent with spec.md §5's "timeout abandons polling but does not
// cancel the underlying job".
func (o *Orchestrator) SubmitAsync(ctx context.Context, in SubmitInput) (uuid.UUID, error) {
	challenge, err := o.challenges.Challenge(ctx, in.ChallengeID)
	if err != nil {
		return uuid.Nil, err
	}

	sub := model.ChallengeSubmission{
		ID:          uuid.New(),
		UserID:      in.UserID,
		ChallengeID: in.ChallengeID,
		Language:    in.Language,
		SourceCode:  in.SourceCode,
		Status:      model.SubmissionPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.insertSubmission(ctx, sub); err != nil {
		return uuid.Nil, err
	}

	go o.run(context.Background(), sub, challenge, in)

	return sub.ID, nil
}

// Submit runs the full C6 algorithm synchronously and returns the final
// ChallengeSubmission. It never returns an error for a submission that
// completes with status=failed — errors here mean the orchestrator itself
// could not proceed (e.g. DB unavailable), distinct from the submission's
// own ErrorMessage. Exported primarily for tests and callers (e.g. an
// offline batch reprocessor) that want to block for the result; the HTTP
// ingress uses SubmitAsync.
func (o *Orchestrator) Submit(ctx context.Context, in SubmitInput) (model.ChallengeSubmission, error) {
	challenge, err := o.challenges.Challenge(ctx, in.ChallengeID)
	if err != nil {
		return model.ChallengeSubmission{}, err
	}

	sub := model.ChallengeSubmission{
		ID:          uuid.New(),
		UserID:      in.UserID,
		ChallengeID: in.ChallengeID,
		Language:    in.Language,
		SourceCode:  in.SourceCode,
		Status:      model.SubmissionPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.insertSubmission(ctx, sub); err != nil {
		return model.ChallengeSubmission{}, err
	}

	return o.run(ctx, sub, challenge, in)
}

func (o *Orchestrator) run(ctx context.Context, sub model.ChallengeSubmission, challenge model.Challenge, in SubmitInput) (model.ChallengeSubmission, error) {
	compileJob := model.CompileJob{
		ID:           uuid.New(),
		SourceCode:   in.SourceCode,
		Language:     in.Language,
		Optimization: in.Optimization,
		CreatedAt:    time.Now().UTC(),
		UserID:       &in.UserID,
	}
	if err := o.queue.PublishCompileJob(ctx, compileJob); err != nil {
		return o.finishErrored(ctx, sub, fmt.Errorf(`enqueue compile: %w`, err))
	}

	compileResult, err := o.waitForCompile(ctx, compileJob.ID)
	if err != nil {
		return o.finishErrored(ctx, sub, err)
	}

	sub.Status = model.SubmissionRunning
	sub.BinaryID = &compileResult.BinaryID
	if err := o.updateSubmissionRunning(ctx, sub); err != nil {
		return model.ChallengeSubmission{}, err
	}

	testResults, runIDs, runInstructions := o.runTestCases(ctx, compileResult.BinaryID, challenge, in)

	var totalInstructions, maxInstructions uint64
	var lastPassingRunID uuid.UUID
	allPassed := len(testResults) > 0
	for i, tr := range testResults {
		if !tr.Passed {
			allPassed = false
			continue
		}
		totalInstructions += runInstructions[i]
		if runInstructions[i] > maxInstructions {
			maxInstructions = runInstructions[i]
		}
		lastPassingRunID = runIDs[i]
	}

	sub.TestResults = testResults
	sub.Instructions = &maxInstructions
	completed := time.Now().UTC()
	sub.CompletedAt = &completed
	if allPassed {
		sub.Status = model.SubmissionPassed
	} else {
		sub.Status = model.SubmissionFailed
	}

	if err := o.finalizeSubmission(ctx, sub); err != nil {
		return model.ChallengeSubmission{}, err
	}

	if allPassed {
		if err := o.leaderboard.UpsertLeaderboard(ctx, in.UserID, in.ChallengeID, in.Language, maxInstructions, lastPassingRunID, in.SourceCode, in.IsVerified); err != nil {
			return sub, fmt.Errorf(`upsert leaderboard: %w`, err)
		}
	}

	return sub, nil
}

// runTestCases issues one execute job per test case and runs them one at a
// time, in the challenge's declared order (spec.md §5: "within one
// submission orchestrator instance, test cases execute sequentially in the
// challenge's declared order"; §4.6 step 4). Each job is enqueued and
// awaited to completion before the next test case's job is published. A
// per-test failure never aborts the others.
func (o *Orchestrator) runTestCases(ctx context.Context, binaryID string, challenge model.Challenge, in SubmitInput) ([]model.TestResult, []uuid.UUID, []uint64) {
	n := len(challenge.TestCases)
	testResults := make([]model.TestResult, n)
	runIDs := make([]uuid.UUID, n)
	runInstructions := make([]uint64, n)

	for i, tc := range challenge.TestCases {
		execJob := model.ExecuteJob{
			ID:               uuid.New(),
			BinaryID:         binaryID,
			InstructionLimit: o.testInstructionLimit,
			Stdin:            []byte(tc.Stdin),
			EnvVars:          challenge.EnvVars,
			NetworkEnabled:   challenge.NetworkEnabled,
			UserID:           &in.UserID,
			CreatedAt:        time.Now().UTC(),
		}
		runIDs[i] = execJob.ID

		if err := o.queue.PublishExecuteJob(ctx, execJob); err != nil {
			testResults[i] = failedResult(i, tc.ExpectedStdout, fmt.Sprintf(`enqueue failed: %v`, err))
			continue
		}

		result, err := o.waitForExecute(ctx, execJob.ID)
		if err != nil {
			testResults[i] = failedResult(i, tc.ExpectedStdout, err.Error())
			continue
		}

		actual, decodeErr := base64.StdEncoding.DecodeString(result.Stdout)
		if decodeErr != nil {
			testResults[i] = failedResult(i, tc.ExpectedStdout, `undecodable stdout`)
			continue
		}

		passed := Verify(challenge.VerifyMode, string(actual), tc.ExpectedStdout)
		testResults[i] = model.TestResult{
			TestIndex:       i,
			Passed:          passed,
			ExpectedPreview: preview(tc.ExpectedStdout),
			ActualPreview:   preview(string(actual)),
		}
		runInstructions[i] = result.Instructions
	}

	return testResults, runIDs, runInstructions
}

func (o *Orchestrator) waitForCompile(ctx context.Context, jobID uuid.UUID) (model.CompileResult, error) {
	meta, err := pollutil.Until(ctx, &o.compilePoll, func(ctx context.Context) (model.Metadata, bool, error) {
		m, err := o.queue.CompileMetadata(ctx, jobID)
		if err != nil {
			return model.Metadata{}, false, err
		}
		return m, m.Terminal(), nil
	})
	if err != nil {
		return model.CompileResult{}, apperror.Timeout(`compile job %s: %v`, jobID, err)
	}
	if meta.Status == model.StatusFailed {
		errMsg := `compile failed`
		if meta.Error != nil {
			errMsg = *meta.Error
		}
		return model.CompileResult{}, apperror.CompileError(`%s`, errMsg)
	}
	return o.queue.CompileResult(ctx, jobID)
}

func (o *Orchestrator) waitForExecute(ctx context.Context, jobID uuid.UUID) (model.ExecutionResult, error) {
	meta, err := pollutil.Until(ctx, &o.executePoll, func(ctx context.Context) (model.Metadata, bool, error) {
		m, err := o.queue.ExecuteMetadata(ctx, jobID)
		if err != nil {
			return model.Metadata{}, false, err
		}
		return m, m.Terminal(), nil
	})
	if err != nil {
		return model.ExecutionResult{}, apperror.Timeout(`execute job %s: %v`, jobID, err)
	}
	if meta.Status == model.StatusFailed {
		errMsg := `execution failed`
		if meta.Error != nil {
			errMsg = *meta.Error
		}
		return model.ExecutionResult{}, apperror.Internal(`%s`, errMsg)
	}
	return o.queue.ExecuteResult(ctx, jobID)
}

func (o *Orchestrator) finishErrored(ctx context.Context, sub model.ChallengeSubmission, cause error) (model.ChallengeSubmission, error) {
	sub.Status = model.SubmissionFailed
	msg := cause.Error()
	sub.ErrorMessage = &msg
	completed := time.Now().UTC()
	sub.CompletedAt = &completed
	if err := o.finalizeSubmission(ctx, sub); err != nil {
		return model.ChallengeSubmission{}, err
	}
	return sub, nil
}

// preview is the first 50 bytes of s, with "..." appended iff truncated
// (spec.md §4.6 step 4.iv).
func preview(s string) string {
	const max = 50
	if len(s) <= max {
		return s
	}
	return s[:max] + `...`
}

func failedResult(index int, expected, errMsg string) model.TestResult {
	return model.TestResult{TestIndex: index, Passed: false, ExpectedPreview: preview(expected), Error: &errMsg}
}

// Verify compares actual against expected under mode (spec.md §4.6 step
// 4.iii).
func Verify(mode model.VerifyMode, actual, expected string) bool {
	switch mode {
	case model.VerifyModeExact:
		return actual == expected
	case model.VerifyModeTrimmed:
		return linesEqual(trimLines(actual), trimLines(expected))
	case model.VerifyModeSorted:
		a, b := trimLines(actual), trimLines(expected)
		sort.Strings(a)
		sort.Strings(b)
		return linesEqual(a, b)
	default:
		return actual == expected
	}
}

func trimLines(s string) []string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, strings.TrimSpace(l))
	}
	// strip a single trailing empty line from a trailing "\n", matching
	// typical stdout framing without changing semantics for embedded blanks.
	if len(out) > 0 && out[len(out)-1] == `` {
		out = out[:len(out)-1]
	}
	return out
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
