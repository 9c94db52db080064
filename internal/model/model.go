// Package model defines the data model of spec.md §3: the entities shared
// across the queue substrate, the workers, the orchestrator, and the
// leaderboard engine. Types here carry no behavior beyond JSON
// (de)serialization; the packages that own each entity's lifecycle
// (binarystore, queue, compilecache, leaderboard, ...) implement the
// operations.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Optimization is a compile optimization profile, a closed tagged enum per
// spec.md §9.
type Optimization string

const (
	OptimizationDebug   Optimization = "debug"
	OptimizationRelease Optimization = "release"
	OptimizationSize    Optimization = "size"
)

// Valid reports whether o is one of the declared Optimization values.
func (o Optimization) Valid() bool {
	switch o {
	case OptimizationDebug, OptimizationRelease, OptimizationSize:
		return true
	default:
		return false
	}
}

// VerifyMode is the equality relation used to compare a submission's stdout
// against a challenge test case's expected_stdout.
type VerifyMode string

const (
	VerifyModeExact   VerifyMode = "exact"
	VerifyModeTrimmed VerifyMode = "trimmed"
	VerifyModeSorted  VerifyMode = "sorted"
)

// JobStatus is the state machine shared by compile and execute metadata
// (spec.md §4.3). Pending -> {Compiling,Running} -> {Completed,Failed} is
// enforced neither by this type nor by the queue package, which stores
// metadata without validating transitions.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusCompiling JobStatus = "compiling"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// BinaryMetadata is the sidecar metadata attached to a Binary (spec.md
// §3/§4.1). All fields are optional; CompileFlags is an opaque string map.
type BinaryMetadata struct {
	Language        *string           `json:"language,omitempty"`
	Optimization    *Optimization     `json:"optimization,omitempty"`
	CompilerVersion *string           `json:"compiler_version,omitempty"`
	CompileFlags    map[string]string `json:"compile_flags,omitempty"`
}

// Binary is the content-addressed blob record of spec.md §3 (C1). Bytes are
// held by the store, not this struct; ID, Size, and Metadata are what
// travel over the wire.
type Binary struct {
	ID        string         `json:"id"`
	Size      int64          `json:"size"`
	Metadata  BinaryMetadata `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// CompileResult is the outcome of a successful compile, whether freshly
// compiled or served from the compile cache (spec.md §3/§4.2).
type CompileResult struct {
	BinaryID      string `json:"binary_id"`
	BinarySize    int64  `json:"binary_size"`
	CompileTimeMs int64  `json:"compile_time_ms"`
	Cached        bool   `json:"cached"`
}

// CompileJob is an immutable compile request (spec.md §3).
type CompileJob struct {
	ID           uuid.UUID         `json:"id"`
	SourceCode   string            `json:"source_code"`
	Language     string            `json:"language"`
	Optimization Optimization      `json:"optimization"`
	Flags        map[string]string `json:"flags"`
	CreatedAt    time.Time         `json:"created_at"`
	UserID       *string           `json:"user_id,omitempty"`
}

// ExecuteJob is an immutable execute request (spec.md §3).
type ExecuteJob struct {
	ID               uuid.UUID         `json:"id"`
	BinaryID         string            `json:"binary_id"`
	InstructionLimit uint64            `json:"instruction_limit"`
	Stdin            []byte            `json:"stdin"`
	EnvVars          map[string]string `json:"env_vars,omitempty"`
	NetworkEnabled   bool              `json:"network_enabled"`
	BenchmarkID      *string           `json:"benchmark_id,omitempty"`
	UserID           *string           `json:"user_id,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Metadata is the per-job state stored in the queue substrate's KV spaces
// (spec.md §3/§4.3).
type Metadata struct {
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// Terminal reports whether m.Status is an absorbing state (spec.md I-3).
func (m Metadata) Terminal() bool {
	return m.Status == StatusCompleted || m.Status == StatusFailed
}

// ExecutionResult is the outcome of a completed execute job (spec.md §3),
// as reported by the sandbox collaborator's trailing stats line plus the
// captured stdout/stderr.
type ExecutionResult struct {
	Instructions     uint64            `json:"instructions"`
	MemoryPeakKB     uint64            `json:"memory_peak_kb"`
	MemoryRSSKB      uint64            `json:"memory_rss_kb"`
	MemoryHWMKB      uint64            `json:"memory_hwm_kb"`
	MemoryDataKB     uint64            `json:"memory_data_kb"`
	MemoryStackKB    uint64            `json:"memory_stack_kb"`
	IOReadBytes      uint64            `json:"io_read_bytes"`
	IOWriteBytes     uint64            `json:"io_write_bytes"`
	GuestMmapBytes   uint64            `json:"guest_mmap_bytes"`
	GuestMmapPeak    uint64            `json:"guest_mmap_peak"`
	GuestHeapBytes   uint64            `json:"guest_heap_bytes"`
	LimitReached     bool              `json:"limit_reached"`
	ExitCode         int               `json:"exit_code"`
	Stdout           string            `json:"stdout"` // base64
	Stderr           string            `json:"stderr"` // base64, stats line stripped
	ExecutionTimeMs  int64             `json:"execution_time_ms"`
	Syscalls         uint64            `json:"syscalls"`
	SyscallBreakdown map[string]uint64 `json:"syscall_breakdown,omitempty"`
}

// TestCase is a single input/expected-output pair belonging to a Challenge.
// ExpectedStdout is never exposed to requesters (spec.md §3).
type TestCase struct {
	Stdin          string  `json:"stdin"`
	ExpectedStdout string  `json:"-"`
	Description    *string `json:"description,omitempty"`
}

// Challenge is a leaderboard-bearing coding problem (spec.md §3).
type Challenge struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Category       string            `json:"category"`
	Difficulty     string            `json:"difficulty"`
	InputSpec      *string           `json:"input_spec,omitempty"`
	OutputSpec     string            `json:"output_spec"`
	TestCases      []TestCase        `json:"-"`
	VerifyMode     VerifyMode        `json:"verify_mode"`
	IsActive       bool              `json:"is_active"`
	NetworkEnabled bool              `json:"network_enabled"`
	EnvVars        map[string]string `json:"env_vars,omitempty"`
	Baselines      map[string]uint64 `json:"baselines,omitempty"`
}

// SubmissionStatus is the state machine of a ChallengeSubmission.
type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "pending"
	SubmissionCompiling SubmissionStatus = "compiling"
	SubmissionRunning   SubmissionStatus = "running"
	SubmissionPassed    SubmissionStatus = "passed"
	SubmissionFailed    SubmissionStatus = "failed"
)

// TestResult records the outcome of verifying one test case's output
// (spec.md §4.6 step 4.iv).
type TestResult struct {
	TestIndex       int     `json:"test_index"`
	Passed          bool    `json:"passed"`
	ExpectedPreview string  `json:"expected_preview"`
	ActualPreview   string  `json:"actual_preview"`
	Error           *string `json:"error,omitempty"`
}

// ChallengeSubmission is one user's attempt at a Challenge (spec.md §3).
type ChallengeSubmission struct {
	ID            uuid.UUID        `json:"id"`
	UserID        string           `json:"user_id"`
	ChallengeID   string           `json:"challenge_id"`
	Language      string           `json:"language"`
	SourceCode    string           `json:"source_code"`
	BinaryID      *string          `json:"binary_id,omitempty"`
	Status        SubmissionStatus `json:"status"`
	TestResults   []TestResult     `json:"test_results,omitempty"`
	Instructions  *uint64          `json:"instructions,omitempty"`
	ErrorMessage  *string          `json:"error_message,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// LeaderboardEntry is the keep-best row for a (user, challenge, language)
// triple (spec.md §3, invariant L-1).
type LeaderboardEntry struct {
	UserID       string    `json:"user_id"`
	ChallengeID  string    `json:"challenge_id"`
	Language     string    `json:"language"`
	Instructions uint64    `json:"instructions"`
	RunID        uuid.UUID `json:"run_id"`
	SourceCode   string    `json:"source_code"`
	IsVerified   bool      `json:"is_verified"`
	CreatedAt    time.Time `json:"created_at"`
}

// Run is an append-mostly historical record of one completed execution
// (spec.md §3), looked up primarily by JobID.
type Run struct {
	ID          uuid.UUID `json:"id"`
	JobID       uuid.UUID `json:"job_id"`
	BinaryID    string    `json:"binary_id"`
	UserID      *string   `json:"user_id,omitempty"`
	BenchmarkID *string   `json:"benchmark_id,omitempty"`
	Result      ExecutionResult `json:"result"`
	CreatedAt   time.Time `json:"created_at"`
}

// RankedLeaderboardRow is one row of a per-challenge leaderboard response
// (spec.md §4.7).
type RankedLeaderboardRow struct {
	Rank         int       `json:"rank"`
	UserID       string    `json:"user"`
	Instructions uint64    `json:"instructions"`
	Language     string    `json:"language"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// GlobalLeaderboardRow is one row of the composite global leaderboard
// (spec.md §4.7).
type GlobalLeaderboardRow struct {
	Rank                int    `json:"rank"`
	UserID              string `json:"user"`
	TotalScore          int64  `json:"total_score"`
	ChallengesCompleted int    `json:"challenges_completed"`
	FirstPlaces         int    `json:"first_places"`
}
