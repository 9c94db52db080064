// Package httpapi implements C8, spec.md §6's ingress surface: a thin
// request shell translating external calls into C3 queue submissions, C6
// orchestrator runs, and C7 leaderboard reads.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/joeycumines/ctf-arena/internal/apperror"
	"github.com/joeycumines/ctf-arena/internal/metrics"
	"github.com/joeycumines/ctf-arena/internal/model"
	"github.com/joeycumines/ctf-arena/internal/orchestrator"
	"github.com/joeycumines/ctf-arena/internal/ratelimit"
)

// Queue is the subset of *queue.Queue the API needs for the direct
// (non-challenge) compile/execute surface.
type Queue interface {
	PublishCompileJob(ctx context.Context, job model.CompileJob) error
	PublishExecuteJob(ctx context.Context, job model.ExecuteJob) error
	CompileMetadata(ctx context.Context, jobID uuid.UUID) (model.Metadata, error)
	CompileResult(ctx context.Context, jobID uuid.UUID) (model.CompileResult, error)
	ExecuteMetadata(ctx context.Context, jobID uuid.UUID) (model.Metadata, error)
	ExecuteResult(ctx context.Context, jobID uuid.UUID) (model.ExecutionResult, error)
}

// BinaryStore is the subset of *binarystore.Store the API needs.
type BinaryStore interface {
	Put(ctx context.Context, id *string, bytes []byte, metadata model.BinaryMetadata) (model.Binary, error)
	Get(ctx context.Context, id string) ([]byte, error)
	GetMetadata(ctx context.Context, id string) (model.Binary, error)
}

// Challenges is the subset of *challenge.Repository the API needs.
type Challenges interface {
	Challenge(ctx context.Context, id string) (model.Challenge, error)
	List(ctx context.Context) ([]model.Challenge, error)
}

// Orchestrator is the subset of *orchestrator.Orchestrator the API needs.
type Orchestrator interface {
	SubmitAsync(ctx context.Context, in orchestrator.SubmitInput) (uuid.UUID, error)
	GetSubmission(ctx context.Context, id uuid.UUID) (model.ChallengeSubmission, error)
}

// Leaderboard is the subset of *leaderboard.Engine the API needs.
type Leaderboard interface {
	PerChallengeLeaderboard(ctx context.Context, challengeID, language, userType string, limit int) ([]model.RankedLeaderboardRow, error)
	GlobalLeaderboard(ctx context.Context, userType string, limit int) ([]model.GlobalLeaderboardRow, error)
}

// Server is C8.
type Server struct {
	router       *mux.Router
	queue        Queue
	binaries     BinaryStore
	challenges   Challenges
	orchestrator Orchestrator
	leaderboard  Leaderboard

	burst   *ratelimit.BurstGuard
	limiter *ratelimit.DBCounter
	admit   *semaphore.Weighted

	verification VerificationBoundary
	adminToken   string

	maxSourceSize           int64
	maxBinarySize           int64
	defaultInstructionLimit uint64
	maxInstructionLimit     uint64

	metrics *metrics.Metrics
	log     zerolog.Logger
}

// Config bundles the tunables Server needs beyond its collaborators.
type Config struct {
	RateLimitPerMinute      int
	MaxConcurrent           int64 // default 4, spec.md §5
	MaxSourceSize           int64
	MaxBinarySize           int64
	DefaultInstructionLimit uint64
	MaxInstructionLimit     uint64
	Metrics                 *metrics.Metrics // optional; nil disables request counters

	// AdminToken gates the client-supplied binary_id passthrough on
	// /submit (see handleSubmit). Empty disables the capability entirely.
	AdminToken string

	// Verification resolves is_verified for challenge submissions. Nil
	// defaults to StubVerificationBoundary (always unverified).
	Verification VerificationBoundary
}

// New constructs a Server and registers its routes.
func New(queue Queue, binaries BinaryStore, challenges Challenges, orch Orchestrator, lb Leaderboard, limiter *ratelimit.DBCounter, cfg Config, log zerolog.Logger) *Server {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	rateLimitPerMinute := cfg.RateLimitPerMinute
	if rateLimitPerMinute <= 1 {
		rateLimitPerMinute = 10
	}
	verification := cfg.Verification
	if verification == nil {
		verification = StubVerificationBoundary{}
	}
	s := &Server{
		router:                  mux.NewRouter(),
		queue:                   queue,
		binaries:                binaries,
		challenges:              challenges,
		orchestrator:            orch,
		leaderboard:             lb,
		burst:                   ratelimit.NewBurstGuard(1, rateLimitPerMinute),
		limiter:                 limiter,
		admit:                   semaphore.NewWeighted(maxConcurrent),
		verification:            verification,
		adminToken:              cfg.AdminToken,
		maxSourceSize:           cfg.MaxSourceSize,
		maxBinarySize:           cfg.MaxBinarySize,
		defaultInstructionLimit: cfg.DefaultInstructionLimit,
		maxInstructionLimit:     cfg.MaxInstructionLimit,
		metrics:                 cfg.Metrics,
		log:                     log,
	}
	s.routes()
	return s
}

// Router returns the underlying mux.Router, suitable for http.ListenAndServe.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(s.loggingMiddleware, s.rateLimitMiddleware)

	s.router.HandleFunc(`/compile`, s.handleCompile).Methods(http.MethodPost)
	s.router.HandleFunc(`/compile/status/{id}`, s.handleCompileStatus).Methods(http.MethodGet)
	s.router.HandleFunc(`/compile/result/{id}`, s.handleCompileResult).Methods(http.MethodGet)

	s.router.HandleFunc(`/submit`, s.handleSubmit).Methods(http.MethodPost)
	s.router.HandleFunc(`/status/{job_id}`, s.handleExecuteStatus).Methods(http.MethodGet)
	s.router.HandleFunc(`/result/{job_id}`, s.handleExecuteResult).Methods(http.MethodGet)

	s.router.HandleFunc(`/binaries/{id}`, s.handlePutBinary).Methods(http.MethodPut)
	s.router.HandleFunc(`/binaries/{id}`, s.handleGetBinary).Methods(http.MethodGet)

	s.router.HandleFunc(`/challenges`, s.handleListChallenges).Methods(http.MethodGet)
	s.router.HandleFunc(`/challenges/{id}`, s.handleGetChallenge).Methods(http.MethodGet)
	s.router.HandleFunc(`/challenges/{id}/submit`, s.handleChallengeSubmit).Methods(http.MethodPost)
	s.router.HandleFunc(`/challenges/{id}/submission/{sid}`, s.handleChallengeSubmission).Methods(http.MethodGet)
	s.router.HandleFunc(`/challenges/{id}/leaderboard`, s.handlePerChallengeLeaderboard).Methods(http.MethodGet)
	s.router.HandleFunc(`/leaderboard`, s.handleGlobalLeaderboard).Methods(http.MethodGet)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		s.log.Info().Str(`method`, r.Method).Str(`path`, r.URL.Path).Int(`status`, rec.status).Dur(`elapsed`, elapsed).Msg(`request`)
		if s.metrics != nil {
			s.metrics.HTTPRequestsTotal.WithLabelValues(routeTemplate(r), strconv.Itoa(rec.status)).Inc()
		}
	})
}

// routeTemplate resolves the matched route's path template (e.g.
// "/challenges/{id}") rather than the literal request path, so the
// requests_total cardinality stays bounded regardless of path parameters.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// rateLimitMiddleware enforces the layered policy of spec.md §5: an
// in-process burst guard keyed by remote address in front of the
// authoritative per-user Postgres bucket counter. Both must allow.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.burst.Allow(r.RemoteAddr); !ok {
			respondError(w, apperror.RateLimited(`too many requests`))
			return
		}
		if userID := r.Header.Get(`X-User-ID`); userID != `` && s.limiter != nil {
			ok, err := s.limiter.Allow(r.Context(), userID)
			if err != nil {
				respondError(w, apperror.Wrap(apperror.KindInternal, `rate limit check`, err))
				return
			}
			if !ok {
				respondError(w, apperror.RateLimited(`rate limit exceeded for user %s`, userID))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// hasAdminCapability reports whether r carries a bearer token matching
// s.adminToken. An empty s.adminToken disables the capability entirely,
// regardless of what the request presents (spec.md §9 Open Question: the
// client-supplied binary_id passthrough on /submit is gated, not trusted
// by default).
func (s *Server) hasAdminCapability(r *http.Request) bool {
	if s.adminToken == `` {
		return false
	}
	const prefix = `Bearer `
	auth := r.Header.Get(`Authorization`)
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	presented := strings.TrimPrefix(auth, prefix)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.adminToken)) == 1
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(`Content-Type`, `application/json`)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, apperror.StatusOf(err), map[string]string{`error`: err.Error()})
}
