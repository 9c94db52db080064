package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/joeycumines/ctf-arena/internal/apperror"
	"github.com/joeycumines/ctf-arena/internal/model"
	"github.com/joeycumines/ctf-arena/internal/orchestrator"
)

// handleListChallenges implements GET /challenges.
func (s *Server) handleListChallenges(w http.ResponseWriter, r *http.Request) {
	list, err := s.challenges.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// handleGetChallenge implements GET /challenges/:id. TestCase.ExpectedStdout
// carries json:"-" so the wire projection already strips expected outputs.
func (s *Server) handleGetChallenge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)[`id`]
	c, err := s.challenges.Challenge(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// handleChallengeSubmit implements POST /challenges/:id/submit. Requires
// X-User-ID (the auth surface is out of scope per spec.md §1; this header
// is what a fronting auth layer would attach).
func (s *Server) handleChallengeSubmit(w http.ResponseWriter, r *http.Request) {
	challengeID := mux.Vars(r)[`id`]

	userID := r.Header.Get(`X-User-ID`)
	if userID == `` {
		respondError(w, apperror.New(apperror.KindUnauthorized, `authentication required`))
		return
	}

	if err := r.ParseMultipartForm(s.maxSourceSize + (1 << 20)); err != nil {
		respondError(w, apperror.Validation(`invalid multipart form: %v`, err))
		return
	}

	source := r.FormValue(`source_code`)
	if source == `` || int64(len(source)) > s.maxSourceSize {
		respondError(w, apperror.Validation(`source_code is required and must fit within the size cap`))
		return
	}
	language := r.FormValue(`language`)

	opt := model.Optimization(r.FormValue(`optimization`))
	if opt == `` {
		opt = model.OptimizationRelease
	}

	// is_verified is never taken from a client-supplied header (spec.md §9
	// Open Question): it is resolved through the VerificationBoundary, whose
	// only current implementation always reports false.
	isVerified, err := s.verification.Verify(r.Context(), userID)
	if err != nil && !errors.Is(err, ErrVerificationStubbed) {
		respondError(w, apperror.Wrap(apperror.KindInternal, `verification check`, err))
		return
	}

	id, err := s.orchestrator.SubmitAsync(r.Context(), orchestrator.SubmitInput{
		UserID:       userID,
		ChallengeID:  challengeID,
		SourceCode:   source,
		Language:     language,
		Optimization: opt,
		IsVerified:   isVerified,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		`submission_id`: id,
		`status`:        `pending`,
	})
}

// handleChallengeSubmission implements GET /challenges/:id/submission/:sid.
func (s *Server) handleChallengeSubmission(w http.ResponseWriter, r *http.Request) {
	sid, err := uuid.Parse(mux.Vars(r)[`sid`])
	if err != nil {
		respondError(w, apperror.Validation(`invalid submission id`))
		return
	}
	sub, err := s.orchestrator.GetSubmission(r.Context(), sid)
	if err != nil {
		respondError(w, err)
		return
	}
	if userID := r.Header.Get(`X-User-ID`); userID != `` && userID != sub.UserID {
		respondError(w, apperror.New(apperror.KindForbidden, `not the submission owner`))
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// handlePerChallengeLeaderboard implements GET /challenges/:id/leaderboard.
func (s *Server) handlePerChallengeLeaderboard(w http.ResponseWriter, r *http.Request) {
	challengeID := mux.Vars(r)[`id`]
	language := r.URL.Query().Get(`language`)
	userType := r.URL.Query().Get(`user_type`)
	limit := parseLimit(r)

	rows, err := s.leaderboard.PerChallengeLeaderboard(r.Context(), challengeID, language, userType, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// handleGlobalLeaderboard implements GET /leaderboard.
func (s *Server) handleGlobalLeaderboard(w http.ResponseWriter, r *http.Request) {
	userType := r.URL.Query().Get(`user_type`)
	limit := parseLimit(r)
	rows, err := s.leaderboard.GlobalLeaderboard(r.Context(), userType, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func parseLimit(r *http.Request) int {
	v := r.URL.Query().Get(`limit`)
	if v == `` {
		return 100
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 100
	}
	return n
}
