package httpapi

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/joeycumines/ctf-arena/internal/apperror"
	"github.com/joeycumines/ctf-arena/internal/model"
)

// handleSubmit implements POST /submit: submit a raw binary (by upload or
// by reference to an existing binary_id) for direct execution, bypassing
// the challenge/leaderboard machinery entirely.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.maxBinarySize + (1 << 20)); err != nil {
		respondError(w, apperror.Validation(`invalid multipart form: %v`, err))
		return
	}

	binaryID := r.FormValue(`binary_id`)
	if binaryID != `` {
		if !s.hasAdminCapability(r) {
			respondError(w, apperror.New(apperror.KindForbidden, `binary_id requires an admin bearer token`))
			return
		}
	}
	if binaryID == `` {
		file, _, err := r.FormFile(`binary`)
		if err != nil {
			respondError(w, apperror.Validation(`binary or binary_id is required`))
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, s.maxBinarySize+1))
		if err != nil {
			respondError(w, apperror.Wrap(apperror.KindInternal, `read binary upload`, err))
			return
		}
		if int64(len(data)) > s.maxBinarySize {
			respondError(w, apperror.PayloadTooLarge(`binary exceeds %d bytes`, s.maxBinarySize))
			return
		}
		binary, err := s.binaries.Put(r.Context(), nil, data, model.BinaryMetadata{})
		if err != nil {
			respondError(w, err)
			return
		}
		binaryID = binary.ID
	}

	instructionLimit := s.defaultInstructionLimit
	if v := r.FormValue(`instruction_limit`); v != `` {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			instructionLimit = parsed
		}
	}
	if instructionLimit > s.maxInstructionLimit {
		respondError(w, apperror.Validation(`instruction_limit exceeds maximum`))
		return
	}

	job := model.ExecuteJob{
		ID:               uuid.New(),
		BinaryID:         binaryID,
		InstructionLimit: instructionLimit,
		Stdin:            []byte(r.FormValue(`stdin`)),
		CreatedAt:        time.Now().UTC(),
	}
	if benchmarkID := r.FormValue(`benchmark_id`); benchmarkID != `` {
		job.BenchmarkID = &benchmarkID
	}
	if userID := r.Header.Get(`X-User-ID`); userID != `` {
		job.UserID = &userID
	}

	// Bounded admission per spec.md §5's max_concurrent: the API layer
	// gates how many submissions it is simultaneously handing off to the
	// queue substrate at once, shedding load by blocking briefly rather
	// than by rejecting outright.
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.admit.Acquire(ctx, 1); err != nil {
		respondError(w, apperror.RateLimited(`server busy, try again shortly`))
		return
	}
	defer s.admit.Release(1)

	if err := s.queue.PublishExecuteJob(r.Context(), job); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		`job_id`: job.ID,
		`status`: `queued`,
	})
}

// handleExecuteStatus implements GET /status/:job_id.
func (s *Server) handleExecuteStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)[`job_id`])
	if err != nil {
		respondError(w, apperror.Validation(`invalid job_id`))
		return
	}
	meta, err := s.queue.ExecuteMetadata(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, meta)
}

// handleExecuteResult implements GET /result/:job_id.
func (s *Server) handleExecuteResult(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)[`job_id`])
	if err != nil {
		respondError(w, apperror.Validation(`invalid job_id`))
		return
	}
	meta, err := s.queue.ExecuteMetadata(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if !meta.Terminal() {
		respondJSON(w, http.StatusAccepted, meta)
		return
	}
	if meta.Status == model.StatusFailed {
		msg := `execution failed`
		if meta.Error != nil {
			msg = *meta.Error
		}
		respondError(w, apperror.Internal(`%s`, msg))
		return
	}
	result, err := s.queue.ExecuteResult(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
