package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/joeycumines/ctf-arena/internal/apperror"
	"github.com/joeycumines/ctf-arena/internal/langs"
	"github.com/joeycumines/ctf-arena/internal/model"
)

// handleCompile implements POST /compile (spec.md §6).
func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.maxSourceSize + (1 << 20)); err != nil {
		respondError(w, apperror.Validation(`invalid multipart form: %v`, err))
		return
	}

	source := r.FormValue(`source_code`)
	if source == `` {
		respondError(w, apperror.Validation(`source_code is required`))
		return
	}
	if int64(len(source)) > s.maxSourceSize {
		respondError(w, apperror.PayloadTooLarge(`source_code exceeds %d bytes`, s.maxSourceSize))
		return
	}

	language := r.FormValue(`language`)
	if !langs.Valid(langs.Tag(language)) {
		respondError(w, apperror.Validation(`unsupported language %q`, language))
		return
	}

	opt := model.Optimization(r.FormValue(`optimization`))
	if opt == `` {
		opt = model.OptimizationRelease
	}
	if !opt.Valid() {
		respondError(w, apperror.Validation(`invalid optimization %q`, opt))
		return
	}

	flags := parseFlags(r)

	job := model.CompileJob{
		ID:           uuid.New(),
		SourceCode:   source,
		Language:     language,
		Optimization: opt,
		Flags:        flags,
		CreatedAt:    time.Now().UTC(),
	}
	if userID := r.Header.Get(`X-User-ID`); userID != `` {
		job.UserID = &userID
	}

	if err := s.queue.PublishCompileJob(r.Context(), job); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		`compile_job_id`: job.ID,
		`status`:         `queued`,
	})
}

// parseFlags collects the `flag_*` form fields into a map keyed by the name
// after the prefix. A `flags` form field is not read.
func parseFlags(r *http.Request) map[string]string {
	flags := map[string]string{}
	if r.MultipartForm == nil {
		return flags
	}
	for key, values := range r.MultipartForm.Value {
		if len(values) == 0 {
			continue
		}
		if strings.HasPrefix(key, `flag_`) {
			flags[strings.TrimPrefix(key, `flag_`)] = values[0]
		}
	}
	return flags
}

// handleCompileStatus implements GET /compile/status/:id.
func (s *Server) handleCompileStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)[`id`])
	if err != nil {
		respondError(w, apperror.Validation(`invalid id`))
		return
	}
	meta, err := s.queue.CompileMetadata(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, meta)
}

// handleCompileResult implements GET /compile/result/:id.
func (s *Server) handleCompileResult(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)[`id`])
	if err != nil {
		respondError(w, apperror.Validation(`invalid id`))
		return
	}
	meta, err := s.queue.CompileMetadata(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if !meta.Terminal() {
		respondJSON(w, http.StatusAccepted, meta)
		return
	}
	if meta.Status == model.StatusFailed {
		msg := `compile failed`
		if meta.Error != nil {
			msg = *meta.Error
		}
		respondError(w, apperror.CompileError(`%s`, msg))
		return
	}
	result, err := s.queue.CompileResult(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
