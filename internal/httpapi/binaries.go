package httpapi

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/joeycumines/ctf-arena/internal/apperror"
	"github.com/joeycumines/ctf-arena/internal/model"
)

// handlePutBinary implements PUT /binaries/:id: upload raw bytes, with
// optional metadata carried as query parameters (spec.md §6).
func (s *Server) handlePutBinary(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)[`id`]

	data, err := io.ReadAll(io.LimitReader(r.Body, s.maxBinarySize+1))
	if err != nil {
		respondError(w, apperror.Wrap(apperror.KindInternal, `read binary body`, err))
		return
	}
	if int64(len(data)) > s.maxBinarySize {
		respondError(w, apperror.PayloadTooLarge(`binary exceeds %d bytes`, s.maxBinarySize))
		return
	}

	meta := model.BinaryMetadata{}
	q := r.URL.Query()
	if language := q.Get(`language`); language != `` {
		meta.Language = &language
	}
	if opt := q.Get(`optimization`); opt != `` {
		o := model.Optimization(opt)
		meta.Optimization = &o
	}
	if version := q.Get(`compiler_version`); version != `` {
		meta.CompilerVersion = &version
	}

	if _, err := s.binaries.Put(r.Context(), &id, data, meta); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{`success`: true})
}

// handleGetBinary implements GET /binaries/:id: raw bytes.
func (s *Server) handleGetBinary(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)[`id`]
	data, err := s.binaries.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set(`Content-Type`, `application/octet-stream`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
