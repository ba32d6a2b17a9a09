package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/sells-group/position-tracker/internal/model"
)

type createRequest struct {
	Article   int64  `json:"article"`
	Query     string `json:"query"`
	Frequency int    `json:"frequency"`
}

type draftRequest struct {
	Query string `json:"query"`
}

type confirmRequest struct {
	Article   int64 `json:"article"`
	Frequency int   `json:"frequency"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.cfg.HealthCheck != nil {
		if err := s.cfg.HealthCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	sid, ok := int64Param(w, r, "sid")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.subs.List(sid))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	sid, ok := int64Param(w, r, "sid")
	if !ok {
		return
	}
	var req createRequest
	if !decode(w, r, &req) {
		return
	}
	sub, err := s.subs.Add(r.Context(), sid, req.Article, req.Query, req.Frequency)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	sid, ok := int64Param(w, r, "sid")
	if !ok {
		return
	}
	article, ok := int64Param(w, r, "article")
	if !ok {
		return
	}
	if !s.subs.Remove(r.Context(), sid, article, r.URL.Query().Get("query")) {
		s.writeError(w, model.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBeginDraft(w http.ResponseWriter, r *http.Request) {
	sid, ok := int64Param(w, r, "sid")
	if !ok {
		return
	}
	var req draftRequest
	if !decode(w, r, &req) {
		return
	}
	q, err := s.subs.BeginDraft(sid, req.Query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"query": q})
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	sid, ok := int64Param(w, r, "sid")
	if !ok {
		return
	}
	q, ok := s.subs.PendingQuery(sid)
	if !ok {
		s.writeError(w, model.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"query": q})
}

func (s *Server) handleCancelDraft(w http.ResponseWriter, r *http.Request) {
	sid, ok := int64Param(w, r, "sid")
	if !ok {
		return
	}
	s.subs.CancelDraft(sid)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfirmDraft(w http.ResponseWriter, r *http.Request) {
	sid, ok := int64Param(w, r, "sid")
	if !ok {
		return
	}
	var req confirmRequest
	if !decode(w, r, &req) {
		return
	}
	sub, err := s.subs.ConfirmDraft(r.Context(), sid, req.Article, req.Frequency)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	article, ok := int64Param(w, r, "article")
	if !ok {
		return
	}
	query, err := model.NormalizeQuery(r.URL.Query().Get("query"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	days := s.cfg.WindowDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 1 || d > 365 {
			s.writeError(w, &model.ValidationError{Field: "days", Reason: "must be between 1 and 365"})
			return
		}
		days = d
	}

	chart, err := s.hist.Window(r.Context(), article, query, days)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chart)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sid, ok := int64Param(w, r, "sid")
	if !ok {
		return
	}
	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, &model.ValidationError{Field: "after", Reason: "must be a sequence number"})
			return
		}
		after = v
	}
	writeJSON(w, http.StatusOK, s.events.Since(sid, after))
}

func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: name + " must be an integer", Kind: "validation"})
		return 0, false
	}
	return v, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err == nil {
		err = json.Unmarshal(body, dst)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Kind: "validation"})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error(), Kind: model.ErrorKind(err)}
	status := http.StatusInternalServerError

	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
		body.Field = ve.Field
		body.Error = ve.Error()
	case errors.Is(err, model.ErrDuplicateSubscription):
		status = http.StatusConflict
		body.Kind = "duplicate"
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	default:
		s.log.Error("api: request failed", zap.Error(err))
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
