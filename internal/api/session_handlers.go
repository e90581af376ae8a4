package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/serp-reporter/internal/crawl"
	"github.com/JakeFAU/serp-reporter/internal/report"
	"github.com/JakeFAU/serp-reporter/internal/session"
)

const (
	defaultSessionLimit = 50
	maxSessionLimit     = 500
)

type createSessionRequest struct {
	Name       string   `json:"name" validate:"max=200"`
	Keywords   []string `json:"keywords" validate:"required,min=1,max=50,dive,required"`
	MaxResults int      `json:"max_results" validate:"gte=0"`
}

type sendReportRequest struct {
	To string `json:"to" validate:"omitempty,email"`
}

// createSession handles POST /v1/sessions. The session is accepted and run
// asynchronously; poll GET /v1/sessions/{id} for its terminal state.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.manager.StartSession(r.Context(), session.Request{
		Name:       req.Name,
		Keywords:   req.Keywords,
		MaxResults: req.MaxResults,
	})
	if err != nil {
		if crawl.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("start session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"session": created})
}

// listSessions handles GET /v1/sessions?limit=.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxSessionLimit {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer up to 500")
			return
		}
		limit = parsed
	}
	sessions, err := s.store.ListSessions(r.Context(), limit)
	if err != nil {
		s.logger.Error("list sessions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []crawl.CrawlSession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// getSession handles GET /v1/sessions/{session_id}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	found, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, crawl.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("get session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": found})
}

// listResults handles GET /v1/sessions/{session_id}/results.
func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := s.store.ListResults(r.Context(), id)
	if err != nil {
		if errors.Is(err, crawl.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("list results failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load results")
		return
	}
	if results == nil {
		results = []crawl.ResultRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// cancelSession handles POST /v1/sessions/{session_id}/cancel. The session
// stops at its next keyword boundary.
func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.manager.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, crawl.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("cancel session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel session")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// sendReport handles POST /v1/sessions/{session_id}/report. It compiles the
// session report and delivers it to the requested or configured recipient.
func (s *Server) sendReport(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req sendReportRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to := req.To
	if to == "" {
		to = s.cfg.Report.DefaultRecipient
	}
	if to == "" {
		writeError(w, http.StatusBadRequest, "no recipient: set \"to\" or configure report.default_recipient")
		return
	}

	payload, err := s.compiler.Compile(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, crawl.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, report.ErrNoResults):
			writeError(w, http.StatusConflict, "session has no results to report")
		default:
			s.logger.Error("compile report failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to compile report")
		}
		return
	}
	msg, err := s.renderer.Render(payload, to)
	if err != nil {
		s.logger.Error("render report failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render report")
		return
	}
	delivery, err := s.sender.Send(r.Context(), msg)
	if err != nil {
		s.logger.Error("send report failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to deliver report")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delivery": delivery})
}
