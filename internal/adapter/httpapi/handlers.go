package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"askverse/internal/domain"
)

const (
	maxBodyBytes     = 1 << 20
	defaultListLimit = 20
	maxListLimit     = 100
)

// QueryRequest is the body of POST /api/v1/query and of WebSocket frames.
type QueryRequest struct {
	Query   string         `json:"query"`
	Context map[string]any `json:"context,omitempty"`
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps an error to an HTTP status through its error code.
func statusOf(err error) int {
	switch domain.ErrorCodeOf(err) {
	case domain.CodeInvalidInput, domain.CodeParamsInvalid:
		return http.StatusBadRequest
	case domain.CodeAuthInvalid:
		return http.StatusUnauthorized
	case domain.CodeNotFound, domain.CodeQueryNotFound, domain.CodeUserNotFound,
		domain.CodeAPIKeyNotFound, domain.CodeDocumentNotFound:
		return http.StatusNotFound
	case domain.CodeSyncRunning, domain.CodeConflict, domain.CodeDuplicate, domain.CodeUserDuplicate:
		return http.StatusConflict
	case domain.CodeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg, Code: domain.ErrorCodeOf(err)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func decodeQuery(body io.Reader) (QueryRequest, error) {
	var req QueryRequest
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		return req, domain.NewDomainError("httpapi.query", domain.ErrInvalidInput, "malformed JSON body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return req, domain.NewDomainError("httpapi.query", domain.ErrInvalidInput, "query must not be empty")
	}
	return req, nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQuery(r.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res := s.answer(r.Context(), req, principalFrom(r.Context()), nil)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetQuery(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Repo.GetQuery(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if p := principalFrom(r.Context()); p != nil && !p.User.IsSuperuser && rec.UserID != p.User.ID {
		s.writeError(w, domain.NewSubSystemError("query", "httpapi.getQuery", domain.ErrNotFound, r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListQueries(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, domain.NewDomainError("httpapi.listQueries", domain.ErrInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}
	userID := ""
	if p := principalFrom(r.Context()); p != nil && !p.User.IsSuperuser {
		userID = p.User.ID
	}
	recs, err := s.deps.Repo.ListQueries(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.QueryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": recs, "count": len(recs)})
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sync == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "document sync is not configured", Code: domain.CodeUnknown})
		return
	}
	if err := s.deps.Sync.Trigger(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.SyncTriggered.Add(1)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// SyncStatus is the body of GET /api/v1/sync/status.
type SyncStatus struct {
	Running bool               `json:"running"`
	Last    *domain.SyncRecord `json:"last,omitempty"`
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	var status SyncStatus
	if s.deps.Sync != nil {
		status.Running = s.deps.Sync.Running()
	}
	last, err := s.deps.Repo.LastSync(r.Context())
	switch {
	case err == nil:
		status.Last = last
	case errors.Is(err, domain.ErrNotFound):
	default:
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListAPIs(w http.ResponseWriter, r *http.Request) {
	endpoints := []domain.Endpoint{}
	if s.deps.APIs != nil {
		endpoints = append(endpoints, s.deps.APIs.List()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": endpoints, "count": len(endpoints)})
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	UptimeSeconds  int64 `json:"uptime_seconds"`
	QueriesTotal   int64 `json:"queries_total"`
	QueriesFailed  int64 `json:"queries_failed"`
	ActiveSockets  int64 `json:"active_sockets"`
	Endpoints      int   `json:"endpoints"`
	Documents      int   `json:"documents"`
	SyncRunning    bool  `json:"sync_running"`
	SyncsTriggered int64 `json:"syncs_triggered"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		UptimeSeconds:  int64(time.Since(s.startTime).Seconds()),
		QueriesTotal:   s.metrics.QueriesTotal.Load(),
		QueriesFailed:  s.metrics.QueriesFailed.Load(),
		ActiveSockets:  s.metrics.ActiveSockets.Load(),
		SyncsTriggered: s.metrics.SyncTriggered.Load(),
	}
	if s.deps.APIs != nil {
		resp.Endpoints = len(s.deps.APIs.List())
	}
	if s.deps.Documents != nil {
		if n, err := s.deps.Documents.Count(r.Context()); err == nil {
			resp.Documents = n
		} else {
			s.logger.Warn("count documents failed", "error", err)
		}
	}
	if s.deps.Sync != nil {
		resp.SyncRunning = s.deps.Sync.Running()
	}
	writeJSON(w, http.StatusOK, resp)
}
