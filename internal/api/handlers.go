package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/FairForge/tierd/internal/engine"
	"github.com/FairForge/tierd/internal/files"
	"github.com/FairForge/tierd/internal/intelligence"
	"github.com/FairForge/tierd/internal/queue"
)

var errKeyRequired = errors.New("key query parameter is required")

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.respondError(w, http.StatusBadRequest, errKeyRequired)
		return
	}

	exp, ok := s.deps.Planner.Explain(key)
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Errorf("no placement decision recorded for %s", key))
		return
	}
	s.respondJSON(w, http.StatusOK, exp)
}

func (s *Server) handleExplainHistory(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.respondError(w, http.StatusBadRequest, errKeyRequired)
		return
	}

	history := s.deps.Planner.History(key)
	if history == nil {
		history = []engine.Explanation{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"key":       key,
		"decisions": history,
	})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.respondError(w, http.StatusBadRequest, errKeyRequired)
		return
	}

	eval, err := s.deps.Planner.Trigger(r.Context(), key)
	var infeasible *engine.InfeasibleError
	switch {
	case errors.As(err, &infeasible):
		s.respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":      err.Error(),
			"reason":     infeasible.Reason,
			"evaluation": eval,
		})
	case errors.Is(err, files.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err)
	case err != nil:
		s.respondError(w, http.StatusInternalServerError, err)
	default:
		s.respondJSON(w, http.StatusOK, eval)
	}
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.respondError(w, http.StatusBadRequest, errKeyRequired)
		return
	}

	rec, err := s.deps.Files.Get(r.Context(), key)
	if errors.Is(err, files.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

type putFileRequest struct {
	Size         int64     `json:"size"`
	Sites        []string  `json:"sites"`
	LastModified time.Time `json:"last_modified"`
}

// handlePutFile registers a file or replaces its metadata. The replica list
// must name catalog sites that already hold the content; the encrypted flag
// follows the primary site.
func (s *Server) handlePutFile(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.respondError(w, http.StatusBadRequest, errKeyRequired)
		return
	}

	var req putFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if len(req.Sites) == 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("at least one site is required"))
		return
	}
	if req.Size < 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("size must not be negative"))
		return
	}
	if s.deps.Catalog != nil {
		for _, id := range req.Sites {
			if _, ok := s.deps.Catalog.Get(id); !ok {
				s.respondError(w, http.StatusBadRequest, fmt.Errorf("unknown site %q", id))
				return
			}
		}
	}

	rec := &files.FileRecord{
		Key:          key,
		Size:         req.Size,
		Sites:        req.Sites,
		LastModified: req.LastModified,
		Encrypted:    s.siteEncrypted(req.Sites[0]),
	}
	if err := s.deps.Files.Put(r.Context(), rec); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if s.deps.Access != nil && !req.LastModified.IsZero() {
		s.deps.Access.SetModified(key, req.LastModified)
	}

	stored, err := s.deps.Files.Get(r.Context(), key)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stored)
}

type accessRequest struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
}

// handleLogAccess queues one read for the windowed counters. A missing
// timestamp is stamped by the recorder when the event is applied.
func (s *Server) handleLogAccess(w http.ResponseWriter, r *http.Request) {
	if s.deps.Access == nil {
		s.respondError(w, http.StatusServiceUnavailable, errors.New("access ingestion is not enabled"))
		return
	}
	var req accessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if req.Key == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("key is required"))
		return
	}
	s.deps.Access.LogAccess(intelligence.AccessEvent{Key: req.Key, Timestamp: req.Timestamp})
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// siteEncrypted reports the encrypted attribute of a site, honoring
// runtime overrides held by the security policy
func (s *Server) siteEncrypted(id string) bool {
	if s.deps.Security != nil {
		return s.deps.Security.EndpointEncrypted(id)
	}
	if s.deps.Catalog != nil {
		site, _ := s.deps.Catalog.Get(id)
		return site.Encrypted
	}
	return false
}

type encryptionBody struct {
	Enforced bool `json:"enforced"`
}

func (s *Server) handleGetEncryption(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, encryptionBody{Enforced: s.deps.Security.Enforced()})
}

func (s *Server) handleSetEncryption(w http.ResponseWriter, r *http.Request) {
	var body encryptionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	s.respondJSON(w, http.StatusOK, encryptionBody{Enforced: s.deps.Security.SetEnforced(body.Enforced)})
}

type endpointsBody struct {
	Endpoints []string `json:"endpoints"`
}

func (s *Server) handleGetFailedEndpoints(w http.ResponseWriter, r *http.Request) {
	s.respondEndpoints(w, s.deps.Chaos.FailedEndpoints())
}

func (s *Server) handleSetFailedEndpoints(w http.ResponseWriter, r *http.Request) {
	var body endpointsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	s.respondEndpoints(w, s.deps.Chaos.SetFailedEndpoints(body.Endpoints))
}

func (s *Server) handleClearFailedEndpoints(w http.ResponseWriter, r *http.Request) {
	s.respondEndpoints(w, s.deps.Chaos.ClearFailures())
}

func (s *Server) handleFailEndpoint(w http.ResponseWriter, r *http.Request) {
	s.respondEndpoints(w, s.deps.Chaos.FailEndpoint(chi.URLParam(r, "id")))
}

func (s *Server) handleRecoverEndpoint(w http.ResponseWriter, r *http.Request) {
	s.respondEndpoints(w, s.deps.Chaos.RecoverEndpoint(chi.URLParam(r, "id")))
}

func (s *Server) respondEndpoints(w http.ResponseWriter, list []string) {
	if list == nil {
		list = []string{}
	}
	s.respondJSON(w, http.StatusOK, endpointsBody{Endpoints: list})
}

type latencyBody struct {
	LatencyMS int64 `json:"latency_ms"`
}

func (s *Server) handleGetLatency(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, latencyBody{LatencyMS: s.deps.Chaos.LatencyMS()})
}

func (s *Server) handleSetLatency(w http.ResponseWriter, r *http.Request) {
	var body latencyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if body.LatencyMS < 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("latency_ms must not be negative"))
		return
	}
	s.respondJSON(w, http.StatusOK, latencyBody{LatencyMS: s.deps.Chaos.SetLatency(body.LatencyMS)})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := queue.Filter{
		Status: queue.Status(query.Get("status")),
		Reason: query.Get("reason"),
		Key:    query.Get("key"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", filter.Status))
		return
	}

	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	filter.Limit = limit

	tasks, err := s.deps.Tasks.List(r.Context(), filter)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if tasks == nil {
		tasks = []*queue.MigrationTask{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (s *Server) handleTaskCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Tasks.Counts(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	for status, n := range counts {
		s.deps.Metrics.SetQueueDepth(string(status), n)
	}
	s.respondJSON(w, http.StatusOK, counts)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, queue.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, task)
}
