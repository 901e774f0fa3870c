// Package api exposes the HTTP surface: analysis triggers, status and
// similarity reads, search, uploads, and the websocket status feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"gallerymind/internal/config"
	"gallerymind/internal/events"
	"gallerymind/internal/imagestore"
	"gallerymind/internal/model"
	"gallerymind/internal/repository"
	"gallerymind/internal/similarity"
)

// Trigger schedules the analysis of one record. Both the in-process
// orchestrator and the asynq scheduler satisfy it.
type Trigger interface {
	Trigger(ctx context.Context, recordID, ownerID, sourceURL string) error
}

// Server exposes HTTP endpoints for triggering analyses and reading results.
// images may be nil, which disables uploads; hub may be nil, which disables
// the websocket feed.
type Server struct {
	cfg     *config.Config
	store   repository.Store
	images  *imagestore.Storage
	trigger Trigger
	hub     *events.Hub
	log     *slog.Logger

	server  *http.Server
	handler http.Handler
	once    sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, store repository.Store, images *imagestore.Storage, trigger Trigger, hub *events.Hub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		store:   store,
		images:  images,
		trigger: trigger,
		hub:     hub,
		log:     log,
	}
}

// Handler returns the fully wired route tree.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", s.handleHealth)
		mux.HandleFunc("/api/process-image", s.handleProcessImage)
		mux.HandleFunc("/api/images/", s.handleImageRoute)
		mux.HandleFunc("/api/search", s.handleSearch)
		mux.HandleFunc("/api/upload", s.handleUpload)
		mux.HandleFunc("/api/ws", s.handleWS)
		s.handler = corsMiddleware(loggingMiddleware(s.log)(mux))
	})
	return s.handler
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info("api listening", "address", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type processRequest struct {
	RecordID  string `json:"record_id"`
	OwnerID   string `json:"owner_id"`
	SourceURL string `json:"source_url"`
}

// handleProcessImage acknowledges with 202 as soon as the task is scheduled;
// analysis results arrive through status reads, never in this response.
func (s *Server) handleProcessImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.RecordID = strings.TrimSpace(req.RecordID)
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	if req.RecordID == "" || req.OwnerID == "" || req.SourceURL == "" {
		respondError(w, http.StatusBadRequest, "record_id, owner_id and source_url are required")
		return
	}
	if !fetchableURL(req.SourceURL) {
		respondError(w, http.StatusBadRequest, "source_url must be an http(s) resource")
		return
	}
	if err := s.trigger.Trigger(r.Context(), req.RecordID, req.OwnerID, req.SourceURL); err != nil {
		s.log.Error("trigger failed", "record_id", req.RecordID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to schedule analysis")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"record_id": req.RecordID,
		"status":    string(model.StatusPending),
	})
}

func (s *Server) handleImageRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/images/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	id, action := parts[0], parts[1]
	switch action {
	case "status":
		s.handleStatus(w, r, id)
	case "similar":
		s.handleSimilar(w, r, id)
	default:
		respondError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "record not found")
			return
		}
		s.log.Error("status read failed", "record_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read record")
		return
	}
	// Presigned source URLs are internal plumbing; never echo them back.
	rec.SourceURL = ""
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		respondError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	k, _ := strconv.Atoi(r.URL.Query().Get("k"))

	ref, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "record not found")
			return
		}
		s.log.Error("similarity read failed", "record_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read record")
		return
	}
	pool, err := s.store.ListByOwner(r.Context(), ownerID)
	if err != nil {
		s.log.Error("similarity pool listing failed", "owner_id", ownerID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list candidates")
		return
	}
	matches := similarity.Rank(ref, pool, k)
	if matches == nil {
		matches = []similarity.Match{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"record_id": id,
		"matches":   matches,
	})
}

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 100
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	ownerID := strings.TrimSpace(q.Get("owner_id"))
	if ownerID == "" {
		respondError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	recs, err := s.store.Search(r.Context(), repository.SearchQuery{
		OwnerID: ownerID,
		Text:    q.Get("q"),
		Color:   q.Get("color"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		s.log.Error("search failed", "owner_id", ownerID, "error", err)
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if recs == nil {
		recs = []*model.AnalysisRecord{}
	}
	for _, rec := range recs {
		rec.SourceURL = ""
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"results": recs,
		"count":   len(recs),
	})
}

func fetchableURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("encode response failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
