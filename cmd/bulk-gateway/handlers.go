package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/bulk-request-client/pkg/bulk"
	"github.com/Sternrassler/bulk-request-client/pkg/client"
	"github.com/Sternrassler/bulk-request-client/pkg/logging"
	"github.com/Sternrassler/bulk-request-client/pkg/metrics"
	"github.com/Sternrassler/bulk-request-client/pkg/store"
)

// maxBodyBytes caps submitted request bodies.
const maxBodyBytes = 32 << 20

var resourcePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// bulkItem is one submitted item. The payload is forwarded untouched.
type bulkItem struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func itemKey(i bulkItem) string { return i.Key }

type submitRequest struct {
	Items []bulkItem `json:"items"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// server holds the gateway's dependencies.
type server struct {
	cfg    Config
	client *client.Client
	store  *store.Manager
	redis  *redis.Client
	logger zerolog.Logger

	// waveTimeout bounds each bulk call, retries included
	waveTimeout time.Duration
}

func newServer(cfg Config, c *client.Client, st *store.Manager, rdb *redis.Client) *server {
	s := &server{
		cfg:         cfg,
		client:      c,
		store:       st,
		redis:       rdb,
		logger:      logging.NewLogger("gateway"),
		waveTimeout: cfg.WaveTimeout,
	}

	budget := c.CallBudget()
	switch {
	case s.waveTimeout == 0:
		s.waveTimeout = budget
	case s.waveTimeout < budget:
		s.logger.Warn().
			Dur("wave_timeout", s.waveTimeout).
			Dur("call_budget", budget).
			Msg("Wave timeout is shorter than one call with all retries")
	}
	return s
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", s.readyHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /bulk/{resource}", s.submitHandler)
	mux.HandleFunc("GET /sessions/{resource}/{id}", s.sessionHandler)
	mux.HandleFunc("POST /sessions/{resource}/{id}/retry", s.retryHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.redis.Ping(ctx).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("Readiness check failed")
		http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) submitHandler(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")
	if !resourcePattern.MatchString(resource) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid resource %q", resource))
		return
	}

	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed body: %v", err))
		return
	}

	if status, err := s.validateItems(req.Items); err != nil {
		writeError(w, status, err.Error())
		return
	}

	s.runAndStore(r.Context(), w, resource, "", req.Items)
}

func (s *server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	record, ok := s.loadRecord(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *server) retryHandler(w http.ResponseWriter, r *http.Request) {
	record, ok := s.loadRecord(w, r)
	if !ok {
		return
	}

	items, err := store.FailedRequests[bulkItem](record)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", record.SessionID).Msg("Stored session is corrupt")
		writeError(w, http.StatusInternalServerError, "stored session is corrupt")
		return
	}
	if len(items) == 0 {
		writeError(w, http.StatusConflict, "session has no failed items")
		return
	}

	s.runAndStore(r.Context(), w, record.Resource, record.SessionID, items)
}

// loadRecord fetches the session named by the request path, writing the
// error response itself when it fails.
func (s *server) loadRecord(w http.ResponseWriter, r *http.Request) (*store.Record, bool) {
	key := store.SessionKey{Resource: r.PathValue("resource"), SessionID: r.PathValue("id")}
	if !key.Valid() {
		writeError(w, http.StatusBadRequest, "resource and session id are required")
		return nil, false
	}

	record, err := s.store.Get(r.Context(), key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	case err != nil:
		s.logger.Error().Err(err).Str("key", key.String()).Msg("Failed to load session")
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return record, true
}

// validateItems returns the HTTP status and reason for a rejected submission.
func (s *server) validateItems(items []bulkItem) (int, error) {
	if len(items) == 0 {
		return http.StatusBadRequest, errors.New("items must not be empty")
	}
	if len(items) > s.cfg.MaxItems {
		return http.StatusRequestEntityTooLarge, fmt.Errorf("too many items: %d > %d", len(items), s.cfg.MaxItems)
	}

	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if item.Key == "" {
			return http.StatusBadRequest, fmt.Errorf("item %d has no key", i)
		}
		if _, dup := seen[item.Key]; dup {
			return http.StatusBadRequest, fmt.Errorf("duplicate key %q", item.Key)
		}
		seen[item.Key] = struct{}{}
	}
	return 0, nil
}

// runAndStore runs one session over items, stores it and writes the record.
func (s *server) runAndStore(ctx context.Context, w http.ResponseWriter, resource, parentID string, items []bulkItem) {
	policy, _ := bulk.ParseFailurePolicy(s.cfg.Policy)
	runnerCfg := bulk.Config{
		MaxBatchSize: s.cfg.MaxBatchSize,
		Policy:       policy,
		MaxRounds:    s.cfg.MaxRounds,
		Retryable:    client.IsRetryable,
		WaveTimeout:  s.waveTimeout,
	}

	endpoint := client.NewEndpoint[bulkItem, json.RawMessage](s.client, "/"+resource+"/bulk")
	runner := bulk.NewRunner[string, bulkItem, json.RawMessage](endpoint, itemKey, runnerCfg)

	report, runErr := runner.Run(ctx, items)
	if errors.Is(runErr, context.Canceled) {
		s.logger.Warn().Err(runErr).Str("resource", resource).Msg("Submission cancelled by caller")
		return
	}

	record, err := store.NewRecord(resource, report, s.cfg.SessionTTL)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build session record")
		writeError(w, http.StatusInternalServerError, "failed to build session record")
		return
	}
	record.ParentSessionID = parentID

	// storing failures are logged; the caller still gets the outcome
	if err := s.store.Set(ctx, record.Key(), record); err != nil {
		s.logger.Error().Err(err).Str("session_id", record.SessionID).Msg("Failed to store session")
	} else {
		s.logger.Info().
			Str("session_id", record.SessionID).
			Str("resource", resource).
			Str("parent_session_id", parentID).
			Int("completed", record.Summary.Completed).
			Int("failed", record.Summary.Failed).
			Msg("Session stored")
	}

	status := http.StatusOK
	switch {
	case runErr != nil:
		status = http.StatusBadGateway
	case report.Failed():
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, record)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
