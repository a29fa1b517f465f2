// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pario-ai/querygate/pkg/audit"
	"github.com/pario-ai/querygate/pkg/classify"
	"github.com/pario-ai/querygate/pkg/gateway"
	"github.com/pario-ai/querygate/pkg/metrics"
	"github.com/pario-ai/querygate/pkg/models"
	"github.com/pario-ai/querygate/pkg/ratelimit"
)

// Options configures the HTTP front end.
type Options struct {
	Listen string
	// APIKeys, when non-empty, are the only bearer tokens accepted on /v1/.
	APIKeys []string
}

// Server is the querygate HTTP front end.
type Server struct {
	opts    Options
	gw      *gateway.Gateway
	history *audit.Logger
	metrics *metrics.Metrics
	log     *slog.Logger
	keys    map[string]bool
	mux     *http.ServeMux
}

// New creates a Server. history and m may be nil.
func New(opts Options, gw *gateway.Gateway, history *audit.Logger, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	keys := make(map[string]bool, len(opts.APIKeys))
	for _, k := range opts.APIKeys {
		keys[k] = true
	}
	s := &Server{
		opts:    opts,
		gw:      gw,
		history: history,
		metrics: m,
		log:     logger.With("component", "http"),
		keys:    keys,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("/v1/answer", s.requireKey(s.handleAnswer))
	s.mux.HandleFunc("/v1/cache/stats", s.requireKey(s.handleCacheStats))
	s.mux.HandleFunc("/v1/cache/invalidate", s.requireKey(s.handleInvalidate))
	s.mux.HandleFunc("/v1/history", s.requireKey(s.handleHistory))
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if m != nil {
		s.mux.Handle("/metrics", m.Handler())
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("querygate listening", "addr", s.opts.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

type answerRequest struct {
	Question string `json:"question"`
}

type answerResponse struct {
	Answer      string         `json:"answer"`
	Data        map[string]any `json:"data,omitempty"`
	Outcome     models.Outcome `json:"outcome"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	WaitSeconds float64        `json:"wait_seconds,omitempty"`
	Recovered   bool           `json:"recovered"`
	RequestID   string         `json:"request_id"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req answerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", reqID)
	ctx := gateway.WithRequestID(r.Context(), reqID)

	ans, err := s.gw.Answer(ctx, req.Question)
	switch {
	case errors.Is(err, gateway.ErrEmptyQuestion):
		writeJSONError(w, http.StatusBadRequest, "question is required")
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.log.Debug("client went away", "request_id", reqID)
		return
	}

	resp := answerResponse{
		Answer:      ans.Response.Render(),
		Outcome:     ans.Outcome,
		ErrorKind:   ans.ErrorKind,
		WaitSeconds: ans.WaitTime.Seconds(),
		Recovered:   ans.Recovered,
		RequestID:   reqID,
	}
	if data, ok := ans.Response.Structured(); ok {
		resp.Data = data
	}

	cacheHeader := "miss"
	if ans.Outcome.CacheHit() {
		cacheHeader = "hit"
	}
	w.Header().Set("X-Querygate-Cache", cacheHeader)

	status := http.StatusOK
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(ans.WaitTime.Seconds()))))
		status = http.StatusTooManyRequests
	case err != nil:
		s.log.Warn("answer failed", "request_id", reqID, "error", err)
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.gw.Stats(r.Context()))
}

type invalidateRequest struct {
	Pattern  string `json:"pattern"`
	Question string `json:"question"`
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req invalidateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var n int
	if req.Question != "" {
		n = s.gw.InvalidateQuestion(req.Question)
	} else {
		n = s.gw.Invalidate(req.Pattern)
	}
	s.log.Info("ephemeral cache invalidated", "pattern", req.Pattern, "removed", n)
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		writeJSONError(w, http.StatusNotFound, "history is disabled")
		return
	}

	q := r.URL.Query()
	opts := models.QueryLogOpts{
		Outcome:   models.Outcome(q.Get("outcome")),
		ErrorKind: q.Get("error_kind"),
		RequestID: q.Get("request_id"),
	}
	if opts.ErrorKind != "" && classify.ParseKind(opts.ErrorKind).String() != opts.ErrorKind {
		writeJSONError(w, http.StatusBadRequest, "unknown error_kind")
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid since duration")
			return
		}
		opts.Since = time.Now().Add(-d)
	}

	entries, err := s.history.Query(r.Context(), opts)
	if err != nil {
		s.log.Error("history query failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if entries == nil {
		entries = []models.QueryLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.keys) > 0 && !s.keys[extractAPIKey(r)] {
			writeJSONError(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		next(w, r)
	}
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("x-api-key")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"querygate_error","code":%d}}`, message, code)
}
