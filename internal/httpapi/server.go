// Package httpapi exposes the policy gate over HTTP: intent intake,
// health, and Prometheus metrics. All state mutation is serialised
// behind one server mutex.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/policygate/capital/internal/broker"
	"github.com/policygate/capital/internal/domain"
	"github.com/policygate/capital/internal/runner"
)

// MaxBodyBytes caps the request body for POST /intent.
const MaxBodyBytes = 65536

// Server owns the portfolio and execution state for its lifetime and is
// their only writer; every intent is processed under mu.
type Server struct {
	cfg    runner.Config
	token  string
	logger zerolog.Logger

	mu        sync.Mutex
	portfolio *domain.PortfolioState
	market    *domain.MarketSnapshot
	execution *domain.ExecutionState
}

// NewServer builds a server around a runner configuration and the
// initial state. If token is non-empty, every request must carry it as a
// bearer credential.
func NewServer(
	cfg runner.Config,
	portfolio *domain.PortfolioState,
	market *domain.MarketSnapshot,
	execution *domain.ExecutionState,
	token string,
) *Server {
	return &Server{
		cfg:       cfg,
		token:     token,
		logger:    cfg.Logger,
		portfolio: portfolio,
		market:    market,
		execution: execution,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/intent", s.handleIntent).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)
	r.Use(s.authMiddleware)
	return r
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.token {
				writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// intentRequest is the POST /intent body. The optional market snapshot
// replaces the startup snapshot for this request only.
type intentRequest struct {
	Intent         json.RawMessage `json:"intent"`
	MarketSnapshot json.RawMessage `json:"market_snapshot,omitempty"`
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		writeError(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}
	clHeader := r.Header.Get("Content-Length")
	if clHeader == "" {
		writeError(w, http.StatusBadRequest, "Content-Length header is required")
		return
	}
	cl, err := strconv.ParseInt(clHeader, 10, 64)
	if err != nil || cl < 0 {
		writeError(w, http.StatusBadRequest, "invalid Content-Length header")
		return
	}
	if cl > MaxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("body exceeds %d bytes", MaxBodyBytes))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > MaxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("body exceeds %d bytes", MaxBodyBytes))
		return
	}

	var req intentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}
	if len(req.Intent) == 0 {
		writeError(w, http.StatusBadRequest, "body must contain an intent object")
		return
	}

	intent, err := domain.ParseIntent(req.Intent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var market *domain.MarketSnapshot
	if len(req.MarketSnapshot) > 0 {
		market, err = domain.ParseMarket(req.MarketSnapshot)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if market == nil {
		market = s.market
	}

	res, err := runner.ProcessIntent(r.Context(), s.cfg, intent, s.portfolio, market, s.execution)
	if err != nil {
		var submitErr *broker.SubmitError
		if errors.As(err, &submitErr) {
			s.logger.Error().Err(err).Str("intent_id", intent.IntentID).Msg("broker submit failed")
			writeError(w, http.StatusBadGateway, "broker submission failed")
			return
		}
		s.logger.Error().Err(err).Str("intent_id", intent.IntentID).Msg("intent processing failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, res.Decision)
}

// healthResponse is the GET /health body.
type healthResponse struct {
	Status           string `json:"status"`
	RunID            string `json:"run_id"`
	PolicyHash       string `json:"policy_hash"`
	PositionsCount   int    `json:"positions_count"`
	KillSwitchActive bool   `json:"kill_switch_active"`
	OrdersLast60s    int    `json:"orders_last_60s_global"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	resp := healthResponse{
		Status:           "ok",
		RunID:            s.cfg.RunID,
		PolicyHash:       s.cfg.Engine.PolicyHash(),
		PositionsCount:   len(s.portfolio.Positions),
		KillSwitchActive: s.execution.KillSwitchActive,
		OrdersLast60s:    s.execution.OrdersLast60sGlobal,
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
