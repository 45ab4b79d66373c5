// Package server exposes the board over HTTP: health, the current snapshot,
// the refresh and boost actions, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/deploydash/common/httputil"
	"github.com/telhawk-systems/deploydash/common/logging"
	"github.com/telhawk-systems/deploydash/common/messaging"
	"github.com/telhawk-systems/deploydash/common/middleware"
	"github.com/telhawk-systems/deploydash/internal/board"
)

// Board is the part of *board.Board the API serves.
type Board interface {
	Snapshot() board.Snapshot
	SnapshotFiltered(filter string) board.Snapshot
	RequestRefresh() error
	Boost() error
}

// Config holds HTTP server settings.
type Config struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

// Server wires HTTP handlers for the board API.
type Server struct {
	cfg        Config
	board      Board
	connection func() string
	logger     *slog.Logger
}

// New constructs the API server. connection reports the connection state
// for the health endpoint and may be nil.
func New(cfg Config, b Board, connection func() string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Component("server")
	}
	if connection == nil {
		connection = func() string { return "unknown" }
	}
	return &Server{cfg: cfg, board: b, connection: connection, logger: logger}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(s.logger))
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(s.cfg.AllowedOrigins))
	}

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/board", s.handleBoard)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/boost", s.handleBoost)
	})
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

type healthResponse struct {
	Status     string `json:"status"`
	Connection string `json:"connection"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Connection: s.connection()})
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Has("filter") {
		httputil.WriteJSON(w, http.StatusOK, s.board.SnapshotFiltered(q.Get("filter")))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.board.Snapshot())
}

type actionResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, "refresh", s.board.RequestRefresh)
}

func (s *Server) handleBoost(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, "boost", s.board.Boost)
}

func (s *Server) action(w http.ResponseWriter, r *http.Request, name string, fn func() error) {
	err := fn()
	if err == nil {
		httputil.WriteJSON(w, http.StatusAccepted, actionResponse{Status: "requested"})
		return
	}

	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "Board action failed",
			slog.String("action", name),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			logging.Error(err))
	}
	httputil.WriteError(w, status, code, err.Error())
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, board.ErrRefreshThrottled):
		return http.StatusConflict, "refresh_throttled"
	case errors.Is(err, board.ErrAlreadyFastest):
		return http.StatusConflict, "already_fastest"
	case errors.Is(err, board.ErrUpgradePending):
		return http.StatusConflict, "upgrade_pending"
	case errors.Is(err, messaging.ErrNotConnected):
		return http.StatusServiceUnavailable, "not_connected"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
