package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Maphikza/tipbot-engine/internal/logger"
	"github.com/Maphikza/tipbot-engine/internal/transfer"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Executor runs a command for a transport.
type Executor interface {
	Execute(ctx context.Context, req transfer.Request) (transfer.Reply, error)
}

type Options struct {
	Port        int
	JWTSecret   []byte
	MetricsPath string
}

type Server struct {
	executor Executor
	opts     Options
	http     *http.Server
}

func NewServer(executor Executor, opts Options) *Server {
	s := &Server{executor: executor, opts: opts}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	common := []func(http.HandlerFunc) http.HandlerFunc{
		LoggingMiddleware,
		ErrorMiddleware,
		RequestIDMiddleware,
	}
	secured := append([]func(http.HandlerFunc) http.HandlerFunc{
		JSONContentTypeMiddleware,
		JWTMiddleware(s.opts.JWTSecret),
	}, common...)

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/commands", ApplyMiddleware(s.CommandHandler, secured...)).Methods(http.MethodPost)
	r.HandleFunc("/healthz", ApplyMiddleware(s.HealthHandler, common...)).Methods(http.MethodGet)

	metricsPath := s.opts.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Handle(metricsPath, promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) CommandHandler(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Command == "" || req.SenderID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "command and sender_id are required")
		return
	}

	reply, err := s.executor.Execute(r.Context(), transfer.Request{
		Command:  req.Command,
		SenderID: req.SenderID,
		ChatID:   req.ChatID,
		Args:     req.Args,
	})
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "command_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message, RequestID: requestID(r.Context())})
}
