// Package api exposes the quant engine over HTTP (JSON) and gRPC.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"quantlab/internal/engine"
	"quantlab/internal/util"
	"quantlab/pkg/quantlab"
)

const maxBodyBytes = 1 << 20

// Defaults fill omitted backtest request fields.
type Defaults struct {
	InitialCapital float64
	Commission     float64
}

// Server hosts the HTTP and gRPC endpoints of the engine.
type Server struct {
	engine   *engine.Engine
	defaults Defaults
	log      *slog.Logger
}

// NewServer creates a new Server backed by eng.
func NewServer(eng *engine.Engine, defaults Defaults, logger *slog.Logger) *Server {
	if logger == nil {
		logger = util.Discard()
	}
	return &Server{engine: eng, defaults: defaults, log: logger}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/optimize", s.handleOptimize)
	mux.HandleFunc("POST /api/backtest", s.handleBacktest)
	mux.HandleFunc("GET /api/strategies", s.handleListStrategies)
	mux.HandleFunc("GET /api/strategies/{id}", s.handleGetStrategy)
	mux.HandleFunc("POST /api/strategies", s.handleCreateStrategy)
	mux.HandleFunc("DELETE /api/strategies/{id}", s.handleDeleteStrategy)
}

// Handler returns an http.Handler with logging and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logMiddleware(corsMiddleware(mux))
}

// ListenAndServe starts the HTTP listener on httpAddr and, when grpcAddr is
// not empty, the gRPC listener. It blocks until ctx is cancelled or a
// listener fails, then shuts both down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, httpAddr, grpcAddr string) error {
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var gs *grpc.Server
	var grpcLis net.Listener
	if grpcAddr != "" {
		var err error
		grpcLis, err = net.Listen("tcp", grpcAddr)
		if err != nil {
			return fmt.Errorf("grpc listen on %s: %w", grpcAddr, err)
		}
		gs = grpc.NewServer()
		s.RegisterGRPC(gs)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("HTTP server listening", "addr", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if gs != nil {
		g.Go(func() error {
			s.log.Info("gRPC server listening", "addr", grpcLis.Addr().String())
			if err := gs.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if gs != nil {
			gs.GracefulStop()
		}
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req quantlab.OptimizeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.engine.Optimize(r.Context(), engine.OptimizeRequest{
		Tickers:      req.Tickers,
		RiskFreeRate: req.RiskFreeRate,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOptimizeResponse(res))
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req quantlab.BacktestRequest
	if !decode(w, r, &req) {
		return
	}
	breq, err := backtestRequest(req, s.defaults)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	res, err := s.engine.Backtest(r.Context(), breq)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBacktestResponse(res))
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	defs, err := s.engine.Catalog().List(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	out := quantlab.StrategyList{Strategies: make([]quantlab.Strategy, len(defs))}
	for i, d := range defs {
		out.Strategies[i] = toStrategy(d)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	def, err := s.engine.Catalog().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStrategy(def))
}

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var req quantlab.CreateStrategyRequest
	if !decode(w, r, &req) {
		return
	}
	def, err := s.engine.Catalog().Create(r.Context(), req.Name, req.Rule, req.Description)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStrategy(def))
}

func (s *Server) handleDeleteStrategy(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Catalog().Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, quantlab.ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Kind:  quantlab.KindValidation,
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	body, status := errorResponse(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		s.log.Info("request rejected", "path", r.URL.Path, "kind", body.Kind, "error", err)
	}
	writeJSON(w, status, body)
}
