package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openso2/so2home/internal/config"
	"github.com/openso2/so2home/internal/ingest"
	"github.com/openso2/so2home/internal/station"
	"github.com/openso2/so2home/internal/store"
)

// Server is the read-only HTTP view of the daemon's state.
type Server struct {
	addr       string
	stations   *station.Registry
	store      *store.Store
	events     *ingest.EventRecorder
	orch       *ingest.Orchestrator
	settings   *config.Live
	resultsDir string
	logger     *zap.SugaredLogger
}

type Options struct {
	Addr         string
	Stations     *station.Registry
	Store        *store.Store
	Events       *ingest.EventRecorder
	Orchestrator *ingest.Orchestrator
	Settings     *config.Live
	ResultsDir   string
	Logger       *zap.SugaredLogger
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{
		addr:       opts.Addr,
		stations:   opts.Stations,
		store:      opts.Store,
		events:     opts.Events,
		orch:       opts.Orchestrator,
		settings:   opts.Settings,
		resultsDir: opts.ResultsDir,
		logger:     logger,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/stations", s.handleStations)
		r.Get("/stations/{name}/flux", s.handleFlux)
		r.Get("/stations/{name}/scans/{file}", s.handleScan)
		r.Get("/runs", s.handleRuns)
		r.Get("/events", s.handleEvents)
		r.Get("/map", s.handleMap)
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Infow("starting server", "addr", s.addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// writeJSON encodes v before the status line goes out, so a value that
// cannot be encoded turns into a 500 rather than an empty success.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		s.logger.Errorw("encode response", "error", err)
		buf.Reset()
		buf.WriteString(`{"error":"internal error"}` + "\n")
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Warnw("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
