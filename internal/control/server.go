// Package control exposes a running test over HTTP: live status, scaling
// of externally controlled scenarios, an immediate stop and a Prometheus
// scrape endpoint.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/masoud-msk/dev-stack/internal/performance/engine"
	"github.com/masoud-msk/dev-stack/internal/performance/executor"
	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
)

// DefaultAddr is the listen address of the control API.
const DefaultAddr = "localhost:6565"

// Engine is the part of a test run the API drives. *engine.Engine
// implements it.
type Engine interface {
	TestRun() *engine.TestRun
	Controllable() map[string]executor.Controllable
	Stats() map[string]*executor.Stats
	Snapshot() *metrics.Snapshot
	ActiveVUs() int
	Stopped() bool
	Stop(graceful bool)
}

// Status is the body of GET and PATCH /v1/status.
type Status struct {
	RunID     string                            `json:"runId"`
	Status    engine.Status                     `json:"status"`
	VUs       int                               `json:"vus"`
	VUsMax    int                               `json:"vusMax"`
	Running   bool                              `json:"running"`
	Stopped   bool                              `json:"stopped"`
	Scenarios map[string]executor.ControlStatus `json:"scenarios,omitempty"`
}

// StatusUpdate is the body of PATCH /v1/status. Absent fields are left
// unchanged. Scenario may be omitted when exactly one scenario is
// externally controlled.
type StatusUpdate struct {
	Scenario string `json:"scenario,omitempty"`
	VUs      *int   `json:"vus,omitempty"`
	VUsMax   *int   `json:"vusMax,omitempty"`
	Stopped  *bool  `json:"stopped,omitempty"`
}

// Server serves the control API of one engine.
type Server struct {
	engine   Engine
	logger   *zap.Logger
	registry *prometheus.Registry
	router   chi.Router
	http     *http.Server
	listener net.Listener
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(eng Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:   eng,
		logger:   logger.Named("control"),
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(NewCollector(eng))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.GetStatus)
		r.Patch("/status", s.PatchStatus)
		r.Get("/metrics", s.GetMetrics)
		r.Get("/scenarios", s.GetScenarios)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.router = r
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry returns the Prometheus registry behind /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control api: %w", err)
	}
	s.listener = ln
	s.http = &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control api stopped", zap.Error(err))
		}
	}()
	s.logger.Info("control api listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the listener and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// GetStatus reports the run status.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.status())
}

// PatchStatus scales an externally controlled scenario or stops the run.
func (s *Server) PatchStatus(w http.ResponseWriter, r *http.Request) {
	var upd StatusUpdate
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&upd); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}

	if upd.Stopped != nil {
		if !*upd.Stopped && s.engine.Stopped() {
			s.respondError(w, http.StatusBadRequest, errors.New("a stopped test cannot be resumed"))
			return
		}
		if *upd.Stopped {
			s.logger.Info("stop requested")
			s.engine.Stop(false)
			s.respondJSON(w, http.StatusOK, s.status())
			return
		}
	}

	if upd.VUs != nil || upd.VUsMax != nil {
		status, err := s.scale(upd)
		if err != nil {
			s.respondError(w, status, err)
			return
		}
	}
	s.respondJSON(w, http.StatusOK, s.status())
}

func (s *Server) scale(upd StatusUpdate) (int, error) {
	ctrl := s.engine.Controllable()
	name := upd.Scenario
	if name == "" {
		switch len(ctrl) {
		case 0:
			return http.StatusConflict, errors.New("no scenario is externally controlled")
		case 1:
			for n := range ctrl {
				name = n
			}
		default:
			return http.StatusBadRequest, errors.New("several scenarios are externally controlled; name one in \"scenario\"")
		}
	}
	c, ok := ctrl[name]
	if !ok {
		return http.StatusNotFound, fmt.Errorf("scenario %q is not externally controlled", name)
	}

	cur := c.Status()
	vus, maxVUs := cur.VUs, cur.MaxVUs
	if upd.VUs != nil {
		vus = *upd.VUs
	}
	if upd.VUsMax != nil {
		maxVUs = *upd.VUsMax
	}
	if err := c.UpdateConfig(vus, maxVUs); err != nil {
		if errors.Is(err, executor.ErrFinished) {
			return http.StatusConflict, err
		}
		return http.StatusBadRequest, err
	}
	s.logger.Info("scenario updated", zap.String("scenario", name), zap.Int("vus", vus), zap.Int("vusMax", maxVUs))
	return http.StatusOK, nil
}

// GetMetrics returns the current metric aggregates.
func (s *Server) GetMetrics(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.engine.Snapshot())
}

// GetScenarios returns per scenario executor stats, ordered by name.
func (s *Server) GetScenarios(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*executor.Stats, 0, len(names))
	for _, name := range names {
		out = append(out, stats[name])
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) status() Status {
	run := s.engine.TestRun()
	st := Status{
		RunID:   run.ID,
		Status:  run.Status(),
		VUs:     s.engine.ActiveVUs(),
		Stopped: s.engine.Stopped() || run.Status().Finished(),
	}
	st.Running = st.Status == engine.StatusRunning && !st.Stopped
	for _, stats := range s.engine.Stats() {
		if stats != nil {
			st.VUsMax += stats.MaxVUs
		}
	}
	if ctrl := s.engine.Controllable(); len(ctrl) > 0 {
		st.Scenarios = make(map[string]executor.ControlStatus, len(ctrl))
		for name, c := range ctrl {
			st.Scenarios[name] = c.Status()
		}
	}
	return st
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.logger.Warn("API error", zap.Error(err), zap.Int("status", status))
	s.respondJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}
