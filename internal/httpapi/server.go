package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/hamed0406/modelstatus/internal/domain"
	"github.com/hamed0406/modelstatus/internal/healthcheck"
	apimw "github.com/hamed0406/modelstatus/internal/httpapi/middleware"
	"github.com/hamed0406/modelstatus/internal/repo"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// Catalog lists the models a sweep covers.
type Catalog interface {
	Models(ctx context.Context) ([]domain.ServiceRef, error)
	Refresh(ctx context.Context) ([]domain.ServiceRef, error)
}

type Server struct {
	Logger  *zap.Logger
	Catalog Catalog
	Monitor *healthcheck.Monitor
	Runs    repo.RunStore
}

func NewServer(l *zap.Logger, c Catalog, m *healthcheck.Monitor, runs repo.RunStore) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Logger: l, Catalog: c, Monitor: m, Runs: runs}
}

// Router wires the routes. Read endpoints take a public or admin key, the
// ones that start, cancel or refresh take an admin key. Everything under /api
// is rate limited per client IP.
func (s *Server) Router(keys apimw.Keys, allowedOrigins []string, publicRPM, publicBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(corsHandler(allowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(apimw.RateLimit(publicRPM, publicBurst))

		r.Group(func(r chi.Router) {
			r.Use(apimw.RequireAny(keys))
			r.Get("/models", s.handleListModels)
			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/current", s.handleCurrentRun)
		})

		r.Group(func(r chi.Router) {
			r.Use(apimw.RequireAdmin(keys))
			r.Post("/models/refresh", s.handleRefreshModels)
			r.Post("/runs", s.handleStartRun)
			r.Delete("/runs/current", s.handleCancelRun)
		})
	})

	return r
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return cors.AllowAll().Handler
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	})
}

// runView adds the display fields a status page needs to a snapshot.
type runView struct {
	domain.BatchRun
	Percent float64 `json:"percent"`
	Banner  string  `json:"banner"`
}

func viewOf(run domain.BatchRun) runView {
	return runView{BatchRun: run, Percent: run.Percent(), Banner: run.Status.Banner()}
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.Catalog.Models(r.Context())
	if err != nil {
		s.Logger.Warn("models_error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not load models")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models, "count": len(models)})
}

func (s *Server) handleRefreshModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.Catalog.Refresh(r.Context())
	if err != nil {
		s.Logger.Warn("models_refresh_error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not refresh models")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models, "count": len(models)})
}

type startPayload struct {
	// Models optionally limits the sweep to these catalog ids.
	Models []domain.ServiceID `json:"models"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var p startPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}

	models, err := s.Catalog.Models(r.Context())
	if err != nil {
		s.Logger.Warn("models_error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not load models")
		return
	}
	if len(p.Models) > 0 {
		models, err = pick(models, p.Models)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	run, err := s.Monitor.Start(r.Context(), models)
	if err != nil {
		if errors.Is(err, healthcheck.ErrMonitorClosed) {
			writeError(w, http.StatusServiceUnavailable, "shutting down")
			return
		}
		s.Logger.Error("run_start_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start run")
		return
	}
	writeJSON(w, http.StatusAccepted, viewOf(run.Snapshot()))
}

func pick(models []domain.ServiceRef, ids []domain.ServiceID) ([]domain.ServiceRef, error) {
	byID := make(map[domain.ServiceID]domain.ServiceRef, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}
	out := make([]domain.ServiceRef, 0, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			return nil, errors.New("unknown model: " + string(id))
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Server) handleCurrentRun(w http.ResponseWriter, r *http.Request) {
	run := s.Monitor.Current()
	if run == nil {
		writeError(w, http.StatusNotFound, "no run")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(run.Snapshot()))
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.Monitor.Cancel()
	if !ok {
		writeError(w, http.StatusNotFound, "no run")
		return
	}
	s.Logger.Info("run_cancel_requested", zap.String("run_id", snap.ID))
	writeJSON(w, http.StatusOK, viewOf(snap))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	runs, err := s.Runs.List(ctx, limit)
	if err != nil {
		s.Logger.Warn("runs_list_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list error")
		return
	}
	views := make([]runView, len(runs))
	for i, run := range runs {
		views[i] = viewOf(run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": views})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
