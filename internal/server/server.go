// Package server exposes the control API: system status, scheduler
// control and the planner batch trigger.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/planning"
	"github.com/aristath/helmsman/internal/modules/planning/planner"
	"github.com/aristath/helmsman/internal/scheduler"
)

// Server is the HTTP control plane.
type Server struct {
	runner          *scheduler.Runner
	planner         *planner.Service
	recommendations *planning.RecommendationRepository
	manager         *database.Manager
	bus             *events.Bus
	log             zerolog.Logger

	httpServer *http.Server
}

// New creates the control API server.
func New(port int, runner *scheduler.Runner, plannerSvc *planner.Service, recommendations *planning.RecommendationRepository, manager *database.Manager, bus *events.Bus, log zerolog.Logger) *Server {
	s := &Server{
		runner:          runner,
		planner:         plannerSvc,
		recommendations: recommendations,
		manager:         manager,
		bus:             bus,
		log:             log.With().Str("service", "server").Logger(),
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(s.requestEvents)

	r.Route("/api", func(r chi.Router) {
		r.Get("/system/status", s.handleSystemStatus)
		r.Get("/scheduler/status", s.handleSchedulerStatus)
		r.Post("/scheduler/jobs/{jobType}/run", s.handleRunJob)
		r.Get("/recommendations", s.handleRecommendations)
		r.Get("/planner/progress", s.handlePlannerProgress)
		r.Post("/status/jobs/planner-batch", s.handlePlannerBatch)
	})
	return r
}

// Start serves until the listener closes.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("Control API listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestEvents marks request activity on the bus.
func (s *Server) requestEvents(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.bus.Emit(events.WebRequest, "server", map[string]interface{}{
			"method": r.Method, "path": r.URL.Path,
		})
		next.ServeHTTP(w, r)
	})
}

// handleSystemStatus reports CPU, memory and per-database statistics.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"time": time.Now().UTC().Format(time.RFC3339),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status["memory"] = map[string]interface{}{
			"used_percent": vm.UsedPercent,
			"total_mb":     vm.Total / 1024 / 1024,
			"used_mb":      vm.Used / 1024 / 1024,
		}
	}

	databases := make(map[string]interface{})
	for _, db := range s.manager.All() {
		stats, err := db.GetStats()
		if err != nil {
			databases[db.Name()] = map[string]interface{}{"error": err.Error()}
			continue
		}
		databases[db.Name()] = map[string]interface{}{
			"size_bytes":     stats.SizeBytes,
			"wal_size_bytes": stats.WALSizeBytes,
			"page_count":     stats.PageCount,
			"freelist_count": stats.FreelistCount,
		}
	}
	status["databases"] = databases

	s.respond(w, http.StatusOK, status)
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.runner.Status()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, report)
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	jobType := chi.URLParam(r, "jobType")
	report := s.runner.RunNow(jobType)
	s.respond(w, http.StatusOK, report)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	pending, err := s.recommendations.GetPending()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"pending": pending})
}

func (s *Server) handlePlannerProgress(w http.ResponseWriter, r *http.Request) {
	done, err := s.planner.AllEvaluated()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"finished": done})
}

// handlePlannerBatch runs one API-mode planner batch. The depth in the
// body tracks self-trigger chains.
func (s *Server) handlePlannerBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Depth int `json:"depth"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	progress, err := s.planner.RunBatch(r.Context(), planner.ModeAPI, body.Depth)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, progress)
}

func (s *Server) respond(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.respond(w, status, map[string]string{"error": err.Error()})
}
