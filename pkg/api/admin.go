package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/holeshot/tilecache/internal/batch"
	"github.com/holeshot/tilecache/internal/cache"
	"github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/recovery"
	"github.com/holeshot/tilecache/pkg/types"
)

// OperationWarm is the operation type of a background cache warm
const OperationWarm = "warm"

// WarmRunner warms the cache for one pyramid, reporting totals after each batch
type WarmRunner interface {
	Run(ctx context.Context, pyramid types.PyramidKey, levels []int, progress func(batch.Stats)) (batch.Stats, error)
}

// TierSwitch takes cache tiers in and out of service
type TierSwitch interface {
	States() []cache.TierState
	EnableLevel(name string) error
	DisableLevel(name string) error
}

// ComponentRecovery lists degraded components and clears them by hand
type ComponentRecovery interface {
	GetDegradedComponents() map[string]recovery.DegradedState
	RecoverComponent(component string) error
}

func (s *Server) adminRoutes(r chi.Router) {
	if s.warmEnabled() {
		r.Post("/warm/{imageId}/{timestamp}", s.handleWarm)
		r.Get("/operations", s.handleListOperations)
		r.Get("/operations/{id}", s.handleGetOperation)
		r.Delete("/operations/{id}", s.handleCancelOperation)
	}
	if s.tiers != nil {
		r.Get("/tiers", s.handleListTiers)
		r.Post("/tiers/{tier}/enable", s.handleSwitchTier(true))
		r.Post("/tiers/{tier}/disable", s.handleSwitchTier(false))
	}
	if s.recovery != nil {
		r.Get("/components", s.handleDegradedComponents)
		r.Post("/components/{component}/recover", s.handleRecoverComponent)
	}
}

func (s *Server) adminEndpoints() []string {
	var endpoints []string
	if s.warmEnabled() {
		endpoints = append(endpoints,
			"/admin/warm/{imageId}/{timestamp}",
			"/admin/operations",
			"/admin/operations/{id}")
	}
	if s.tiers != nil {
		endpoints = append(endpoints,
			"/admin/tiers",
			"/admin/tiers/{tier}/enable",
			"/admin/tiers/{tier}/disable")
	}
	if s.recovery != nil {
		endpoints = append(endpoints,
			"/admin/components",
			"/admin/components/{component}/recover")
	}
	return endpoints
}

func (s *Server) handleListTiers(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"tiers": s.tiers.States()})
}

// handleSwitchTier turns one tier on or off and answers with every tier's state
func (s *Server) handleSwitchTier(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "tier")
		var err error
		if enabled {
			err = s.tiers.EnableLevel(name)
		} else {
			err = s.tiers.DisableLevel(name)
		}
		if err != nil {
			s.respondTileError(w, r, err)
			return
		}
		s.logger.Info("cache tier switched by admin", "tier", name, "enabled", enabled,
			"request_id", RequestIDFrom(r.Context()))
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"tiers": s.tiers.States()})
	}
}

func (s *Server) handleDegradedComponents(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"degraded": s.recovery.GetDegradedComponents()})
}

// handleRecoverComponent clears a degraded component and closes its breaker
func (s *Server) handleRecoverComponent(w http.ResponseWriter, r *http.Request) {
	component := chi.URLParam(r, "component")
	if err := s.recovery.RecoverComponent(component); err != nil {
		s.respondTileError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"component": component,
		"degraded":  s.recovery.GetDegradedComponents(),
	})
}

// handleWarm starts warming a pyramid in the background and answers 202
// with the operation to poll. ?levels=0,2 restricts it to those levels.
func (s *Server) handleWarm(w http.ResponseWriter, r *http.Request) {
	pyramid := pyramidKey(r)
	levels, err := parseLevels(r.URL.Query().Get("levels"))
	if err != nil {
		s.respondTileError(w, r, err)
		return
	}
	if s.indexes != nil {
		idx, err := s.indexes.Get(r.Context(), pyramid)
		if err != nil {
			s.respondTileError(w, r, err)
			return
		}
		maxLevel := idx.Geometry().MaxLevel()
		for _, level := range levels {
			if level > maxLevel {
				s.respondTileError(w, r, errors.Newf(errors.ErrCodeMalformedRequest,
					"level %d outside 0..%d", level, maxLevel).WithComponent("api"))
				return
			}
		}
	}

	op, ctx := s.operations.StartOperation(s.jobs, OperationWarm, map[string]interface{}{
		"pyramid": pyramid.String(),
		"levels":  levels,
	})
	logger := s.logger.With("operation_id", op.ID, "pyramid", pyramid.String())
	logger.Info("warm started", "levels", levels)

	s.jobsWG.Add(1)
	go func() {
		defer s.jobsWG.Done()
		stats, err := s.warmer.Run(ctx, pyramid, levels, func(st batch.Stats) {
			done := st.Fetched + st.Cached + st.NotFound + st.Errors
			_ = s.operations.UpdateProgress(op.ID, done, st.Tiles, "tiles")
		})
		if err != nil {
			logger.Warn("warm ended early", "error", err, "fetched", stats.Fetched)
			_ = s.operations.FailOperation(op.ID, stats, err)
			return
		}
		logger.Info("warm finished", "fetched", stats.Fetched, "cached", stats.Cached, "errors", stats.Errors)
		_ = s.operations.CompleteOperation(op.ID, stats)
	}()

	s.respondJSON(w, http.StatusAccepted, op.Copy())
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondTileError(w, r, errors.Newf(errors.ErrCodeMalformedRequest, "invalid limit %q", v).WithComponent("api"))
			return
		}
		limit = n
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"active":  s.operations.GetAllOperations(),
		"history": s.operations.GetHistory(limit),
		"system":  s.operations.GetSystemStatus(),
	})
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := s.operations.GetOperation(chi.URLParam(r, "id"))
	if err != nil {
		s.respondTileError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, op)
}

func (s *Server) handleCancelOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.operations.CancelOperation(id); err != nil {
		s.respondTileError(w, r, err)
		return
	}
	op, err := s.operations.GetOperation(id)
	if err != nil {
		s.respondTileError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, op)
}

// parseLevels reads a comma separated list of pyramid levels; empty means all
func parseLevels(v string) ([]int, error) {
	if v == "" {
		return nil, nil
	}
	var levels []int
	for _, part := range strings.Split(v, ",") {
		level, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || level < 0 {
			return nil, errors.Newf(errors.ErrCodeMalformedRequest, "invalid level %q", part).WithComponent("api")
		}
		levels = append(levels, level)
	}
	return levels, nil
}
