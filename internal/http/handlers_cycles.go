package http

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"bollette/internal/core"
	applog "bollette/internal/log"
)

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	cycle := ResolveCycle(r.PathValue("cycle"), s.clock.Now())

	ov, err := s.getOverview(r.Context(), cycle)
	if err != nil {
		s.writeError(w, r, applog.OpRead, err)
		return
	}
	NewJSONResponse().Data(ov).Write(w)
}

func (s *Server) getOverview(ctx context.Context, cycle string) (core.CycleOverview, error) {
	if data, found := s.overviewCache.Get(cycle); found {
		atomic.AddInt64(&s.appMetrics.cacheHits, 1)
		s.logger.DebugContext(ctx, "Overview cache hit", applog.FieldCycle, cycle)
		return data, nil
	}
	atomic.AddInt64(&s.appMetrics.cacheMisses, 1)

	// Add a small timeout to avoid hanging on a slow store
	cctx, cancel := context.WithTimeout(ctx, 7*time.Second)
	defer cancel()
	data, err := s.bills.Overview(cctx, cycle)
	if err != nil {
		return core.CycleOverview{}, fmt.Errorf("cycle overview %s: %w", cycle, err)
	}

	s.overviewCache.Set(cycle, data)
	s.logger.DebugContext(ctx, "Overview cached",
		applog.FieldCycle, cycle,
		"bills", data.Bills,
		"balance", data.Balance.StringFixed(2))
	return data, nil
}

type advanceResponse struct {
	Created int    `json:"created"`
	AsOf    string `json:"as_of"`
}

func (s *Server) handleAdvanceCycles(w http.ResponseWriter, r *http.Request) {
	if s.cycles == nil {
		ServiceUnavailableError("cycle processor not configured").Write(w)
		return
	}

	now := s.clock.Now()
	created, err := s.cycles.AdvanceDueBills(r.Context(), now)
	if err != nil {
		s.writeError(w, r, applog.OpAdvance, err)
		return
	}
	if created > 0 {
		s.InvalidateOverviews()
		atomic.AddInt64(&s.appMetrics.cyclesAdvanced, int64(created))
	}

	s.logger.InfoContext(r.Context(), "Cycle advancement requested",
		applog.FieldOperation, applog.OpAdvance,
		"bills_created", created)
	NewJSONResponse().Data(advanceResponse{
		Created: created,
		AsOf:    core.DateOf(now).String(),
	}).Write(w)
}
