package api

import (
	"context"
	"net/http"
	"time"

	"github.com/parkslope/psp/internal/db"
	"github.com/sirupsen/logrus"
)

// StatsHandler serves ingestion statistics and the health check.
type StatsHandler struct {
	q   db.Querier
	log logrus.FieldLogger
}

// NewStatsHandler creates a new StatsHandler instance.
func NewStatsHandler(q db.Querier, log logrus.FieldLogger) *StatsHandler {
	return &StatsHandler{q: q, log: log.WithField("handler", "stats")}
}

func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := db.GetStats(r.Context(), h.q)
	if err != nil {
		h.log.WithError(err).Error("Failed to get stats")
		writeError(w, h.log, http.StatusInternalServerError, "Internal server error")
		return
	}

	WriteJSONResponse(w, h.log, http.StatusOK, stats)
}

// Healthz reports whether the database answers.
func (h *StatsHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var one int
	if err := h.q.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		h.log.WithError(err).Warn("Health check failed")
		WriteJSONResponse(w, h.log, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	WriteJSONResponse(w, h.log, http.StatusOK, map[string]string{"status": "ok"})
}
