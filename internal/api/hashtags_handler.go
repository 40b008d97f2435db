package api

import (
	"net/http"

	"github.com/parkslope/psp/internal/db"
	"github.com/parkslope/psp/internal/models"
	"github.com/sirupsen/logrus"
)

// HashtagsHandler serves hashtag counts, used by the app for category filters.
type HashtagsHandler struct {
	q   db.Querier
	log logrus.FieldLogger
}

// NewHashtagsHandler creates a new HashtagsHandler instance.
func NewHashtagsHandler(q db.Querier, log logrus.FieldLogger) *HashtagsHandler {
	return &HashtagsHandler{q: q, log: log.WithField("handler", "hashtags")}
}

// ListHashtags returns every hashtag with its message count, most used first.
func (h *HashtagsHandler) ListHashtags(w http.ResponseWriter, r *http.Request) {
	counts, err := db.ListHashtagCounts(r.Context(), h.q, 0)
	if err != nil {
		h.log.WithError(err).Error("Failed to list hashtags")
		writeError(w, h.log, http.StatusInternalServerError, "Internal server error")
		return
	}

	WriteJSONResponse(w, h.log, http.StatusOK, models.HashtagsResponse{
		Hashtags:    counts,
		TotalUnique: len(counts),
	})
}
