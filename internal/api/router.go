package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/parkslope/psp/internal/db"
	"github.com/parkslope/psp/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the read-only REST API. limiter may be nil to disable rate limiting.
func NewRouter(q db.Querier, limiter *ratelimit.Limiter, log logrus.FieldLogger) http.Handler {
	messagesHandler := NewMessagesHandler(q, log)
	hashtagsHandler := NewHashtagsHandler(q, log)
	statsHandler := NewStatsHandler(q, log)

	router := mux.NewRouter()
	router.Use(RequestLogger(log))

	router.HandleFunc("/healthz", statsHandler.Healthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	if limiter != nil {
		v1.Use(RateLimit(limiter, log))
	}
	v1.HandleFunc("/messages", messagesHandler.ListMessages).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id}", messagesHandler.GetMessage).Methods(http.MethodGet)
	v1.HandleFunc("/topics/{id}/messages", messagesHandler.GetTopicMessages).Methods(http.MethodGet)
	v1.HandleFunc("/hashtags", hashtagsHandler.ListHashtags).Methods(http.MethodGet)
	v1.HandleFunc("/stats", statsHandler.GetStats).Methods(http.MethodGet)

	// Middleware only runs on matched routes, so the fallback logs itself.
	router.NotFoundHandler = RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, log, http.StatusNotFound, "Not found")
	}))

	return router
}
