package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parkslope/psp/internal/logging"
	"github.com/parkslope/psp/internal/metrics"
	"github.com/parkslope/psp/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewLimiter(2)
	defer limiter.Close()

	handler := RateLimit(limiter, logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	request := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil)
		req.RemoteAddr = remoteAddr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusNoContent, request("10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusNoContent, request("10.0.0.1:5001").Code)

	rr := request("10.0.0.1:5002")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rr.Body.String())
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, request("10.0.0.2:5000").Code, "other clients are unaffected")
}

func TestRateLimitIgnoresForwardedFor(t *testing.T) {
	limiter := ratelimit.NewLimiter(2)
	defer limiter.Close()

	handler := RateLimit(limiter, logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	allowed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code == http.StatusNoContent {
			allowed++
		}
	}

	assert.Equal(t, 2, allowed, "rotating X-Forwarded-For must not reset the bucket")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		expected   string
	}{
		{"remote addr with port", "192.168.1.5:4321", "", "192.168.1.5"},
		{"remote addr without port", "192.168.1.5", "", "192.168.1.5"},
		{"forwarded header ignored", "10.0.0.1:80", "203.0.113.7, 10.0.0.1", "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.expected, clientIP(req))
		})
	}
}

func TestRouterCountsRequestsByRoute(t *testing.T) {
	metrics.APIRequestsTotal.Reset()

	rr := serve(t, nil, "/api/v1/messages?limit=0")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, nil, "/nowhere")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues("/api/v1/messages", "400")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues("unmatched", "404")))
}

func TestRouterRejectsOtherMethods(t *testing.T) {
	router := NewRouter(nil, nil, logging.Discard())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/messages", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
