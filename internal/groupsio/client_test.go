package groupsio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parkslope/psp/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `{
  "total_count": 2,
  "has_more": true,
  "next_page_token": 1234,
  "data": [
    {
      "id": 105,
      "topic_id": 50,
      "group_id": 8407,
      "created": "2024-03-01T12:00:00Z",
      "updated": "2024-03-01T12:05:00Z",
      "subject": "Selling chair",
      "body": "<p>Chair for $50</p>",
      "snippet": "Chair for $50",
      "name": "Ben Smith <ben@example.com>",
      "msg_num": 9001,
      "is_reply": false,
      "is_plain_text": false,
      "reply_to": null,
      "hashtags": [{"name": "ForSale", "color": "#00ff00"}],
      "attachments": null,
      "unknown_field": "ignored"
    },
    {
      "id": 104,
      "topic_id": 49,
      "group_id": 8407,
      "subject": "Re: Question",
      "name": "Ann",
      "is_reply": true,
      "hashtags": null,
      "attachments": [{"download_url": "https://x/a.jpg", "filename": "a.jpg", "media_type": "image/jpeg"}]
    }
  ]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Options{
		BaseURL:        server.URL,
		APIToken:       "secret-token",
		GroupID:        8407,
		Timeout:        5 * time.Second,
		InitialBackoff: time.Millisecond,
		Logger:         logging.Discard(),
	})
}

func TestFetchPage(t *testing.T) {
	t.Run("sends auth and query parameters", func(t *testing.T) {
		var got *http.Request
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			got = r
			_, _ = w.Write([]byte(samplePage))
		})

		token := int64(777)
		page, err := client.FetchPage(context.Background(), PageRequest{Limit: 500, PageToken: &token, SortDir: SortDesc})
		require.NoError(t, err)

		assert.Equal(t, "/getmessages", got.URL.Path)
		assert.Equal(t, "Bearer secret-token", got.Header.Get("Authorization"))
		assert.Equal(t, "application/json", got.Header.Get("Accept"))
		query := got.URL.Query()
		assert.Equal(t, "8407", query.Get("group_id"))
		assert.Equal(t, "100", query.Get("limit"))
		assert.Equal(t, "desc", query.Get("sort_dir"))
		assert.Equal(t, "id", query.Get("sort_field"))
		assert.Equal(t, "777", query.Get("page_token"))

		assert.Equal(t, int64(2), page.TotalCount)
		assert.True(t, page.HasMore)
		require.NotNil(t, page.NextPageToken)
		assert.Equal(t, int64(1234), *page.NextPageToken)
		require.Len(t, page.Data, 2)
		assert.Equal(t, int64(105), page.Data[0].ID)
		assert.Equal(t, "ForSale", page.Data[0].Hashtags[0].Name)
		assert.Nil(t, page.Data[0].Attachments)
		assert.Nil(t, page.Data[1].Hashtags)
		assert.Equal(t, "a.jpg", page.Data[1].Attachments[0].Filename)
	})

	t.Run("omits page token on first request", func(t *testing.T) {
		var query map[string][]string
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			query = r.URL.Query()
			_, _ = w.Write([]byte(`{"total_count":0,"has_more":false,"next_page_token":null,"data":[]}`))
		})

		page, err := client.FetchPage(context.Background(), PageRequest{Limit: 10})
		require.NoError(t, err)
		assert.NotContains(t, query, "page_token")
		assert.Equal(t, []string{"10"}, query["limit"])
		assert.Empty(t, page.Data)
		assert.Nil(t, page.NextPageToken)
	})
}

func TestFetchPageRateLimited(t *testing.T) {
	tests := []struct {
		name       string
		retryAfter string
		expected   time.Duration
	}{
		{name: "uses retry-after seconds", retryAfter: "30", expected: 30 * time.Second},
		{name: "defaults to sixty seconds", retryAfter: "", expected: 60 * time.Second},
		{name: "defaults on garbage", retryAfter: "soon", expected: 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(http.StatusTooManyRequests)
			})

			_, err := client.FetchPage(context.Background(), PageRequest{Limit: 100})
			var rateLimited *RateLimitedError
			require.True(t, errors.As(err, &rateLimited), "expected RateLimitedError, got %v", err)
			assert.Equal(t, tt.expected, rateLimited.RetryAfter)
			assert.Equal(t, int32(1), calls.Load(), "429 must not be retried by the client")
		})
	}
}

func TestFetchPageServerErrors(t *testing.T) {
	t.Run("retries 5xx then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(samplePage))
		})

		page, err := client.FetchPage(context.Background(), PageRequest{Limit: 100})
		require.NoError(t, err)
		assert.Len(t, page.Data, 2)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after three retries", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("down for maintenance"))
		})

		_, err := client.FetchPage(context.Background(), PageRequest{Limit: 100})
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
		assert.Equal(t, "down for maintenance", apiErr.Body)
		assert.Equal(t, int32(4), calls.Load())
	})

	t.Run("does not retry 4xx", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"object":"error","type":"unauthorized"}`))
		})

		_, err := client.FetchPage(context.Background(), PageRequest{Limit: 100})
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Contains(t, apiErr.Error(), "API error 401")
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestFetchPageTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(Options{
		BaseURL:        url,
		APIToken:       "t",
		GroupID:        1,
		InitialBackoff: time.Millisecond,
		Logger:         logging.Discard(),
	})

	_, err := client.FetchPage(context.Background(), PageRequest{Limit: 1})
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr), "expected TransportError, got %v", err)
	assert.Equal(t, 4, transportErr.Attempts)
}

func TestFetchPageDecodeError(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"data": [`},
		{name: "wrong type", body: `{"total_count": "many", "data": []}`},
		{name: "record without id", body: `{"total_count": 1, "data": [{"subject": "x"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.FetchPage(context.Background(), PageRequest{Limit: 100})
			var decodeErr *DecodeError
			assert.True(t, errors.As(err, &decodeErr), "expected DecodeError, got %v", err)
		})
	}
}

func TestFetchPageCanceled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(samplePage))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchPage(ctx, PageRequest{Limit: 100})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTestConnection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(samplePage))
	})

	info, err := client.TestConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.TotalCount)
	assert.Equal(t, int64(105), info.LatestID)
	assert.Equal(t, "Selling chair", info.LatestSubject)
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
	}{
		{"5", 5 * time.Second},
		{"", 60 * time.Second},
		{"-3", 60 * time.Second},
		{"3600", time.Hour},
		{"3601", time.Hour},
		{"99999999999999", time.Hour},
		{"99999999999999999999999", 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, parseRetryAfter(tt.value), "Retry-After %q", tt.value)
	}

	farFuture := time.Now().Add(48 * time.Hour).UTC().Format(http.TimeFormat)
	assert.Equal(t, time.Hour, parseRetryAfter(farFuture))

	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(future)
	assert.InDelta(t, 90, got.Seconds(), 2)
}
