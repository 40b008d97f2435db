// Package groupsio is a client for the groups.io getmessages API.
package groupsio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/parkslope/psp/internal/metrics"
	"github.com/sirupsen/logrus"
)

const (
	defaultRetryAfter     = 60 * time.Second
	maxRetryAfter         = time.Hour
	defaultMaxRetries     = 3
	defaultInitialBackoff = time.Second
	maxErrorBodyBytes     = 4096
)

// Options configures a Client. Zero values fall back to the defaults of the real API.
type Options struct {
	BaseURL        string
	APIToken       string
	GroupID        int64
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	HTTPClient     *http.Client
	Logger         logrus.FieldLogger
}

// Client fetches pages of messages for one group.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiToken       string
	groupID        int64
	maxRetries     int
	initialBackoff time.Duration
	log            logrus.FieldLogger
}

// NewClient creates a new Client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	initialBackoff := opts.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}

	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		apiToken:       opts.APIToken,
		groupID:        opts.GroupID,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
		log:            log.WithField("component", "groupsio"),
	}
}

// FetchPage requests one page of messages. The limit is clamped to MaxPageSize.
// Errors are *RateLimitedError, *APIError, *TransportError, *DecodeError or a context error.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	limit := req.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	sortDir := req.SortDir
	if sortDir == "" {
		sortDir = SortDesc
	}

	params := url.Values{}
	params.Set("group_id", strconv.FormatInt(c.groupID, 10))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("sort_dir", string(sortDir))
	params.Set("sort_field", "id")
	if req.PageToken != nil {
		params.Set("page_token", strconv.FormatInt(*req.PageToken, 10))
	}

	endpoint := c.baseURL + "/getmessages?" + params.Encode()
	c.log.WithFields(logrus.Fields{"limit": limit, "page_token": req.PageToken, "sort_dir": sortDir}).Debug("Fetching messages")

	start := time.Now()
	body, err := c.get(ctx, endpoint)
	metrics.SourceRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SourceRequestsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}

	page, err := decodePage(body)
	if err != nil {
		metrics.SourceRequestsTotal.WithLabelValues("decode_error").Inc()
		return nil, err
	}

	metrics.SourceRequestsTotal.WithLabelValues("ok").Inc()
	return page, nil
}

// get performs the authenticated GET, retrying connection failures and 5xx responses.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0
	retrying := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx)

	attempts := 0
	var body []byte
	operation := func() error {
		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return backoff.Permanent(&RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))})
		case resp.StatusCode >= 500:
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
			return &APIError{StatusCode: resp.StatusCode, Body: string(snippet)}
		case resp.StatusCode >= 400:
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
			return backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Body: string(snippet)})
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = data
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.log.WithFields(logrus.Fields{"attempt": attempts, "wait": wait}).Warnf("Request failed, retrying: %v", err)
	}

	err := backoff.RetryNotify(operation, retrying, notify)
	if err == nil {
		return body, nil
	}

	var rateLimited *RateLimitedError
	var apiErr *APIError
	switch {
	case errors.As(err, &rateLimited), errors.As(err, &apiErr):
		return nil, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		c.log.Errorf("Request failed: %v", err)
		return nil, &TransportError{Attempts: attempts, Err: err}
	}
}

// decodePage decodes a getmessages body and rejects records that cannot be keyed.
func decodePage(body []byte) (*Page, error) {
	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &DecodeError{Err: err}
	}
	for i, record := range page.Data {
		if record.ID <= 0 {
			return nil, &DecodeError{Err: fmt.Errorf("record %d has no id", i)}
		}
	}
	return &page, nil
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
// Waits longer than maxRetryAfter are capped.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultRetryAfter
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil && seconds >= 0 {
		if seconds > int64(maxRetryAfter/time.Second) {
			return maxRetryAfter
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := time.Until(at); wait > 0 {
			return min(wait.Round(time.Second), maxRetryAfter)
		}
		return 0
	}
	return defaultRetryAfter
}

func outcomeLabel(err error) string {
	var rateLimited *RateLimitedError
	var apiErr *APIError
	var transportErr *TransportError
	switch {
	case errors.As(err, &rateLimited):
		return "rate_limited"
	case errors.As(err, &apiErr):
		return "api_error"
	case errors.As(err, &transportErr):
		return "transport_error"
	default:
		return "canceled"
	}
}

// ConnectionInfo is what TestConnection reports about the group.
type ConnectionInfo struct {
	TotalCount    int64
	LatestID      int64
	LatestSubject string
}

// TestConnection fetches the single newest message to verify credentials and reachability.
func (c *Client) TestConnection(ctx context.Context) (*ConnectionInfo, error) {
	page, err := c.FetchPage(ctx, PageRequest{Limit: 1, SortDir: SortDesc})
	if err != nil {
		return nil, err
	}

	info := &ConnectionInfo{TotalCount: page.TotalCount}
	if len(page.Data) > 0 {
		info.LatestID = page.Data[0].ID
		info.LatestSubject = page.Data[0].Subject
	}
	return info, nil
}
