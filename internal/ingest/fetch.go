package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/parkslope/psp/internal/groupsio"
	"github.com/parkslope/psp/internal/metrics"
	"github.com/parkslope/psp/internal/models"
	"github.com/parkslope/psp/internal/normalize"
	"github.com/sirupsen/logrus"
)

// FetchOptions bounds one forward sync run.
type FetchOptions struct {
	BatchSize   int
	MaxMessages int
	DryRun      bool
}

// DefaultFetchOptions match the operator defaults.
var DefaultFetchOptions = FetchOptions{BatchSize: 100, MaxMessages: 1000}

// FetchResult reports what a forward sync run did. Inserted counts would-be inserts in dry-run mode.
type FetchResult struct {
	RunID       string `json:"run_id"`
	Fetched     int    `json:"fetched"`
	Inserted    int    `json:"inserted"`
	CaughtUp    bool   `json:"caught_up"`
	RateLimited bool   `json:"rate_limited"`
	Interrupted bool   `json:"interrupted"`
	DryRun      bool   `json:"dry_run"`
}

// Fetcher pulls messages newer than anything stored.
type Fetcher struct {
	source Source
	store  Store
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewFetcher creates a new Fetcher.
func NewFetcher(source Source, store Store, log logrus.FieldLogger) *Fetcher {
	return &Fetcher{
		source: source,
		store:  store,
		log:    log,
		now:    time.Now,
	}
}

// Run pages newest-first until it reaches a page holding an already-stored message,
// runs out of pages, hits the cap or is rate limited. A rate limit ends the run without
// an error. Cancellation is honored between pages; a page already being fetched or
// committed is finished first.
func (f *Fetcher) Run(ctx context.Context, opts FetchOptions) (*FetchResult, error) {
	result := &FetchResult{RunID: uuid.NewString(), DryRun: opts.DryRun}
	log := f.log.WithFields(logrus.Fields{"run_id": result.RunID, "mode": "fetch", "dry_run": opts.DryRun})
	// In-flight work completes even after a shutdown request.
	workCtx := context.WithoutCancel(ctx)

	var newestID *int64
	var pageToken *int64
	var runErr error

	for {
		if ctx.Err() != nil {
			log.Info("Shutdown requested, stopping fetch")
			result.Interrupted = true
			break
		}
		if opts.MaxMessages > 0 && result.Fetched >= opts.MaxMessages {
			log.WithField("max_messages", opts.MaxMessages).Info("Reached max messages limit")
			break
		}

		limit := batchLimit(opts.BatchSize, opts.MaxMessages, result.Fetched)
		log.WithFields(logrus.Fields{"batch_size": limit, "page_token": pageToken}).Info("Fetching batch")

		page, err := f.source.FetchPage(workCtx, groupsio.PageRequest{Limit: limit, PageToken: pageToken, SortDir: groupsio.SortDesc})
		if err != nil {
			var rateLimited *groupsio.RateLimitedError
			if errors.As(err, &rateLimited) {
				log.WithField("retry_after", rateLimited.RetryAfter).Warn("Rate limited, stopping")
				result.RateLimited = true
				break
			}
			runErr = fmt.Errorf("failed to fetch page: %w", err)
			break
		}

		if len(page.Data) == 0 {
			log.Info("No more messages to fetch")
			break
		}

		messages := normalize.ToMessages(page.Data)
		result.Fetched += len(messages)
		metrics.MessagesFetchedTotal.WithLabelValues("fetch").Add(float64(len(messages)))

		existing, err := f.store.ExistingIDs(workCtx, models.MessageIDs(messages))
		if err != nil {
			runErr = fmt.Errorf("failed to check existing messages: %w", err)
			break
		}

		fresh := splitNew(messages, existing)
		if len(fresh) > 0 {
			inserted := len(fresh)
			if !opts.DryRun {
				inserted, err = f.store.InsertBatch(workCtx, fresh)
				if err != nil {
					runErr = fmt.Errorf("failed to insert batch: %w", err)
					break
				}
				metrics.MessagesInsertedTotal.WithLabelValues("fetch").Add(float64(inserted))
			}
			result.Inserted += inserted
			if _, maxID, ok := models.IDRange(fresh); ok && (newestID == nil || maxID > *newestID) {
				newestID = &maxID
			}
			log.WithFields(logrus.Fields{"inserted": inserted, "total_new": result.Inserted}).Info("Inserted new messages")
		}

		if len(existing) > 0 {
			log.WithField("existing", len(existing)).Info("Found existing messages, caught up")
			result.CaughtUp = true
			break
		}

		if !page.HasMore {
			log.Info("No more pages available")
			break
		}
		if page.NextPageToken == nil {
			runErr = ErrMissingPageToken
			break
		}
		pageToken = page.NextPageToken
	}

	if result.Inserted > 0 && !opts.DryRun {
		if err := f.store.RecordForwardSync(workCtx, f.now().UTC(), newestID); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("failed to record forward sync: %w", err))
		}
	}

	entry := log.WithFields(logrus.Fields{"total_new": result.Inserted, "total_checked": result.Fetched})
	if runErr != nil {
		entry.WithError(runErr).Error("Fetch failed")
		return result, runErr
	}
	entry.Info("Fetch complete")
	return result, nil
}
