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

// BackfillOptions bounds one backfill run. MaxMessages of zero means no cap.
type BackfillOptions struct {
	BatchSize   int
	MaxMessages int
	Delay       time.Duration
	DryRun      bool
}

// DefaultBackfillOptions match the operator defaults.
var DefaultBackfillOptions = BackfillOptions{BatchSize: 100, Delay: 5 * time.Second}

// BackfillResult reports what a backfill run did.
type BackfillResult struct {
	RunID       string `json:"run_id"`
	Pages       int    `json:"pages"`
	Fetched     int    `json:"fetched"`
	Inserted    int    `json:"inserted"`
	Complete    bool   `json:"complete"`
	Interrupted bool   `json:"interrupted"`
	DryRun      bool   `json:"dry_run"`
	// NextPageToken is where the next run resumes.
	NextPageToken *int64 `json:"next_page_token"`
}

// Backfiller walks the group's history from the stored page token until the source
// runs out of pages. Every page is committed together with the token that follows it,
// so a run can stop at any page boundary and the next one resumes there.
type Backfiller struct {
	source Source
	store  Store
	log    logrus.FieldLogger
	sleep  SleepFunc
}

// NewBackfiller creates a new Backfiller.
func NewBackfiller(source Source, store Store, log logrus.FieldLogger) *Backfiller {
	return &Backfiller{
		source: source,
		store:  store,
		log:    log,
		sleep:  sleepContext,
	}
}

// Run continues the backfill. Rate limits are waited out and the same page is requested
// again. Cancelling ctx stops the run at the next page boundary without an error; the
// page being fetched or committed at that moment is finished first.
func (b *Backfiller) Run(ctx context.Context, opts BackfillOptions) (*BackfillResult, error) {
	result := &BackfillResult{RunID: uuid.NewString(), DryRun: opts.DryRun}
	log := b.log.WithFields(logrus.Fields{"run_id": result.RunID, "mode": "backfill", "dry_run": opts.DryRun})
	workCtx := context.WithoutCancel(ctx)

	state, err := b.store.SyncState(workCtx)
	if err != nil {
		return result, fmt.Errorf("failed to load sync state: %w", err)
	}

	if state.BackfillComplete() {
		log.WithField("completed_at", state.BackfillCompletedAt).Info("Backfill already complete, reset to run again")
		result.Complete = true
		return result, nil
	}

	pageToken, err := b.store.BackfillToken(workCtx)
	if err != nil {
		return result, fmt.Errorf("failed to load backfill token: %w", err)
	}
	if pageToken != nil {
		log.WithField("page_token", *pageToken).Info("Resuming backfill")
	} else {
		log.Info("Starting backfill from the newest message")
	}

	var totalCount int64
	for {
		if ctx.Err() != nil {
			log.Info("Shutdown requested, stopping backfill")
			result.Interrupted = true
			break
		}
		if opts.MaxMessages > 0 && result.Fetched >= opts.MaxMessages {
			log.WithField("max_messages", opts.MaxMessages).Info("Reached max messages limit")
			break
		}

		limit := batchLimit(opts.BatchSize, opts.MaxMessages, result.Fetched)
		log.WithFields(logrus.Fields{"batch_size": limit, "page_token": pageToken}).Info("Fetching batch")

		page, err := b.source.FetchPage(workCtx, groupsio.PageRequest{Limit: limit, PageToken: pageToken, SortDir: groupsio.SortDesc})
		if err != nil {
			var rateLimited *groupsio.RateLimitedError
			if errors.As(err, &rateLimited) {
				log.WithField("retry_after", rateLimited.RetryAfter).Warn("Rate limited, waiting before retrying the same page")
				metrics.RateLimitWaitSeconds.Add(rateLimited.RetryAfter.Seconds())
				if err := b.sleep(ctx, rateLimited.RetryAfter); err != nil {
					log.Info("Shutdown requested while rate limited, stopping backfill")
					result.Interrupted = true
					break
				}
				continue
			}
			return b.finish(log, result, pageToken, fmt.Errorf("failed to fetch page: %w", err))
		}
		result.Pages++

		if totalCount == 0 && page.TotalCount > 0 {
			totalCount = page.TotalCount
			log.WithField("total_count", totalCount).Info("Messages in group")
		}

		if len(page.Data) == 0 {
			log.Info("No more messages, backfill complete")
			if !opts.DryRun {
				if _, err := b.store.CommitBackfillBatch(workCtx, nil, models.BackfillProgress{Complete: true}); err != nil {
					return b.finish(log, result, pageToken, fmt.Errorf("failed to mark backfill complete: %w", err))
				}
			}
			result.Complete = true
			pageToken = nil
			break
		}

		messages := normalize.ToMessages(page.Data)
		result.Fetched += len(messages)
		metrics.MessagesFetchedTotal.WithLabelValues("backfill").Add(float64(len(messages)))
		minID, maxID, _ := models.IDRange(messages)

		progress := models.BackfillProgress{MinID: minID, MaxID: maxID}
		switch {
		case !page.HasMore:
			progress.Complete = true
		case page.NextPageToken != nil:
			progress.NextPageToken = page.NextPageToken
		}

		inserted, err := b.commit(workCtx, messages, progress, opts.DryRun)
		if err != nil {
			return b.finish(log, result, pageToken, err)
		}
		result.Inserted += inserted

		log.WithFields(logrus.Fields{
			"inserted":     inserted,
			"skipped":      len(messages) - inserted,
			"total_new":    result.Inserted,
			"oldest_id":    minID,
			"newest_id":    maxID,
			"fetched":      result.Fetched,
			"total_count":  totalCount,
			"next_token":   page.NextPageToken,
			"has_more":     page.HasMore,
			"pages_so_far": result.Pages,
		}).Info("Batch committed")

		if progress.Complete {
			log.Info("No more pages, backfill complete")
			result.Complete = true
			pageToken = nil
			break
		}
		if progress.NextPageToken == nil {
			return b.finish(log, result, pageToken, ErrMissingPageToken)
		}
		pageToken = progress.NextPageToken

		if opts.Delay > 0 {
			log.WithField("delay", opts.Delay).Debug("Waiting before next request")
			if err := b.sleep(ctx, opts.Delay); err != nil {
				log.Info("Shutdown requested, stopping backfill")
				result.Interrupted = true
				break
			}
		}
	}

	return b.finish(log, result, pageToken, nil)
}

// commit stores the new messages of the page and its progress in one transaction.
// In dry-run mode it only counts what would be inserted.
func (b *Backfiller) commit(ctx context.Context, messages []models.Message, progress models.BackfillProgress, dryRun bool) (int, error) {
	if dryRun {
		existing, err := b.store.ExistingIDs(ctx, models.MessageIDs(messages))
		if err != nil {
			return 0, fmt.Errorf("failed to check existing messages: %w", err)
		}
		return len(splitNew(messages, existing)), nil
	}

	inserted, err := b.store.CommitBackfillBatch(ctx, messages, progress)
	if err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}
	metrics.MessagesInsertedTotal.WithLabelValues("backfill").Add(float64(inserted))
	return inserted, nil
}

func (b *Backfiller) finish(log logrus.FieldLogger, result *BackfillResult, pageToken *int64, err error) (*BackfillResult, error) {
	result.NextPageToken = pageToken
	entry := log.WithFields(logrus.Fields{
		"total_new":     result.Inserted,
		"total_checked": result.Fetched,
		"complete":      result.Complete,
	})
	if err != nil {
		entry.WithError(err).Error("Backfill stopped")
		return result, err
	}
	entry.Info("Backfill session complete")
	return result, nil
}
