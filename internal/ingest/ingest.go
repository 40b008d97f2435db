// Package ingest runs the two ingestion loops: forward sync, which catches up on
// new messages, and backfill, which walks the group's history page by page.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/parkslope/psp/internal/groupsio"
	"github.com/parkslope/psp/internal/models"
)

// ErrMissingPageToken means the source reported more pages without saying where they start.
var ErrMissingPageToken = errors.New("source reported more pages but no page token")

// Source is the remote message API.
type Source interface {
	FetchPage(ctx context.Context, req groupsio.PageRequest) (*groupsio.Page, error)
}

// Store persists messages and sync state. Each write method is one transaction.
type Store interface {
	ExistingIDs(ctx context.Context, ids []int64) (map[int64]bool, error)
	SyncState(ctx context.Context) (*models.SyncState, error)
	BackfillToken(ctx context.Context) (*int64, error)
	InsertBatch(ctx context.Context, messages []models.Message) (int, error)
	CommitBackfillBatch(ctx context.Context, messages []models.Message, progress models.BackfillProgress) (int, error)
	RecordForwardSync(ctx context.Context, at time.Time, newestID *int64) error
}

// SleepFunc blocks for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// batchLimit is the page size for the next request given how much of the cap is left.
func batchLimit(batchSize, maxMessages, fetched int) int {
	limit := batchSize
	if limit <= 0 || limit > groupsio.MaxPageSize {
		limit = groupsio.MaxPageSize
	}
	if maxMessages > 0 && maxMessages-fetched < limit {
		limit = maxMessages - fetched
	}
	return limit
}

// splitNew returns the messages whose ids are not in existing, keeping page order.
func splitNew(messages []models.Message, existing map[int64]bool) []models.Message {
	fresh := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if !existing[m.ID] {
			fresh = append(fresh, m)
		}
	}
	return fresh
}
