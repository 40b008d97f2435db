package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parkslope/psp/internal/metrics"
	"github.com/parkslope/psp/internal/models"
)

// Store is the storage side of the ingestion loops. Every write runs in one
// transaction, so a batch and the sync state change that goes with it commit together.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) ExistingIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	return ExistingMessageIDs(ctx, s.pool, ids)
}

func (s *Store) SyncState(ctx context.Context) (*models.SyncState, error) {
	return GetSyncState(ctx, s.pool)
}

// BackfillToken is where the next backfill run resumes, nil when none is stored.
func (s *Store) BackfillToken(ctx context.Context) (*int64, error) {
	return LoadBackfillToken(ctx, s.pool)
}

// InsertBatch inserts the new messages of one forward sync page.
func (s *Store) InsertBatch(ctx context.Context, messages []models.Message) (int, error) {
	var inserted int
	err := s.withCommitMetrics(WithTx(ctx, s.pool, "insert message batch", func(tx pgx.Tx) error {
		n, err := InsertNewOnly(ctx, tx, messages)
		inserted = n
		return err
	}))
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// CommitBackfillBatch inserts the new messages of one backfill page and records the
// progress in the same transaction. On error neither is stored.
func (s *Store) CommitBackfillBatch(ctx context.Context, messages []models.Message, progress models.BackfillProgress) (int, error) {
	var inserted int
	err := s.withCommitMetrics(WithTx(ctx, s.pool, "commit backfill batch", func(tx pgx.Tx) error {
		n, err := InsertNewOnly(ctx, tx, messages)
		if err != nil {
			return err
		}
		inserted = n

		if progress.Complete {
			if progress.MaxID > 0 {
				if err := ExtendWatermarks(ctx, tx, progress.MinID, progress.MaxID); err != nil {
					return err
				}
			}
			return ClearBackfillToken(ctx, tx)
		}

		if progress.NextPageToken != nil {
			return SaveBackfillProgress(ctx, tx, *progress.NextPageToken, progress.MinID, progress.MaxID)
		}
		return ExtendWatermarks(ctx, tx, progress.MinID, progress.MaxID)
	}))
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) RecordForwardSync(ctx context.Context, at time.Time, newestID *int64) error {
	return RecordForwardSyncTime(ctx, s.pool, at, newestID)
}

func (s *Store) BackfillStatus(ctx context.Context) (*models.BackfillStatus, error) {
	return GetBackfillStatus(ctx, s.pool)
}

func (s *Store) ResetBackfill(ctx context.Context) error {
	return ResetBackfill(ctx, s.pool)
}

func (s *Store) withCommitMetrics(err error) error {
	if err != nil {
		metrics.BatchCommitsTotal.WithLabelValues("rollback").Inc()
		return err
	}
	metrics.BatchCommitsTotal.WithLabelValues("commit").Inc()
	return nil
}
