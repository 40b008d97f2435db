package db

import (
	"context"
	"fmt"
	"time"

	"github.com/parkslope/psp/internal/models"
)

// GetSyncState returns the singleton sync state row.
func GetSyncState(ctx context.Context, q Querier) (*models.SyncState, error) {
	var state models.SyncState
	err := q.QueryRow(ctx, `
		SELECT last_fetch_at, newest_message_id, oldest_message_id, backfill_page_token, backfill_completed_at
		FROM sync_state
		WHERE id = 1
	`).Scan(
		&state.LastFetchAt,
		&state.NewestMessageID,
		&state.OldestMessageID,
		&state.BackfillPageToken,
		&state.BackfillCompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}

	return &state, nil
}

// LoadBackfillToken returns the token the next backfill request resumes from, or nil.
func LoadBackfillToken(ctx context.Context, q Querier) (*int64, error) {
	var token *int64
	err := q.QueryRow(ctx, `SELECT backfill_page_token FROM sync_state WHERE id = 1`).Scan(&token)
	if err != nil {
		return nil, fmt.Errorf("failed to load backfill token: %w", err)
	}

	return token, nil
}

// SaveBackfillProgress stores the next token and widens the id watermarks to cover
// [minID, maxID]. Watermarks only ever grow outward.
func SaveBackfillProgress(ctx context.Context, q Querier, token, minID, maxID int64) error {
	_, err := q.Exec(ctx, `
		INSERT INTO sync_state (id, backfill_page_token, oldest_message_id, newest_message_id)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			backfill_page_token = EXCLUDED.backfill_page_token,
			oldest_message_id = LEAST(sync_state.oldest_message_id, EXCLUDED.oldest_message_id),
			newest_message_id = GREATEST(sync_state.newest_message_id, EXCLUDED.newest_message_id)
	`, token, minID, maxID)
	if err != nil {
		return fmt.Errorf("failed to save backfill progress: %w", err)
	}

	return nil
}

// ExtendWatermarks widens the stored id watermarks without touching the token.
func ExtendWatermarks(ctx context.Context, q Querier, minID, maxID int64) error {
	_, err := q.Exec(ctx, `
		UPDATE sync_state SET
			oldest_message_id = LEAST(oldest_message_id, $1),
			newest_message_id = GREATEST(newest_message_id, $2)
		WHERE id = 1
	`, minID, maxID)
	if err != nil {
		return fmt.Errorf("failed to extend watermarks: %w", err)
	}

	return nil
}

// ClearBackfillToken marks the backfill complete. Later runs are no-ops until ResetBackfill.
func ClearBackfillToken(ctx context.Context, q Querier) error {
	_, err := q.Exec(ctx, `
		UPDATE sync_state SET
			backfill_page_token = NULL,
			backfill_completed_at = NOW()
		WHERE id = 1
	`)
	if err != nil {
		return fmt.Errorf("failed to clear backfill token: %w", err)
	}

	return nil
}

// RecordForwardSyncTime stamps the last forward sync and raises the newest watermark.
func RecordForwardSyncTime(ctx context.Context, q Querier, at time.Time, newestID *int64) error {
	_, err := q.Exec(ctx, `
		UPDATE sync_state SET
			last_fetch_at = $1,
			newest_message_id = GREATEST(newest_message_id, $2)
		WHERE id = 1
	`, at, newestID)
	if err != nil {
		return fmt.Errorf("failed to record forward sync: %w", err)
	}

	return nil
}

// ResetBackfill makes the next backfill start again from the newest message.
// Stored messages are kept.
func ResetBackfill(ctx context.Context, q Querier) error {
	_, err := q.Exec(ctx, `
		UPDATE sync_state SET
			backfill_page_token = NULL,
			backfill_completed_at = NULL,
			oldest_message_id = NULL
		WHERE id = 1
	`)
	if err != nil {
		return fmt.Errorf("failed to reset backfill: %w", err)
	}

	return nil
}

// GetBackfillStatus reports backfill progress. The id range comes from the stored
// messages and falls back to the watermarks when there are none.
func GetBackfillStatus(ctx context.Context, q Querier) (*models.BackfillStatus, error) {
	state, err := GetSyncState(ctx, q)
	if err != nil {
		return nil, err
	}

	var status models.BackfillStatus
	var minID, maxID *int64
	err = q.QueryRow(ctx, `SELECT COUNT(*), MIN(id), MAX(id) FROM messages`).Scan(&status.MessagesCount, &minID, &maxID)
	if err != nil {
		return nil, fmt.Errorf("failed to get message id range: %w", err)
	}

	status.OldestMessageID = minID
	if status.OldestMessageID == nil {
		status.OldestMessageID = state.OldestMessageID
	}
	status.NewestMessageID = maxID
	if status.NewestMessageID == nil {
		status.NewestMessageID = state.NewestMessageID
	}
	status.BackfillPageToken = state.BackfillPageToken
	status.IsComplete = state.BackfillComplete()
	status.CompletedAt = state.BackfillCompletedAt
	status.LastFetchAt = state.LastFetchAt

	return &status, nil
}
