package models

import "time"

// SyncState is the singleton row that tracks forward sync and backfill progress.
type SyncState struct {
	LastFetchAt         *time.Time `json:"last_fetch_at"`
	NewestMessageID     *int64     `json:"newest_message_id"`
	OldestMessageID     *int64     `json:"oldest_message_id"`
	BackfillPageToken   *int64     `json:"backfill_page_token"`
	BackfillCompletedAt *time.Time `json:"backfill_completed_at"`
}

// BackfillComplete reports whether a previous backfill walked the whole history.
// A nil token alone is ambiguous, so the completion timestamp decides.
func (s *SyncState) BackfillComplete() bool {
	return s != nil && s.BackfillPageToken == nil && s.BackfillCompletedAt != nil
}

// BackfillProgress is the state change committed together with one backfill batch.
type BackfillProgress struct {
	// NextPageToken is where the next run resumes. Nil leaves the stored token untouched.
	NextPageToken *int64
	// MinID and MaxID span the whole fetched page. Both are zero for an empty page.
	MinID int64
	MaxID int64
	// Complete clears the token and stamps the completion time.
	Complete bool
}

// BackfillStatus is the operator-facing view of backfill progress.
type BackfillStatus struct {
	MessagesCount     int64      `json:"messages_count"`
	OldestMessageID   *int64     `json:"oldest_message_id"`
	NewestMessageID   *int64     `json:"newest_message_id"`
	BackfillPageToken *int64     `json:"backfill_page_token"`
	IsComplete        bool       `json:"is_complete"`
	CompletedAt       *time.Time `json:"completed_at"`
	LastFetchAt       *time.Time `json:"last_fetch_at"`
}
