package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/parkslope/psp/internal/models"
)

// ExistingMessageIDs returns which of the given ids are already stored.
func ExistingMessageIDs(ctx context.Context, q Querier, ids []int64) (map[int64]bool, error) {
	existing := make(map[int64]bool)
	if len(ids) == 0 {
		return existing, nil
	}

	rows, err := q.Query(ctx, `SELECT id FROM messages WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing message ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan message id: %w", err)
		}
		existing[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message ids: %w", err)
	}

	return existing, nil
}

// InsertNewOnly stores the messages of the batch that are not stored yet, together with
// their hashtags and attachments, and returns how many were inserted. Existing rows are
// never overwritten. Run it inside a transaction (see Store) so the batch is all-or-nothing.
func InsertNewOnly(ctx context.Context, q Querier, messages []models.Message) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	existing, err := ExistingMessageIDs(ctx, q, models.MessageIDs(messages))
	if err != nil {
		return 0, err
	}

	fresh := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if existing[m.ID] {
			continue
		}
		// Pages can repeat a record; only the first copy counts.
		existing[m.ID] = true
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	inserted, err := insertMessageRows(ctx, q, fresh)
	if err != nil {
		return 0, err
	}

	if err := insertRelatedRows(ctx, q, fresh, inserted); err != nil {
		return 0, err
	}

	return len(inserted), nil
}

// insertMessageRows inserts the message rows and reports which ids were actually written.
// ON CONFLICT covers a concurrent writer that stored the same id in the meantime.
func insertMessageRows(ctx context.Context, q Querier, messages []models.Message) (map[int64]bool, error) {
	batch := &pgx.Batch{}
	for _, m := range messages {
		batch.Queue(`
			INSERT INTO messages (
				id,
				topic_id,
				group_id,
				created,
				updated,
				subject,
				body,
				snippet,
				name,
				sender_email,
				msg_num,
				is_reply,
				is_plain_text,
				reply_to
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO NOTHING
		`,
			m.ID,
			m.TopicID,
			m.GroupID,
			m.Created,
			m.Updated,
			m.Subject,
			m.Body,
			m.Snippet,
			m.Name,
			m.SenderEmail,
			m.MsgNum,
			m.IsReply,
			m.IsPlainText,
			m.ReplyTo,
		)
	}

	results := q.SendBatch(ctx, batch)
	inserted := make(map[int64]bool, len(messages))
	for _, m := range messages {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return nil, fmt.Errorf("failed to insert message %d: %w", m.ID, err)
		}
		if tag.RowsAffected() == 1 {
			inserted[m.ID] = true
		}
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("failed to insert messages: %w", err)
	}

	return inserted, nil
}

func insertRelatedRows(ctx context.Context, q Querier, messages []models.Message, inserted map[int64]bool) error {
	batch := &pgx.Batch{}
	for _, m := range messages {
		if !inserted[m.ID] {
			continue
		}
		for _, h := range m.Hashtags {
			batch.Queue(`
				INSERT INTO hashtags (message_id, name, color_hex)
				VALUES ($1, $2, $3)
			`, m.ID, h.Name, h.ColorHex)
		}
		for _, a := range m.Attachments {
			batch.Queue(`
				INSERT INTO attachments (message_id, attachment_index, download_url, thumbnail_url, filename, media_type)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, m.ID, a.AttachmentIndex, a.DownloadURL, a.ThumbnailURL, a.Filename, a.MediaType)
		}
	}

	if batch.Len() == 0 {
		return nil
	}

	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert hashtags and attachments: %w", err)
	}

	return nil
}
