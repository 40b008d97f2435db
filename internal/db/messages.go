package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/parkslope/psp/internal/models"
)

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `
	m.id,
	COALESCE(m.topic_id, 0),
	COALESCE(m.group_id, 0),
	m.created,
	m.updated,
	COALESCE(m.subject, ''),
	COALESCE(m.body, ''),
	COALESCE(m.snippet, ''),
	COALESCE(m.name, ''),
	m.sender_email,
	COALESCE(m.msg_num, 0),
	m.is_reply,
	m.is_plain_text,
	m.reply_to
`

func scanMessage(row pgx.Row, msg *models.Message) error {
	return row.Scan(
		&msg.ID,
		&msg.TopicID,
		&msg.GroupID,
		&msg.Created,
		&msg.Updated,
		&msg.Subject,
		&msg.Body,
		&msg.Snippet,
		&msg.Name,
		&msg.SenderEmail,
		&msg.MsgNum,
		&msg.IsReply,
		&msg.IsPlainText,
		&msg.ReplyTo,
	)
}

func collectMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := scanMessage(rows, &msg); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// ListMessages returns messages newest first, narrowed by the filter. It fetches one row
// more than the limit so the caller can tell whether another page exists.
func ListMessages(ctx context.Context, q Querier, filter models.MessageFilter) ([]models.Message, bool, error) {
	var conditions []string
	var args []any

	if filter.Cursor != nil {
		args = append(args, *filter.Cursor)
		conditions = append(conditions, fmt.Sprintf("m.id < $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		conditions = append(conditions, fmt.Sprintf("m.created > $%d", len(args)))
	}
	if len(filter.Hashtags) > 0 {
		names := make([]string, len(filter.Hashtags))
		for i, h := range filter.Hashtags {
			names[i] = strings.ToLower(h)
		}
		args = append(args, names)
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM hashtags h WHERE h.message_id = m.id AND LOWER(h.name) = ANY($%d))", len(args)))
	}
	if filter.Search != "" {
		args = append(args, filter.Search)
		conditions = append(conditions, fmt.Sprintf("m.search_vector @@ plainto_tsquery('english', $%d)", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, filter.Limit+1)
	query := fmt.Sprintf(`
		SELECT %s
		FROM messages m
		%s
		ORDER BY m.id DESC
		LIMIT $%d
	`, messageColumns, where, len(args))

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list messages: %w", err)
	}

	messages, err := collectMessages(rows)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(messages) > filter.Limit
	if hasMore {
		messages = messages[:filter.Limit]
	}

	if err := attachRelated(ctx, q, messages); err != nil {
		return nil, false, err
	}

	return messages, hasMore, nil
}

// GetMessage returns one message with its hashtags and attachments.
func GetMessage(ctx context.Context, q Querier, id int64) (*models.Message, error) {
	var msg models.Message
	err := scanMessage(q.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = $1`, id), &msg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	messages := []models.Message{msg}
	if err := attachRelated(ctx, q, messages); err != nil {
		return nil, err
	}

	return &messages[0], nil
}

// GetTopicMessages returns every message of a topic, oldest first.
func GetTopicMessages(ctx context.Context, q Querier, topicID int64) ([]models.Message, error) {
	rows, err := q.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.topic_id = $1
		ORDER BY m.created ASC NULLS LAST, m.id ASC
	`, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to get topic messages: %w", err)
	}

	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	if err := attachRelated(ctx, q, messages); err != nil {
		return nil, err
	}

	return messages, nil
}

// attachRelated loads hashtags and attachments for all messages in two queries.
func attachRelated(ctx context.Context, q Querier, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	index := make(map[int64]*models.Message, len(messages))
	for i := range messages {
		messages[i].Hashtags = []models.Hashtag{}
		messages[i].Attachments = []models.Attachment{}
		index[messages[i].ID] = &messages[i]
	}
	ids := models.MessageIDs(messages)

	rows, err := q.Query(ctx, `
		SELECT message_id, name, color_hex
		FROM hashtags
		WHERE message_id = ANY($1)
		ORDER BY message_id, id
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to get hashtags: %w", err)
	}
	for rows.Next() {
		var h models.Hashtag
		if err := rows.Scan(&h.MessageID, &h.Name, &h.ColorHex); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan hashtag: %w", err)
		}
		msg := index[h.MessageID]
		msg.Hashtags = append(msg.Hashtags, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating hashtags: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT
			message_id,
			attachment_index,
			COALESCE(download_url, ''),
			COALESCE(thumbnail_url, ''),
			COALESCE(filename, ''),
			COALESCE(media_type, '')
		FROM attachments
		WHERE message_id = ANY($1)
		ORDER BY message_id, attachment_index
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to get attachments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.MessageID, &a.AttachmentIndex, &a.DownloadURL, &a.ThumbnailURL, &a.Filename, &a.MediaType); err != nil {
			return fmt.Errorf("failed to scan attachment: %w", err)
		}
		msg := index[a.MessageID]
		msg.Attachments = append(msg.Attachments, a)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating attachments: %w", err)
	}

	return nil
}

// ListHashtagCounts returns every hashtag with the number of messages carrying it,
// most used first. A limit of zero means no limit.
func ListHashtagCounts(ctx context.Context, q Querier, limit int) ([]models.HashtagCount, error) {
	query := `
		SELECT name, color_hex, COUNT(*) AS count
		FROM hashtags
		GROUP BY name, color_hex
		ORDER BY count DESC, name ASC
	`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list hashtags: %w", err)
	}
	defer rows.Close()

	counts := []models.HashtagCount{}
	for rows.Next() {
		var c models.HashtagCount
		if err := rows.Scan(&c.Name, &c.ColorHex, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan hashtag count: %w", err)
		}
		counts = append(counts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hashtag counts: %w", err)
	}

	return counts, nil
}
