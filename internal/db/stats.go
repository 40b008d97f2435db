package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/parkslope/psp/internal/models"
)

const topHashtagsLimit = 10

// GetStats collects message, sync and hashtag statistics.
func GetStats(ctx context.Context, q Querier) (*models.Stats, error) {
	var stats models.Stats
	m := &stats.Messages

	err := q.QueryRow(ctx, `
		SELECT
			COUNT(*),
			MIN(id),
			MAX(id),
			MIN(created),
			MAX(created),
			COUNT(*) FILTER (WHERE created > NOW() - INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE created > NOW() - INTERVAL '7 days'),
			COUNT(*) FILTER (WHERE NOT is_reply),
			COUNT(*) FILTER (WHERE is_reply)
		FROM messages
	`).Scan(
		&m.TotalCount,
		&m.MinID,
		&m.MaxID,
		&m.OldestDate,
		&m.NewestDate,
		&m.Last24Hours,
		&m.Last7Days,
		&m.Originals,
		&m.Replies,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get message stats: %w", err)
	}

	err = q.QueryRow(ctx, `SELECT COUNT(DISTINCT message_id) FROM attachments`).Scan(&m.WithAttachments)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages with attachments: %w", err)
	}

	status, err := GetBackfillStatus(ctx, q)
	if err != nil {
		return nil, err
	}
	stats.Sync = *status

	stats.Hashtags, err = ListHashtagCounts(ctx, q, topHashtagsLimit)
	if err != nil {
		return nil, err
	}

	err = q.QueryRow(ctx, `SELECT COUNT(DISTINCT name) FROM hashtags`).Scan(&stats.UniqueHashtags)
	if err != nil {
		return nil, fmt.Errorf("failed to count unique hashtags: %w", err)
	}

	stats.Categories, err = categoryCounts(ctx, q)
	if err != nil {
		return nil, err
	}

	return &stats, nil
}

func categoryCounts(ctx context.Context, q Querier) (map[string]int64, error) {
	categories := map[string]int64{"forsale": 0, "forfree": 0, "iso": 0}

	rows, err := q.Query(ctx, `
		SELECT LOWER(name), COUNT(*)
		FROM hashtags
		WHERE LOWER(name) IN ('forsale', 'forfree', 'iso')
		GROUP BY LOWER(name)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		categories[strings.ToLower(name)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category counts: %w", err)
	}

	return categories, nil
}
