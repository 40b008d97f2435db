package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parkslope/psp/internal/models"
	"github.com/parkslope/psp/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMessages(t *testing.T, q Querier) {
	t.Helper()

	messages := testutil.NewMessages(1, 6)
	for i := range messages {
		msg := &messages[i]
		switch msg.ID {
		case 6:
			msg.Hashtags = []models.Hashtag{{MessageID: 6, Name: "ForSale"}}
			msg.Subject = "Selling a red bicycle"
			msg.Attachments = []models.Attachment{
				{MessageID: 6, AttachmentIndex: 0, Filename: "bike.jpg"},
				{MessageID: 6, AttachmentIndex: 1, Filename: "bike2.jpg"},
			}
		case 5:
			msg.Hashtags = []models.Hashtag{{MessageID: 5, Name: "ISO"}}
			msg.Subject = "Looking for a stroller"
		case 4:
			msg.Hashtags = []models.Hashtag{{MessageID: 4, Name: "forsale"}, {MessageID: 4, Name: "Furniture"}}
		case 2, 3:
			msg.TopicID = 1
			msg.IsReply = true
		}
	}

	_, err := InsertNewOnly(context.Background(), q, messages)
	require.NoError(t, err)
}

func TestListMessages(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	seedMessages(t, pool)

	ids := func(messages []models.Message) []int64 {
		return models.MessageIDs(messages)
	}

	tests := []struct {
		name        string
		filter      models.MessageFilter
		expectedIDs []int64
		hasMore     bool
	}{
		{
			name:        "newest first with more pages",
			filter:      models.MessageFilter{Limit: 4},
			expectedIDs: []int64{6, 5, 4, 3},
			hasMore:     true,
		},
		{
			name:        "cursor is an exclusive upper bound",
			filter:      models.MessageFilter{Limit: 4, Cursor: int64Ptr(3)},
			expectedIDs: []int64{2, 1},
			hasMore:     false,
		},
		{
			name:        "hashtags match any, case-insensitive",
			filter:      models.MessageFilter{Limit: 10, Hashtags: []string{"FORSALE", "iso"}},
			expectedIDs: []int64{6, 5, 4},
		},
		{
			name:        "full-text search",
			filter:      models.MessageFilter{Limit: 10, Search: "bicycle"},
			expectedIDs: []int64{6},
		},
		{
			name: "since",
			filter: func() models.MessageFilter {
				since := *testutil.NewMessage(4).Created
				return models.MessageFilter{Limit: 10, Since: &since}
			}(),
			expectedIDs: []int64{6, 5},
		},
		{
			name:        "no match",
			filter:      models.MessageFilter{Limit: 10, Search: "helicopter"},
			expectedIDs: []int64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messages, hasMore, err := ListMessages(ctx, pool, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedIDs, ids(messages))
			assert.Equal(t, tt.hasMore, hasMore)
		})
	}

	t.Run("loads related rows in order", func(t *testing.T) {
		messages, _, err := ListMessages(ctx, pool, models.MessageFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "ForSale", messages[0].Hashtags[0].Name)
		require.Len(t, messages[0].Attachments, 2)
		assert.Equal(t, "bike.jpg", messages[0].Attachments[0].Filename)
		assert.Equal(t, 1, messages[0].Attachments[1].AttachmentIndex)
	})
}

func TestGetMessage(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	seedMessages(t, pool)

	msg, err := GetMessage(ctx, pool, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), msg.ID)
	assert.Equal(t, "<p>Body of message 4</p>", msg.Body)
	assert.Len(t, msg.Hashtags, 2)
	assert.NotNil(t, msg.Attachments)
	require.NotNil(t, msg.SenderEmail)
	assert.Equal(t, "user4@example.com", *msg.SenderEmail)

	_, err = GetMessage(ctx, pool, 99999)
	assert.True(t, errors.Is(err, ErrMessageNotFound))
}

func TestGetTopicMessages(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	seedMessages(t, pool)

	messages, err := GetTopicMessages(ctx, pool, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, models.MessageIDs(messages))

	messages, err = GetTopicMessages(ctx, pool, 424242)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestListHashtagCounts(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	seedMessages(t, pool)

	counts, err := ListHashtagCounts(ctx, pool, 0)
	require.NoError(t, err)
	require.Len(t, counts, 4)
	for _, c := range counts {
		assert.Equal(t, int64(1), c.Count)
	}

	counts, err = ListHashtagCounts(ctx, pool, 2)
	require.NoError(t, err)
	assert.Len(t, counts, 2)
}

func TestGetStats(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	seedMessages(t, pool)
	require.NoError(t, RecordForwardSyncTime(ctx, pool, time.Now(), int64Ptr(6)))

	stats, err := GetStats(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.Messages.TotalCount)
	assert.Equal(t, int64Ptr(1), stats.Messages.MinID)
	assert.Equal(t, int64Ptr(6), stats.Messages.MaxID)
	assert.Equal(t, int64(4), stats.Messages.Originals)
	assert.Equal(t, int64(2), stats.Messages.Replies)
	assert.Equal(t, int64(1), stats.Messages.WithAttachments)
	assert.Equal(t, int64(0), stats.Messages.Last24Hours)
	assert.Equal(t, int64(4), stats.UniqueHashtags)
	assert.Equal(t, map[string]int64{"forsale": 2, "forfree": 0, "iso": 1}, stats.Categories)
	assert.NotNil(t, stats.Sync.LastFetchAt)
	assert.Len(t, stats.Hashtags, 4)
}
