package models

import "time"

// MessageSummary is the list-view shape of a message. The body is left out.
type MessageSummary struct {
	ID          int64        `json:"id"`
	Subject     string       `json:"subject"`
	Snippet     string       `json:"snippet"`
	Created     *time.Time   `json:"created"`
	Name        string       `json:"name"`
	SenderEmail *string      `json:"sender_email"`
	IsReply     bool         `json:"is_reply"`
	Hashtags    []Hashtag    `json:"hashtags"`
	Attachments []Attachment `json:"attachments"`
	Price       *string      `json:"price"`
	Category    *string      `json:"category"`
}

// MessageDetail is the full message returned by the detail and topic endpoints.
type MessageDetail struct {
	MessageSummary
	Body    string  `json:"body"`
	TopicID int64   `json:"topic_id"`
	MsgNum  int     `json:"msg_num"`
	ReplyTo *string `json:"reply_to"`
}

type MessagesResponse struct {
	Messages   []MessageSummary `json:"messages"`
	HasMore    bool             `json:"has_more"`
	NextCursor *string          `json:"next_cursor"`
}

type TopicMessagesResponse struct {
	TopicID  int64           `json:"topic_id"`
	Messages []MessageDetail `json:"messages"`
	Count    int             `json:"count"`
}

type HashtagCount struct {
	Name     string  `json:"name"`
	ColorHex *string `json:"color_hex"`
	Count    int64   `json:"count"`
}

type HashtagsResponse struct {
	Hashtags    []HashtagCount `json:"hashtags"`
	TotalUnique int            `json:"total_unique"`
}

// MessageFilter holds the list endpoint's query parameters after validation.
type MessageFilter struct {
	Limit    int
	Cursor   *int64
	Since    *time.Time
	Hashtags []string
	Search   string
}

// Stats summarizes what is stored and how far syncing has progressed.
type Stats struct {
	Messages       MessageStats     `json:"messages"`
	Sync           BackfillStatus   `json:"sync"`
	Hashtags       []HashtagCount   `json:"top_hashtags"`
	UniqueHashtags int64            `json:"unique_hashtags"`
	Categories     map[string]int64 `json:"categories"`
}

type MessageStats struct {
	TotalCount      int64      `json:"total_count"`
	MinID           *int64     `json:"min_id"`
	MaxID           *int64     `json:"max_id"`
	OldestDate      *time.Time `json:"oldest_date"`
	NewestDate      *time.Time `json:"newest_date"`
	Last24Hours     int64      `json:"last_24h"`
	Last7Days       int64      `json:"last_7d"`
	Originals       int64      `json:"originals"`
	Replies         int64      `json:"replies"`
	WithAttachments int64      `json:"with_attachments"`
}
