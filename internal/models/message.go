package models

import "time"

// Message is a single group message as stored locally. Once inserted it is never updated.
type Message struct {
	ID          int64        `json:"id"`
	TopicID     int64        `json:"topic_id"`
	GroupID     int64        `json:"group_id"`
	Created     *time.Time   `json:"created"`
	Updated     *time.Time   `json:"updated"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Snippet     string       `json:"snippet"`
	Name        string       `json:"name"`
	SenderEmail *string      `json:"sender_email"`
	MsgNum      int          `json:"msg_num"`
	IsReply     bool         `json:"is_reply"`
	IsPlainText bool         `json:"is_plain_text"`
	ReplyTo     *string      `json:"reply_to"`
	Hashtags    []Hashtag    `json:"hashtags"`
	Attachments []Attachment `json:"attachments"`
}

type Hashtag struct {
	MessageID int64   `json:"-"`
	Name      string  `json:"name"`
	ColorHex  *string `json:"color_hex"`
}

type Attachment struct {
	MessageID       int64  `json:"-"`
	AttachmentIndex int    `json:"attachment_index"`
	DownloadURL     string `json:"download_url"`
	ThumbnailURL    string `json:"thumbnail_url"`
	Filename        string `json:"filename"`
	MediaType       string `json:"media_type"`
}

// MessageIDs returns the ids of the given messages in order.
func MessageIDs(messages []Message) []int64 {
	ids := make([]int64, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}
	return ids
}

// IDRange returns the smallest and largest id in the batch.
// ok is false for an empty batch.
func IDRange(messages []Message) (minID, maxID int64, ok bool) {
	if len(messages) == 0 {
		return 0, 0, false
	}
	minID, maxID = messages[0].ID, messages[0].ID
	for _, m := range messages[1:] {
		if m.ID < minID {
			minID = m.ID
		}
		if m.ID > maxID {
			maxID = m.ID
		}
	}
	return minID, maxID, true
}
