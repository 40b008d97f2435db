package groupsio

import "time"

// SortDirection is the order the source returns messages in.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// MaxPageSize is the largest page the getmessages endpoint will return.
const MaxPageSize = 100

// PageRequest describes one getmessages call.
type PageRequest struct {
	Limit     int
	PageToken *int64
	SortDir   SortDirection
}

// Page is one decoded getmessages response.
type Page struct {
	TotalCount    int64        `json:"total_count"`
	HasMore       bool         `json:"has_more"`
	NextPageToken *int64       `json:"next_page_token"`
	Data          []RawMessage `json:"data"`
}

// RawMessage is a message exactly as the API sends it. Hashtags and
// attachments are null rather than empty when a message has none.
type RawMessage struct {
	ID          int64           `json:"id"`
	TopicID     int64           `json:"topic_id"`
	GroupID     int64           `json:"group_id"`
	Created     *time.Time      `json:"created"`
	Updated     *time.Time      `json:"updated"`
	Subject     string          `json:"subject"`
	Body        string          `json:"body"`
	Snippet     string          `json:"snippet"`
	Name        string          `json:"name"`
	MsgNum      int             `json:"msg_num"`
	IsReply     bool            `json:"is_reply"`
	IsPlainText bool            `json:"is_plain_text"`
	ReplyTo     *string         `json:"reply_to"`
	Hashtags    []RawHashtag    `json:"hashtags"`
	Attachments []RawAttachment `json:"attachments"`
}

type RawHashtag struct {
	Name  string  `json:"name"`
	Color *string `json:"color"`
}

// RawAttachment carries no usable position; the order of the array is the position.
type RawAttachment struct {
	DownloadURL  string `json:"download_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Filename     string `json:"filename"`
	MediaType    string `json:"media_type"`
}
