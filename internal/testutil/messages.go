package testutil

import (
	"fmt"
	"time"

	"github.com/parkslope/psp/internal/models"
)

// NewMessage returns a stored-shape message with predictable content for the given id.
// Messages with higher ids are created later.
func NewMessage(id int64) models.Message {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Minute)
	email := fmt.Sprintf("user%d@example.com", id)
	return models.Message{
		ID:          id,
		TopicID:     id,
		GroupID:     8407,
		Created:     &created,
		Updated:     &created,
		Subject:     fmt.Sprintf("Message %d", id),
		Body:        fmt.Sprintf("<p>Body of message %d</p>", id),
		Snippet:     fmt.Sprintf("Body of message %d", id),
		Name:        fmt.Sprintf("User %d <%s>", id, email),
		SenderEmail: &email,
		MsgNum:      int(id),
		Hashtags:    []models.Hashtag{},
		Attachments: []models.Attachment{},
	}
}

// NewMessages returns NewMessage for every id in [from, to], newest first.
func NewMessages(from, to int64) []models.Message {
	var messages []models.Message
	for id := to; id >= from; id-- {
		messages = append(messages, NewMessage(id))
	}
	return messages
}
