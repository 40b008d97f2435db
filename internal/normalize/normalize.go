// Package normalize turns raw groups.io records into stored messages and
// derives the fields the mobile client shows (sender email, price, category).
package normalize

import (
	"regexp"
	"strings"

	"github.com/parkslope/psp/internal/groupsio"
	"github.com/parkslope/psp/internal/models"
)

var (
	bracketedEmail = regexp.MustCompile(`<([^>]+@[^>]+)>`)
	bareEmail      = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9-]+(?:\.[A-Za-z0-9-]+)+`)

	// Tried in order, first match wins.
	pricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\$[\d,]+(?:\.\d{2})?`),
		regexp.MustCompile(`(?i)asking\s*\$?[\d,]+`),
		regexp.MustCompile(`(?i)[\d,]+\s*(?:dollars|obo)`),
	}
)

// ToMessage converts a raw API record into a Message. Null hashtag and
// attachment lists become empty ones and attachments are indexed by array position.
func ToMessage(raw groupsio.RawMessage) models.Message {
	msg := models.Message{
		ID:          raw.ID,
		TopicID:     raw.TopicID,
		GroupID:     raw.GroupID,
		Created:     raw.Created,
		Updated:     raw.Updated,
		Subject:     raw.Subject,
		Body:        raw.Body,
		Snippet:     raw.Snippet,
		Name:        raw.Name,
		SenderEmail: ExtractEmail(raw.Name),
		MsgNum:      raw.MsgNum,
		IsReply:     raw.IsReply,
		IsPlainText: raw.IsPlainText,
		ReplyTo:     raw.ReplyTo,
		Hashtags:    make([]models.Hashtag, 0, len(raw.Hashtags)),
		Attachments: make([]models.Attachment, 0, len(raw.Attachments)),
	}

	for _, tag := range raw.Hashtags {
		msg.Hashtags = append(msg.Hashtags, models.Hashtag{
			MessageID: raw.ID,
			Name:      tag.Name,
			ColorHex:  tag.Color,
		})
	}

	for i, att := range raw.Attachments {
		msg.Attachments = append(msg.Attachments, models.Attachment{
			MessageID:       raw.ID,
			AttachmentIndex: i,
			DownloadURL:     att.DownloadURL,
			ThumbnailURL:    att.ThumbnailURL,
			Filename:        att.Filename,
			MediaType:       att.MediaType,
		})
	}

	return msg
}

// ToMessages converts a whole page.
func ToMessages(raw []groupsio.RawMessage) []models.Message {
	messages := make([]models.Message, 0, len(raw))
	for _, r := range raw {
		messages = append(messages, ToMessage(r))
	}
	return messages
}

// ExtractEmail returns the address in "Display Name <email>" or a bare address.
func ExtractEmail(name string) *string {
	if m := bracketedEmail.FindStringSubmatch(name); m != nil {
		email := strings.TrimSpace(m[1])
		return &email
	}
	if email := bareEmail.FindString(name); email != "" {
		return &email
	}
	return nil
}

// ExtractPrice returns the first price found in the subject followed by the body.
func ExtractPrice(subject, body string) *string {
	text := subject + " " + body
	for _, pattern := range pricePatterns {
		if match := pattern.FindString(text); match != "" {
			return &match
		}
	}
	return nil
}

// Category derives the listing category from a message's hashtags.
func Category(hashtags []models.Hashtag) *string {
	names := make(map[string]bool, len(hashtags))
	for _, h := range hashtags {
		names[strings.ToLower(h.Name)] = true
	}

	var category string
	switch {
	case names["forsale"]:
		category = "ForSale"
	case names["forfree"]:
		category = "ForFree"
	case names["iso"]:
		category = "ISO"
	default:
		return nil
	}
	return &category
}
