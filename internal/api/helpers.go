package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/parkslope/psp/internal/models"
	"github.com/parkslope/psp/internal/normalize"
	"github.com/sirupsen/logrus"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ParseMessageFilter validates the list endpoint's query parameters.
func ParseMessageFilter(r *http.Request) (models.MessageFilter, error) {
	query := r.URL.Query()
	filter := models.MessageFilter{Limit: defaultListLimit}

	if limitStr := query.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 || parsed > maxListLimit {
			return filter, fmt.Errorf("limit must be an integer between 1 and %d", maxListLimit)
		}
		filter.Limit = parsed
	}

	if cursorStr := query.Get("cursor"); cursorStr != "" {
		parsed, err := strconv.ParseInt(cursorStr, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid cursor format")
		}
		filter.Cursor = &parsed
	}

	if sinceStr := query.Get("since"); sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return filter, fmt.Errorf("since must be an RFC 3339 timestamp")
		}
		filter.Since = &parsed
	}

	if hashtags := query.Get("hashtags"); hashtags != "" {
		for _, h := range strings.Split(hashtags, ",") {
			if h = strings.TrimSpace(h); h != "" {
				filter.Hashtags = append(filter.Hashtags, strings.ToLower(h))
			}
		}
	}

	filter.Search = strings.TrimSpace(query.Get("search"))

	return filter, nil
}

// WriteJSONResponse encodes to a buffer first so a failed encode never sends a partial body.
// Returns false if nothing could be written.
func WriteJSONResponse(w http.ResponseWriter, log logrus.FieldLogger, status int, response any) bool {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(response); err != nil {
		log.WithError(err).Error("Failed to encode response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.WithError(err).Warn("Failed to write response")
		return false
	}
	return true
}

// writeError sends {"detail": message}.
func writeError(w http.ResponseWriter, log logrus.FieldLogger, status int, message string) {
	WriteJSONResponse(w, log, status, map[string]string{"detail": message})
}

func toSummary(m models.Message) models.MessageSummary {
	return models.MessageSummary{
		ID:          m.ID,
		Subject:     m.Subject,
		Snippet:     m.Snippet,
		Created:     m.Created,
		Name:        m.Name,
		SenderEmail: m.SenderEmail,
		IsReply:     m.IsReply,
		Hashtags:    m.Hashtags,
		Attachments: m.Attachments,
		Price:       normalize.ExtractPrice(m.Subject, m.Body),
		Category:    normalize.Category(m.Hashtags),
	}
}

func toDetail(m models.Message) models.MessageDetail {
	return models.MessageDetail{
		MessageSummary: toSummary(m),
		Body:           m.Body,
		TopicID:        m.TopicID,
		MsgNum:         m.MsgNum,
		ReplyTo:        m.ReplyTo,
	}
}
