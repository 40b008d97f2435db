package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/parkslope/psp/internal/db"
	"github.com/parkslope/psp/internal/models"
	"github.com/sirupsen/logrus"
)

// MessagesHandler serves the message list, message detail and topic endpoints.
type MessagesHandler struct {
	q   db.Querier
	log logrus.FieldLogger
}

// NewMessagesHandler creates a new MessagesHandler instance.
func NewMessagesHandler(q db.Querier, log logrus.FieldLogger) *MessagesHandler {
	return &MessagesHandler{q: q, log: log.WithField("handler", "messages")}
}

// ListMessages returns a page of message summaries, newest first. Pass next_cursor
// back as cursor to get the following page.
func (h *MessagesHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseMessageFilter(r)
	if err != nil {
		writeError(w, h.log, http.StatusBadRequest, err.Error())
		return
	}

	messages, hasMore, err := db.ListMessages(r.Context(), h.q, filter)
	if err != nil {
		h.log.WithError(err).Error("Failed to list messages")
		writeError(w, h.log, http.StatusInternalServerError, "Internal server error")
		return
	}

	response := models.MessagesResponse{
		Messages: make([]models.MessageSummary, 0, len(messages)),
		HasMore:  hasMore,
	}
	for _, m := range messages {
		response.Messages = append(response.Messages, toSummary(m))
	}
	if hasMore && len(messages) > 0 {
		next := strconv.FormatInt(messages[len(messages)-1].ID, 10)
		response.NextCursor = &next
	}

	h.log.WithFields(logrus.Fields{
		"count":    len(response.Messages),
		"has_more": hasMore,
		"hashtags": filter.Hashtags,
		"search":   filter.Search != "",
	}).Debug("Listed messages")

	w.Header().Set("Cache-Control", "private, max-age=30")
	WriteJSONResponse(w, h.log, http.StatusOK, response)
}

// GetMessage returns one message with its full body.
func (h *MessagesHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	msg, err := db.GetMessage(r.Context(), h.q, id)
	if errors.Is(err, db.ErrMessageNotFound) {
		writeError(w, h.log, http.StatusNotFound, "Message not found")
		return
	}
	if err != nil {
		h.log.WithError(err).Error("Failed to get message")
		writeError(w, h.log, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=60")
	WriteJSONResponse(w, h.log, http.StatusOK, toDetail(*msg))
}

// GetTopicMessages returns a whole conversation, oldest first.
func (h *MessagesHandler) GetTopicMessages(w http.ResponseWriter, r *http.Request) {
	topicID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	messages, err := db.GetTopicMessages(r.Context(), h.q, topicID)
	if err != nil {
		h.log.WithError(err).Error("Failed to get topic messages")
		writeError(w, h.log, http.StatusInternalServerError, "Internal server error")
		return
	}
	if len(messages) == 0 {
		writeError(w, h.log, http.StatusNotFound, "Topic not found")
		return
	}

	response := models.TopicMessagesResponse{
		TopicID:  topicID,
		Messages: make([]models.MessageDetail, 0, len(messages)),
		Count:    len(messages),
	}
	for _, m := range messages {
		response.Messages = append(response.Messages, toDetail(m))
	}

	WriteJSONResponse(w, h.log, http.StatusOK, response)
}

func (h *MessagesHandler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, h.log, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
