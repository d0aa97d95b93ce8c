package handlers

import (
	"chatcord-backend/internal/hub"
	"chatcord-backend/internal/models"
	"chatcord-backend/internal/store"
	"chatcord-backend/internal/validator"
	"fmt"
	"net/http"

	"github.com/samber/lo"
)

func (h *Handlers) GetMessageList(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	channelID, err := parseID(r.URL.Query().Get("channelId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid channel ID")
		return
	}
	limit, err := queryInt(r, "limit", store.DefaultMessageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// subscribe before reading, a message written in between is then pushed
	// as well as listed
	if _, err := h.store.ChannelAccess(r.Context(), channelID, userID); err != nil {
		h.fail(w, err)
		return
	}
	h.follow(r, hub.KindChannel, fmt.Sprint(channelID))

	messages, err := h.store.ListMessages(r.Context(), userID, channelID, limit, offset)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *Handlers) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelID int64  `json:"channelId,string" validate:"required"`
		Content   string `json:"content"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := validator.MessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := userIDFrom(r)

	msg, ch, err := h.store.CreateMessage(r.Context(), userID, req.ChannelID, req.Content)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.emit(r, hub.MessageCreated, hub.Topic(hub.KindChannel, fmt.Sprint(ch.ID)), msg)
	h.notifyMentions(r, msg, ch)

	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

// notifyMentions tells server members named with @username in the message.
func (h *Handlers) notifyMentions(r *http.Request, msg models.Message, ch models.Channel) {
	usernames := validator.Mentions(msg.Content)
	if len(usernames) == 0 {
		return
	}

	mentioned, err := h.store.MembersByUsername(r.Context(), ch.ServerID, usernames)
	if err != nil {
		h.sugar.Error(err)
		return
	}

	author := msg.UserID
	if msg.User != nil {
		author = msg.User.Username
	}

	others := lo.Filter(mentioned, func(u models.User, _ int) bool { return u.ID != msg.UserID })
	for _, u := range others {
		n, err := h.store.CreateNotification(r.Context(), models.Notification{
			UserID:           u.ID,
			Kind:             models.NotifyMention,
			RelatedUserID:    msg.UserID,
			RelatedMessageID: msg.ID,
			Content:          fmt.Sprintf("%s mentioned you in #%s", author, ch.Name),
		})
		if err != nil {
			h.sugar.Error(err)
			continue
		}
		h.emit(r, hub.NotificationCreated, hub.Topic(hub.KindNotifications, u.ID), n)
	}
}

func (h *Handlers) EditMessage(w http.ResponseWriter, r *http.Request) {
	messageID, ok := urlID(w, r, "messageId")
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := validator.MessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.store.EditMessage(r.Context(), userIDFrom(r), messageID, req.Content)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.emit(r, hub.MessageModified, hub.Topic(hub.KindChannel, fmt.Sprint(msg.ChannelID)), msg)

	writeJSON(w, http.StatusOK, map[string]any{"message": msg})
}

func (h *Handlers) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID, ok := urlID(w, r, "messageId")
	if !ok {
		return
	}

	msg, err := h.store.DeleteMessage(r.Context(), userIDFrom(r), messageID)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.emit(r, hub.MessageDeleted, hub.Topic(hub.KindChannel, fmt.Sprint(msg.ChannelID)), msg)

	w.WriteHeader(http.StatusNoContent)
}
