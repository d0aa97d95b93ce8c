package handlers

import (
	"chatcord-backend/internal/hub"
	"chatcord-backend/internal/store"
	"fmt"
	"net/http"
)

func (h *Handlers) GetNotificationList(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	limit, err := queryInt(r, "limit", store.DefaultNotificationLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.follow(r, hub.KindNotifications, userID)

	notifications, err := h.store.ListNotifications(r.Context(), userID, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	unread, err := h.store.UnreadCount(r.Context(), userID)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": notifications,
		"unread":        unread,
	})
}

func (h *Handlers) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	notificationID, ok := urlID(w, r, "notificationId")
	if !ok {
		return
	}
	userID := userIDFrom(r)

	n, err := h.store.MarkNotificationRead(r.Context(), userID, notificationID)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.emit(r, hub.NotificationModified, hub.Topic(hub.KindNotifications, userID), n)

	writeJSON(w, http.StatusOK, map[string]any{"notification": n})
}

func (h *Handlers) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	changed, err := h.store.MarkAllNotificationsRead(r.Context(), userID)
	if err != nil {
		h.fail(w, err)
		return
	}

	topic := hub.Topic(hub.KindNotifications, userID)
	for _, n := range changed {
		h.emit(r, hub.NotificationModified, topic, n)
	}

	writeJSON(w, http.StatusOK, map[string]any{"updated": len(changed)})
}

func (h *Handlers) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	notificationID, ok := urlID(w, r, "notificationId")
	if !ok {
		return
	}
	userID := userIDFrom(r)

	if err := h.store.DeleteNotification(r.Context(), userID, notificationID); err != nil {
		h.fail(w, err)
		return
	}

	h.emit(r, hub.NotificationDeleted, hub.Topic(hub.KindNotifications, userID), map[string]string{"id": fmt.Sprint(notificationID)})

	w.WriteHeader(http.StatusNoContent)
}
