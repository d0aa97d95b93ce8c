package handlers

import (
	"chatcord-backend/internal/hub"
	"chatcord-backend/internal/models"
	"net/http"
)

func (h *Handlers) GetPresenceList(w http.ResponseWriter, r *http.Request) {
	h.follow(r, hub.KindPresence, "")

	list, err := h.store.ListPresence(r.Context(), userIDFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"presence": list})
}

func (h *Handlers) UpdatePresence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status        models.UserStatus `json:"status" validate:"required"`
		ChannelID     int64             `json:"channel_id,string,omitempty"`
		StatusMessage *string           `json:"status_message" validate:"omitempty,max=128"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	p, err := h.presence.Update(r.Context(), userIDFrom(r), req.Status, req.ChannelID, req.StatusMessage)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"presence": p})
}
