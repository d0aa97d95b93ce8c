package handlers

import (
	"chatcord-backend/internal/hub"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handlers) GetUserInfo(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.GetUser(r.Context(), userIDFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (h *Handlers) UpdateUserInfo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username      string `json:"username" validate:"required,username"`
		StatusMessage string `json:"status_message" validate:"max=128"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	userID := userIDFrom(r)

	u, err := h.store.UpdateProfile(r.Context(), userID, req.Username, req.StatusMessage)
	if err != nil {
		h.fail(w, err)
		return
	}

	public := u
	public.Email = ""

	serverIDs, err := h.store.ServerIDsOf(r.Context(), userID)
	if err != nil {
		h.sugar.Error(err)
	}
	for _, serverID := range serverIDs {
		h.emit(r, hub.MemberModified, hub.Topic(hub.KindServer, fmt.Sprint(serverID)), public)
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

// GetUser shows another user's public profile, email stays private.
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "userId")
	if targetID == "" {
		writeError(w, http.StatusBadRequest, "Invalid userId")
		return
	}

	u, err := h.store.GetUser(r.Context(), targetID)
	if err != nil {
		h.fail(w, err)
		return
	}
	if targetID != userIDFrom(r) {
		u.Email = ""
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}
