package handlers

import (
	"chatcord-backend/internal/hub"
	"fmt"
	"net/http"
)

func (h *Handlers) GetMemberList(w http.ResponseWriter, r *http.Request) {
	serverID, ok := urlID(w, r, "serverId")
	if !ok {
		return
	}

	if err := h.requireMember(r.Context(), serverID, userIDFrom(r)); err != nil {
		h.fail(w, err)
		return
	}

	h.follow(r, hub.KindServer, fmt.Sprint(serverID))

	members, err := h.store.ListMembers(r.Context(), serverID)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}
