package handlers

import (
	"net/http"
	"strconv"
)

// HandleWebSocket attaches the socket to the caller's feed session. Without a
// valid one the socket gets a fresh session that only it knows about.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	sessionID, ok := readSessionID(r)
	if !ok {
		sessionID, _ = strconv.ParseInt(r.URL.Query().Get("session"), 10, 64)
	}

	if sessionID != 0 {
		owner, err := h.kv.Get(r.Context(), sessionKey(sessionID))
		if err != nil {
			h.sugar.Error(err)
			writeError(w, http.StatusInternalServerError, "")
			return
		}
		if owner != userID {
			h.sugar.Debugf("User ID [%s] opened websocket with unknown session ID [%d]", userID, sessionID)
			sessionID = 0
		}
	}

	if sessionID == 0 {
		sessionID = h.ids.Generate()
		if err := h.kv.Set(r.Context(), sessionKey(sessionID), userID, sessionTTL); err != nil {
			h.sugar.Error(err)
			writeError(w, http.StatusInternalServerError, "")
			return
		}
	}

	h.hub.HandleClient(w, r, userID, sessionID)
}
