package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	sessionTTL     = 24 * time.Hour
	streamTokenTTL = time.Hour
)

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NewSession hands out a feed session ID, the websocket and the list
// handlers share it so reading something subscribes the socket to it.
func (h *Handlers) NewSession(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	sessionID := h.ids.Generate()

	if err := h.kv.Set(r.Context(), sessionKey(sessionID), userID, sessionTTL); err != nil {
		h.sugar.Error(err)
		writeError(w, http.StatusInternalServerError, "")
		return
	}

	cookie := http.Cookie{
		Name:     sessionCookie,
		Value:    fmt.Sprint(sessionID),
		Path:     "/",
		MaxAge:   int(sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.securedCookies(r),
		SameSite: http.SameSiteLaxMode,
	}
	http.SetCookie(w, &cookie)

	h.sugar.Debugf("User ID [%s] got session ID [%d]", userID, sessionID)
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": fmt.Sprint(sessionID)})
}

// securedCookies reports whether the browser reaches us over https, either
// directly or through the proxy in front.
func (h *Handlers) securedCookies(r *http.Request) bool {
	if r.TLS != nil || (h.cfg.TlsCert != "" && h.cfg.TlsKey != "") {
		return true
	}
	return h.cfg.BehindNginx && r.Header.Get("X-Forwarded-Proto") == "https"
}

// StreamToken gives a short lived token that opens the websocket without cookies.
func (h *Handlers) StreamToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	userID := userIDFrom(r)
	if req.UserID != userID {
		h.sugar.Warnf("User ID [%s] asked for a stream token of user ID [%s]", userID, req.UserID)
		writeError(w, http.StatusUnauthorized, "Can only get a stream token for yourself")
		return
	}

	token := uuid.NewString()
	if err := h.kv.Set(r.Context(), streamTokenKey(token), userID, streamTokenTTL); err != nil {
		h.sugar.Error(err)
		writeError(w, http.StatusInternalServerError, "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
