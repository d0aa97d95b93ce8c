package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type SessionIDKeyType struct{}
type UserIDKeyType struct{}

const (
	providerCookie = "__session"
	sessionCookie  = "session"
	sessionHeader  = "X-Session-ID"

	userExistsTTL = 15 * time.Minute
)

func AllowCors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+sessionHeader)
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		token, found := strings.CutPrefix(header, "Bearer ")
		if found {
			return strings.TrimSpace(token)
		}
		return ""
	}

	cookie, err := r.Cookie(providerCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// UserVerifier lets a request through if it carries a valid session token of
// the auth provider for a user known locally.
func (h *Handlers) UserVerifier(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "No session token was provided")
			return
		}

		userToken, err := h.auth.VerifyToken(tokenString)
		if err != nil {
			h.sugar.Debug(err)
			writeError(w, http.StatusUnauthorized, "Couldn't verify session token")
			return
		}

		userID := userToken.UserID()
		found, err := h.userExists(r.Context(), userID)
		if err != nil {
			h.sugar.Error(err)
			writeError(w, http.StatusInternalServerError, "")
			return
		}
		if !found {
			h.sugar.Debugf("User ID [%s] has a valid token but wasn't synced yet", userID)
			writeError(w, http.StatusUnauthorized, "User isn't known yet")
			return
		}

		// this passes the authenticated user's ID to next handler
		ctx := context.WithValue(r.Context(), UserIDKeyType{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userExistsKey(userID string) string {
	return fmt.Sprintf("user_exists:%s", userID)
}

func (h *Handlers) userExists(ctx context.Context, userID string) (bool, error) {
	key := userExistsKey(userID)

	value, err := h.kv.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if value != "" {
		h.sugar.Debugf("User ID [%s] was found in cache", userID)
		return true, nil
	}

	found, err := h.store.UserExists(ctx, userID)
	if err != nil {
		return false, err
	}
	if found {
		if err := h.kv.Set(ctx, key, "y", userExistsTTL); err != nil {
			return false, err
		}
		h.sugar.Debugf("User ID [%s] was found in database and was cached", userID)
	}
	return found, nil
}

func sessionKey(sessionID int64) string {
	return fmt.Sprintf("session:%d", sessionID)
}

func readSessionID(r *http.Request) (int64, bool) {
	raw := r.Header.Get(sessionHeader)
	if raw == "" {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil {
			return 0, false
		}
		raw = cookie.Value
	}

	sessionID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || sessionID == 0 {
		return 0, false
	}
	return sessionID, true
}

// SessionReader attaches the caller's feed session, if they sent one that
// belongs to them. List handlers use it to follow what the session is viewing.
func (h *Handlers) SessionReader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := readSessionID(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		owner, err := h.kv.Get(r.Context(), sessionKey(sessionID))
		if err != nil {
			h.sugar.Error(err)
			writeError(w, http.StatusInternalServerError, "")
			return
		}
		if owner != userIDFrom(r) {
			h.sugar.Warnf("User ID [%s] sent session ID [%d] that isn't theirs", userIDFrom(r), sessionID)
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), SessionIDKeyType{}, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func streamTokenKey(token string) string {
	return fmt.Sprintf("stream:%s", token)
}

// StreamTokenVerifier accepts a stream token in the query for clients that can't
// send headers on a websocket handshake, otherwise it falls back to UserVerifier.
func (h *Handlers) StreamTokenVerifier(next http.Handler) http.Handler {
	verified := h.UserVerifier(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			verified.ServeHTTP(w, r)
			return
		}

		userID, err := h.kv.Get(r.Context(), streamTokenKey(token))
		if err != nil {
			h.sugar.Error(err)
			writeError(w, http.StatusInternalServerError, "")
			return
		}
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "Stream token isn't valid")
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKeyType{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handlers) requireCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.calls == nil {
			writeError(w, http.StatusServiceUnavailable, "Calling isn't configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userIDFrom(r *http.Request) string {
	userID, _ := r.Context().Value(UserIDKeyType{}).(string)
	return userID
}

func sessionIDFrom(r *http.Request) (int64, bool) {
	sessionID, ok := r.Context().Value(SessionIDKeyType{}).(int64)
	return sessionID, ok
}

var errNoSession = errors.New("no feed session")
