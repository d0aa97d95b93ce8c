package handlers

import (
	"chatcord-backend/internal/store"
	"chatcord-backend/internal/validator"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// fail maps a store error to its status code and logs it at the level it deserves.
func (h *Handlers) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.sugar.Debug(err)
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrForbidden):
		h.sugar.Warn(err)
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrConflict):
		h.sugar.Debug(err)
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInvalid):
		h.sugar.Debug(err)
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.sugar.Error(err)
		writeError(w, http.StatusInternalServerError, "")
	}
}

// decode reads a json body into dst and runs the validate tags on it. On
// failure it has already answered the request.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.sugar.Debug(err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		fields, ok := validator.Fields(err)
		if !ok {
			h.sugar.Error(err)
			writeError(w, http.StatusInternalServerError, "")
			return false
		}
		h.sugar.Debugf("Request failed validation: %v", fields)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request", Fields: fields})
		return false
	}
	return true
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ID %q", raw)
	}
	return id, nil
}

// urlID reads a snowflake from the route, answering 400 if it isn't one.
func urlID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := parseID(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return id, true
}

// queryInt reads an optional non-negative integer from the query string.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}

// follow subscribes the caller's feed session, if any, to what they just read.
func (h *Handlers) follow(r *http.Request, kind string, id string) {
	sessionID, ok := sessionIDFrom(r)
	if !ok {
		h.sugar.Debugf("User ID [%s] read %s [%s]: %v", userIDFrom(r), kind, id, errNoSession)
		return
	}
	if err := h.hub.Subscribe(sessionID, kind, id); err != nil {
		h.sugar.Debug(err)
	}
}

// emit publishes an event, logging failures since the write already happened.
func (h *Handlers) emit(r *http.Request, eventType string, topic string, payload any) {
	if err := h.hub.Emit(r.Context(), eventType, topic, payload); err != nil {
		h.sugar.Error(err)
	}
}
