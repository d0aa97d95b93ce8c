package handlers

import (
	"chatcord-backend/internal/hub"
	"chatcord-backend/internal/models"
	"fmt"
	"net/http"
)

type channelRequest struct {
	Name        string             `json:"name" validate:"required,max=64"`
	Description string             `json:"description" validate:"max=512"`
	Kind        models.ChannelKind `json:"type"`
	IsPrivate   bool               `json:"is_private"`
}

func (h *Handlers) GetChannelList(w http.ResponseWriter, r *http.Request) {
	serverID, ok := urlID(w, r, "serverId")
	if !ok {
		return
	}

	if err := h.requireMember(r.Context(), serverID, userIDFrom(r)); err != nil {
		h.fail(w, err)
		return
	}

	h.follow(r, hub.KindServer, fmt.Sprint(serverID))

	channels, err := h.store.ListChannels(r.Context(), serverID)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}

func (h *Handlers) CreateChannel(w http.ResponseWriter, r *http.Request) {
	serverID, ok := urlID(w, r, "serverId")
	if !ok {
		return
	}

	var req channelRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Kind == "" {
		req.Kind = models.ChannelText
	}

	ch, err := h.store.CreateChannel(r.Context(), userIDFrom(r), serverID, req.Name, req.Description, req.Kind, req.IsPrivate)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.emit(r, hub.ChannelCreated, hub.Topic(hub.KindServer, fmt.Sprint(serverID)), ch)

	writeJSON(w, http.StatusCreated, map[string]any{"channel": ch})
}

func (h *Handlers) GetChannel(w http.ResponseWriter, r *http.Request) {
	channelID, ok := urlID(w, r, "channelId")
	if !ok {
		return
	}

	ch, err := h.store.ChannelAccess(r.Context(), channelID, userIDFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"channel": ch})
}

func (h *Handlers) UpdateChannel(w http.ResponseWriter, r *http.Request) {
	channelID, ok := urlID(w, r, "channelId")
	if !ok {
		return
	}

	var req channelRequest
	if !h.decode(w, r, &req) {
		return
	}

	ch, err := h.store.UpdateChannel(r.Context(), userIDFrom(r), channelID, req.Name, req.Description, req.IsPrivate)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.emit(r, hub.ChannelModified, hub.Topic(hub.KindServer, fmt.Sprint(ch.ServerID)), ch)

	writeJSON(w, http.StatusOK, map[string]any{"channel": ch})
}

func (h *Handlers) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	channelID, ok := urlID(w, r, "channelId")
	if !ok {
		return
	}

	ch, err := h.store.DeleteChannel(r.Context(), userIDFrom(r), channelID)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.emit(r, hub.ChannelDeleted, hub.Topic(hub.KindServer, fmt.Sprint(ch.ServerID)), ch)

	w.WriteHeader(http.StatusNoContent)
}
