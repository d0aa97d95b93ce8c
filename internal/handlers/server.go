package handlers

import (
	"chatcord-backend/internal/hub"
	"chatcord-backend/internal/models"
	"chatcord-backend/internal/store"
	"context"
	"fmt"
	"net/http"
)

type serverRequest struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=512"`
	IconURL     string `json:"icon_url" validate:"omitempty,url"`
}

func (h *Handlers) requireMember(ctx context.Context, serverID int64, userID string) error {
	member, err := h.store.IsMember(ctx, serverID, userID)
	if err != nil {
		return err
	}
	if !member {
		return fmt.Errorf("user ID [%s] isn't a member of server ID [%d]: %w", userID, serverID, store.ErrForbidden)
	}
	return nil
}

func (h *Handlers) GetServerList(w http.ResponseWriter, r *http.Request) {
	servers, err := h.store.ListServers(r.Context(), userIDFrom(r))
	if err != nil {
		h.fail(w, err)
		return
	}

	for _, srv := range servers {
		h.follow(r, hub.KindServerList, fmt.Sprint(srv.ID))
	}

	writeJSON(w, http.StatusOK, map[string]any{"servers": servers})
}

func (h *Handlers) CreateServer(w http.ResponseWriter, r *http.Request) {
	var req serverRequest
	if !h.decode(w, r, &req) {
		return
	}

	srv, err := h.store.CreateServer(r.Context(), userIDFrom(r), req.Name, req.Description, req.IconURL)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.follow(r, hub.KindServerList, fmt.Sprint(srv.ID))

	writeJSON(w, http.StatusCreated, map[string]any{"server": srv})
}

func (h *Handlers) GetServer(w http.ResponseWriter, r *http.Request) {
	serverID, ok := urlID(w, r, "serverId")
	if !ok {
		return
	}

	if err := h.requireMember(r.Context(), serverID, userIDFrom(r)); err != nil {
		h.fail(w, err)
		return
	}

	h.follow(r, hub.KindServer, fmt.Sprint(serverID))

	srv, err := h.store.GetServer(r.Context(), serverID)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"server": srv})
}

func (h *Handlers) UpdateServer(w http.ResponseWriter, r *http.Request) {
	serverID, ok := urlID(w, r, "serverId")
	if !ok {
		return
	}

	var req serverRequest
	if !h.decode(w, r, &req) {
		return
	}

	srv, err := h.store.UpdateServer(r.Context(), userIDFrom(r), serverID, req.Name, req.Description, req.IconURL)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.emit(r, hub.ServerModified, hub.Topic(hub.KindServerList, fmt.Sprint(serverID)), srv)

	writeJSON(w, http.StatusOK, map[string]any{"server": srv})
}

func (h *Handlers) DeleteServer(w http.ResponseWriter, r *http.Request) {
	serverID, ok := urlID(w, r, "serverId")
	if !ok {
		return
	}

	if err := h.store.DeleteServer(r.Context(), userIDFrom(r), serverID); err != nil {
		h.fail(w, err)
		return
	}

	h.emit(r, hub.ServerDeleted, hub.Topic(hub.KindServerList, fmt.Sprint(serverID)), map[string]string{"id": fmt.Sprint(serverID)})

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) JoinServer(w http.ResponseWriter, r *http.Request) {
	serverID, ok := urlID(w, r, "serverId")
	if !ok {
		return
	}
	userID := userIDFrom(r)

	member, err := h.store.JoinServer(r.Context(), serverID, userID)
	if err != nil {
		h.fail(w, err)
		return
	}

	if u, err := h.store.GetUser(r.Context(), userID); err == nil {
		u.Email = ""
		member.User = &u
	} else {
		h.sugar.Error(err)
	}

	h.emit(r, hub.MemberJoined, hub.Topic(hub.KindServer, fmt.Sprint(serverID)), member)
	h.follow(r, hub.KindServerList, fmt.Sprint(serverID))

	writeJSON(w, http.StatusOK, map[string]any{"member": member})
}

func (h *Handlers) LeaveServer(w http.ResponseWriter, r *http.Request) {
	serverID, ok := urlID(w, r, "serverId")
	if !ok {
		return
	}
	userID := userIDFrom(r)

	if err := h.store.LeaveServer(r.Context(), serverID, userID); err != nil {
		h.fail(w, err)
		return
	}

	h.emit(r, hub.MemberLeft, hub.Topic(hub.KindServer, fmt.Sprint(serverID)), models.ServerMember{
		ServerID: serverID,
		UserID:   userID,
	})

	w.WriteHeader(http.StatusNoContent)
}
