package handlers

import (
	"chatcord-backend/internal/calls"
	"chatcord-backend/internal/hub"
	"chatcord-backend/internal/models"
	"fmt"
	"net/http"

	"github.com/samber/lo"
)

// callToken signs a join token for room.
func (h *Handlers) callToken(r *http.Request, room string, userID string, admin bool) (string, error) {
	u, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		return "", err
	}
	return h.calls.Token(room, u, admin)
}

func (h *Handlers) VoiceConnect(w http.ResponseWriter, r *http.Request) {
	channelID, ok := urlID(w, r, "channelId")
	if !ok {
		return
	}
	userID := userIDFrom(r)

	session, ch, err := h.store.StartVoiceSession(r.Context(), userID, channelID)
	if err != nil {
		h.fail(w, err)
		return
	}

	room := calls.VoiceRoom(channelID)
	if err := h.calls.CreateRoom(r.Context(), room); err != nil {
		h.sugar.Warnf("Couldn't create room %s: %v", room, err)
	}

	token, err := h.callToken(r, room, userID, false)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.emit(r, hub.VoiceJoined, hub.Topic(hub.KindChannel, fmt.Sprint(ch.ID)), session)

	writeJSON(w, http.StatusOK, map[string]any{"session": session, "token": token})
}

func (h *Handlers) VoiceDisconnect(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := urlID(w, r, "sessionId")
	if !ok {
		return
	}
	userID := userIDFrom(r)

	session, err := h.store.EndVoiceSession(r.Context(), userID, sessionID)
	if err != nil {
		h.fail(w, err)
		return
	}

	room := calls.VoiceRoom(session.ChannelID)
	if err := h.calls.RemoveParticipant(r.Context(), room, userID); err != nil {
		h.sugar.Debugf("Couldn't remove user ID [%s] from room %s: %v", userID, room, err)
	}

	h.emit(r, hub.VoiceLeft, hub.Topic(hub.KindChannel, fmt.Sprint(session.ChannelID)), session)

	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (h *Handlers) VideoStart(w http.ResponseWriter, r *http.Request) {
	channelID, ok := urlID(w, r, "channelId")
	if !ok {
		return
	}
	userID := userIDFrom(r)

	session, participant, ch, err := h.store.StartVideoSession(r.Context(), userID, channelID)
	if err != nil {
		h.fail(w, err)
		return
	}

	room := calls.VideoRoom(session.ID)
	if err := h.calls.CreateRoom(r.Context(), room); err != nil {
		h.sugar.Warnf("Couldn't create room %s: %v", room, err)
	}

	token, err := h.callToken(r, room, userID, true)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.emit(r, hub.VideoStarted, hub.Topic(hub.KindChannel, fmt.Sprint(ch.ID)), session)
	h.inviteToCall(r, session, ch)

	writeJSON(w, http.StatusCreated, map[string]any{
		"session":     session,
		"participant": participant,
		"token":       token,
	})
}

// inviteToCall notifies every other member of the channel's server.
func (h *Handlers) inviteToCall(r *http.Request, session models.VideoSession, ch models.Channel) {
	memberIDs, err := h.store.MemberIDs(r.Context(), ch.ServerID)
	if err != nil {
		h.sugar.Error(err)
		return
	}

	for _, memberID := range lo.Without(memberIDs, session.InitiatorID) {
		n, err := h.store.CreateNotification(r.Context(), models.Notification{
			UserID:        memberID,
			Kind:          models.NotifyCallInvite,
			RelatedUserID: session.InitiatorID,
			Content:       fmt.Sprintf("Video call started in #%s", ch.Name),
		})
		if err != nil {
			h.sugar.Error(err)
			continue
		}
		h.emit(r, hub.NotificationCreated, hub.Topic(hub.KindNotifications, memberID), n)
	}
}

func (h *Handlers) GetVideoSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := urlID(w, r, "sessionId")
	if !ok {
		return
	}

	session, _, err := h.store.VideoSessionAccess(r.Context(), userIDFrom(r), sessionID)
	if err != nil {
		h.fail(w, err)
		return
	}

	participants, err := h.store.ListVideoParticipants(r.Context(), sessionID)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"session": session, "participants": participants})
}

func (h *Handlers) VideoJoin(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := urlID(w, r, "sessionId")
	if !ok {
		return
	}
	userID := userIDFrom(r)

	participant, session, err := h.store.JoinVideoSession(r.Context(), userID, sessionID)
	if err != nil {
		h.fail(w, err)
		return
	}

	admin := session.InitiatorID == userID
	if !admin {
		ch, err := h.store.GetChannel(r.Context(), session.ChannelID)
		if err != nil {
			h.fail(w, err)
			return
		}
		admin, err = h.store.IsOwner(r.Context(), ch.ServerID, userID)
		if err != nil {
			h.fail(w, err)
			return
		}
	}

	token, err := h.callToken(r, calls.VideoRoom(session.ID), userID, admin)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"participant": participant, "token": token})
}

func (h *Handlers) VideoLeave(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := urlID(w, r, "sessionId")
	if !ok {
		return
	}
	userID := userIDFrom(r)

	session, err := h.store.LeaveVideoSession(r.Context(), userID, sessionID)
	if err != nil {
		h.fail(w, err)
		return
	}

	room := calls.VideoRoom(session.ID)
	if err := h.calls.RemoveParticipant(r.Context(), room, userID); err != nil {
		h.sugar.Debugf("Couldn't remove user ID [%s] from room %s: %v", userID, room, err)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) VideoEnd(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := urlID(w, r, "sessionId")
	if !ok {
		return
	}

	session, err := h.store.EndVideoSession(r.Context(), userIDFrom(r), sessionID)
	if err != nil {
		h.fail(w, err)
		return
	}

	room := calls.VideoRoom(session.ID)
	if err := h.calls.DeleteRoom(r.Context(), room); err != nil {
		h.sugar.Warnf("Couldn't delete room %s: %v", room, err)
	}

	h.emit(r, hub.VideoEnded, hub.Topic(hub.KindChannel, fmt.Sprint(session.ChannelID)), session)

	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}
