package handlers

import (
	"chatcord-backend/internal/webhook"
	"io"
	"net/http"
	"time"
)

const (
	maxWebhookSize = 1 << 20
	webhookSeenTTL = 24 * time.Hour
)

func (h *Handlers) UserSyncReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Webhook endpoint ready"})
}

// UserSync keeps the local users table in step with the auth provider.
func (h *Handlers) UserSync(w http.ResponseWriter, r *http.Request) {
	if h.webhooks == nil {
		writeError(w, http.StatusBadRequest, "Webhook secret isn't configured")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookSize))
	if err != nil {
		h.sugar.Debug(err)
		writeError(w, http.StatusBadRequest, "Couldn't read webhook body")
		return
	}

	event, err := h.webhooks.Verify(payload, r.Header)
	if err != nil {
		h.sugar.Warnf("Webhook failed verification: %v", err)
		writeError(w, http.StatusUnauthorized, "Invalid webhook signature")
		return
	}

	msgID := r.Header.Get("svix-id")
	fresh, err := h.kv.SetIfAbsent(r.Context(), "webhook:"+msgID, event.Type, webhookSeenTTL)
	if err != nil {
		h.sugar.Error(err)
		writeError(w, http.StatusInternalServerError, "")
		return
	}
	if !fresh {
		h.sugar.Debugf("Webhook [%s] was already processed", msgID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "already processed"})
		return
	}

	switch event.Type {
	case webhook.UserCreated, webhook.UserUpdated:
		u, err := h.store.UpsertUser(r.Context(), event.User())
		if err != nil {
			h.forgetWebhook(r, msgID)
			h.fail(w, err)
			return
		}
		h.sugar.Infof("User ID [%s] synced as [%s]", u.ID, u.Username)
	case webhook.UserDeleted:
		if err := h.store.DeleteUser(r.Context(), event.Data.ID); err != nil {
			h.forgetWebhook(r, msgID)
			h.fail(w, err)
			return
		}
		if err := h.kv.Del(r.Context(), userExistsKey(event.Data.ID)); err != nil {
			h.sugar.Error(err)
		}
		h.sugar.Infof("User ID [%s] was deleted", event.Data.ID)
	default:
		h.sugar.Debugf("Ignoring webhook event of type %s", event.Type)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// forgetWebhook lets the provider's retry of a failed delivery through.
func (h *Handlers) forgetWebhook(r *http.Request, msgID string) {
	if err := h.kv.Del(r.Context(), "webhook:"+msgID); err != nil {
		h.sugar.Error(err)
	}
}
