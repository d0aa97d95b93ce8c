package webhook

import (
	"chatcord-backend/internal/models"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	svix "github.com/svix/svix-webhooks/go"
)

const (
	UserCreated = "user.created"
	UserUpdated = "user.updated"
	UserDeleted = "user.deleted"
)

type EmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type UserData struct {
	ID                    string         `json:"id"`
	Username              string         `json:"username"`
	EmailAddresses        []EmailAddress `json:"email_addresses"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	ImageURL              string         `json:"image_url"`
}

// Event is a user lifecycle event sent by the auth provider.
type Event struct {
	Type string   `json:"type"`
	Data UserData `json:"data"`
}

func (d UserData) email() string {
	for _, e := range d.EmailAddresses {
		if e.ID == d.PrimaryEmailAddressID && d.PrimaryEmailAddressID != "" {
			return e.EmailAddress
		}
	}
	if len(d.EmailAddresses) > 0 {
		return d.EmailAddresses[0].EmailAddress
	}
	return ""
}

// User maps the event to a local user. Without a username the local part of the email is used.
func (e Event) User() models.User {
	email := e.Data.email()

	username := e.Data.Username
	if username == "" {
		username, _, _ = strings.Cut(email, "@")
	}

	return models.User{
		ID:        e.Data.ID,
		Username:  username,
		Email:     email,
		AvatarURL: e.Data.ImageURL,
		Status:    models.StatusOffline,
	}
}

type Verifier struct {
	wh *svix.Webhook
}

func NewVerifier(secret string) (*Verifier, error) {
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("webhook secret: %w", err)
	}
	return &Verifier{wh: wh}, nil
}

// Verify checks the svix signature headers and decodes the event.
func (v *Verifier) Verify(payload []byte, headers http.Header) (Event, error) {
	if err := v.wh.Verify(payload, headers); err != nil {
		return Event{}, err
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// Headers signs payload the way the provider does, for tests and local tooling.
func (v *Verifier) Headers(msgID string, timestamp time.Time, payload []byte) (http.Header, error) {
	signature, err := v.wh.Sign(msgID, timestamp, payload)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("svix-id", msgID)
	headers.Set("svix-timestamp", fmt.Sprint(timestamp.Unix()))
	headers.Set("svix-signature", signature)
	return headers, nil
}
