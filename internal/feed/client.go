package feed

import (
	"bytes"
	"chatcord-backend/internal/hub"
	"chatcord-backend/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Client talks to the chat API as one user. Each feed it opens gets a
// session of its own, as the hub keeps one socket per session.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
	sugar *zap.SugaredLogger
}

type apiError struct {
	Status int
	Msg    string `json:"error"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api answered %d: %s", e.Status, e.Msg)
}

// NewClient returns a client for the server at baseURL. sugar may be nil.
func NewClient(baseURL string, token string, sugar *zap.SugaredLogger) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q needs an http or https scheme", baseURL)
	}

	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
		sugar: sugar,
	}, nil
}

// do calls the API. A sessionID makes the server subscribe that session to
// what the call reads.
func (c *Client) do(ctx context.Context, sessionID string, method string, path string, query url.Values, body any, dst any) error {
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &apiError{Status: resp.StatusCode}
		json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (c *Client) newSession(ctx context.Context) (string, error) {
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.do(ctx, "", http.MethodPost, "/api/auth/session", nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

func (c *Client) Messages(ctx context.Context, channelID int64, limit int) ([]models.Message, error) {
	return c.messages(ctx, "", channelID, limit)
}

func (c *Client) messages(ctx context.Context, sessionID string, channelID int64, limit int) ([]models.Message, error) {
	query := url.Values{}
	query.Set("channelId", fmt.Sprint(channelID))
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}

	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	err := c.do(ctx, sessionID, http.MethodGet, "/api/chat/messages", query, nil, &resp)
	return resp.Messages, err
}

// Notifications returns the newest notifications first.
func (c *Client) Notifications(ctx context.Context) ([]models.Notification, error) {
	return c.notifications(ctx, "")
}

func (c *Client) notifications(ctx context.Context, sessionID string) ([]models.Notification, error) {
	var resp struct {
		Notifications []models.Notification `json:"notifications"`
	}
	err := c.do(ctx, sessionID, http.MethodGet, "/api/notifications", nil, nil, &resp)
	return resp.Notifications, err
}

func (c *Client) Presence(ctx context.Context) ([]models.Presence, error) {
	return c.presence(ctx, "")
}

func (c *Client) presence(ctx context.Context, sessionID string) ([]models.Presence, error) {
	var resp struct {
		Presence []models.Presence `json:"presence"`
	}
	err := c.do(ctx, sessionID, http.MethodGet, "/api/presence", nil, nil, &resp)
	return resp.Presence, err
}

func (c *Client) SendMessage(ctx context.Context, channelID int64, content string) (models.Message, error) {
	body := map[string]string{"channelId": fmt.Sprint(channelID), "content": content}

	var resp struct {
		Message models.Message `json:"message"`
	}
	err := c.do(ctx, "", http.MethodPost, "/api/chat/messages", nil, body, &resp)
	return resp.Message, err
}

// MarkAllRead marks every notification of the user as read and returns how
// many changed.
func (c *Client) MarkAllRead(ctx context.Context) (int, error) {
	var resp struct {
		Updated int `json:"updated"`
	}
	err := c.do(ctx, "", http.MethodPost, "/api/notifications/read-all", nil, nil, &resp)
	return resp.Updated, err
}

func (c *Client) socket(sessionID string) *WebSocket {
	u := *c.base
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path += "/ws"
	u.RawQuery = url.Values{"session": {sessionID}}.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	return &WebSocket{URL: u.String(), Header: header}
}

// feedSession is the session of one feed. It is made on the first connect
// and kept across reconnects, so the fetch after each connect subscribes the
// socket that was just opened.
type feedSession struct {
	client *Client

	mutex sync.Mutex
	id    string
}

func (s *feedSession) Connect(ctx context.Context) (Stream, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.id == "" {
		id, err := s.client.newSession(ctx)
		if err != nil {
			return nil, fmt.Errorf("feed session: %w", err)
		}
		s.id = id
	}
	return s.client.socket(s.id).Connect(ctx)
}

func (s *feedSession) ID() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.id
}

// ChannelMessages follows the messages of one channel.
func (c *Client) ChannelMessages(ctx context.Context, channelID int64, limit int, onChange func([]models.Message)) *Feed[models.Message] {
	session := &feedSession{client: c}
	return Open(ctx, Options[models.Message]{
		Sugar: c.sugar,
		ID:    func(m models.Message) string { return fmt.Sprint(m.ID) },
		Fetch: func(ctx context.Context) ([]models.Message, error) {
			return c.messages(ctx, session.ID(), channelID, limit)
		},
		Source: session,
		Actions: map[string]Action{
			hub.MessageCreated:  Append,
			hub.MessageModified: Upsert,
			hub.MessageDeleted:  Remove,
		},
		Keep:     func(m models.Message) bool { return m.ChannelID == channelID },
		OnChange: onChange,
	})
}

// NotificationFeed follows the user's notifications, oldest first like every
// other feed.
func (c *Client) NotificationFeed(ctx context.Context, onChange func([]models.Notification)) *Feed[models.Notification] {
	session := &feedSession{client: c}
	return Open(ctx, Options[models.Notification]{
		Sugar: c.sugar,
		ID:    func(n models.Notification) string { return fmt.Sprint(n.ID) },
		Fetch: func(ctx context.Context) ([]models.Notification, error) {
			page, err := c.notifications(ctx, session.ID())
			return lo.Reverse(page), err
		},
		Source: session,
		Actions: map[string]Action{
			hub.NotificationCreated:  Append,
			hub.NotificationModified: Upsert,
			hub.NotificationDeleted:  Remove,
		},
		Keep:     func(n models.Notification) bool { return n.ID != 0 },
		OnChange: onChange,
	})
}

func (c *Client) PresenceFeed(ctx context.Context, onChange func([]models.Presence)) *Feed[models.Presence] {
	session := &feedSession{client: c}
	return Open(ctx, Options[models.Presence]{
		Sugar: c.sugar,
		ID:    func(p models.Presence) string { return p.UserID },
		Fetch: func(ctx context.Context) ([]models.Presence, error) {
			return c.presence(ctx, session.ID())
		},
		Source:   session,
		Actions:  map[string]Action{hub.PresenceChanged: Upsert},
		OnChange: onChange,
	})
}
