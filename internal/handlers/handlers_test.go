package handlers

import (
	"bytes"
	"chatcord-backend/internal/database"
	"chatcord-backend/internal/hub"
	"chatcord-backend/internal/jwt"
	"chatcord-backend/internal/keyValue"
	"chatcord-backend/internal/models"
	"chatcord-backend/internal/presence"
	"chatcord-backend/internal/snowflake"
	"chatcord-backend/internal/store"
	"chatcord-backend/internal/webhook"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	testSecret        = "handlers-test-secret"
	testWebhookSecret = "whsec_dGVzdC13ZWJob29rLXNlY3JldC1mb3Itc3ZpeA=="
)

type testEnv struct {
	store    *store.Store
	auth     *jwt.Verifier
	webhooks *webhook.Verifier
	router   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, nil)
}

// newTestEnvWith lets configure change the config before the handlers are built.
func newTestEnvWith(t *testing.T, configure func(*models.ConfigFile)) *testEnv {
	t.Helper()
	sugar := zap.NewNop().Sugar()

	cfg := &models.ConfigFile{
		SelfContained:    true,
		DbPath:           ":memory:",
		AuthSecret:       testSecret,
		MessageRateLimit: "1000-M",
	}
	if configure != nil {
		configure(cfg)
	}

	db, err := database.Setup(cfg, sugar)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	ids, err := snowflake.New(3)
	if err != nil {
		t.Fatal(err)
	}
	st := store.New(db, ids, true)

	chatHub := hub.New(sugar, nil, hub.Options{})
	t.Cleanup(chatHub.Close)

	auth, err := jwt.NewVerifier(testSecret, "")
	if err != nil {
		t.Fatal(err)
	}
	webhooks, err := webhook.NewVerifier(testWebhookSecret)
	if err != nil {
		t.Fatal(err)
	}

	h, err := New(Deps{
		Config:   cfg,
		Sugar:    sugar,
		Store:    st,
		KV:       keyValue.New(sugar, nil),
		Hub:      chatHub,
		Presence: presence.New(sugar, st, chatHub, 0),
		Auth:     auth,
		Webhooks: webhooks,
		IDs:      ids,
	})
	if err != nil {
		t.Fatal(err)
	}

	return &testEnv{store: st, auth: auth, webhooks: webhooks, router: h.Router()}
}

func (e *testEnv) addUser(t *testing.T, id string) string {
	t.Helper()
	if _, err := e.store.UpsertUser(context.Background(), models.User{ID: id, Username: id}); err != nil {
		t.Fatal(err)
	}
	token, err := e.auth.CreateToken(id, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.doWith(t, method, path, token, body, nil)
}

func (e *testEnv) doWith(t *testing.T, method string, path string, token string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var reader bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reader).Encode(body); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(method, path, &reader)
	for key, values := range header {
		req.Header[key] = values
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func TestAuthGate(t *testing.T) {
	env := newTestEnv(t)
	valid := env.addUser(t, "alice")

	unsynced, err := env.auth.CreateToken("nobody", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"Health is public", "/api/health", "", http.StatusOK},
		{"Webhook probe is public", "/api/users/sync", "", http.StatusOK},
		{"No token", "/api/servers", "", http.StatusUnauthorized},
		{"Garbage token", "/api/servers", "not-a-jwt", http.StatusUnauthorized},
		{"User not synced", "/api/servers", unsynced, http.StatusUnauthorized},
		{"Valid token", "/api/servers", valid, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, tt.token, nil)
			if rec.Code != tt.status {
				t.Errorf("status got %d, want %d, body %s", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestServerAndMessages(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "alice")
	bob := env.addUser(t, "bob")

	rec := env.do(t, http.MethodPost, "/api/servers", alice, map[string]string{"name": "Gophers"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create server got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Server models.Server `json:"server"`
	}
	decodeBody(t, rec, &created)
	if len(created.Server.Channels) != 1 || created.Server.Channels[0].Name != "general" {
		t.Fatalf("expected a general channel, got %+v", created.Server.Channels)
	}
	channelID := created.Server.Channels[0].ID

	body := map[string]string{"channelId": fmt.Sprint(channelID), "content": "hello @bob"}
	rec = env.do(t, http.MethodPost, "/api/chat/messages", bob, body)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-member post got %d, want 403", rec.Code)
	}

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/servers/%d/join", created.Server.ID), bob, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("join got %d: %s", rec.Code, rec.Body.String())
	}

	for i := range 3 {
		body := map[string]string{"channelId": fmt.Sprint(channelID), "content": fmt.Sprintf("message %d @bob", i)}
		rec = env.do(t, http.MethodPost, "/api/chat/messages", alice, body)
		if rec.Code != http.StatusCreated {
			t.Fatalf("post got %d: %s", rec.Code, rec.Body.String())
		}
	}

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/chat/messages?channelId=%d&limit=2", channelID), bob, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list got %d: %s", rec.Code, rec.Body.String())
	}
	var page struct {
		Messages []models.Message `json:"messages"`
	}
	decodeBody(t, rec, &page)
	if len(page.Messages) != 2 {
		t.Fatalf("page size got %d, want 2", len(page.Messages))
	}
	if page.Messages[0].Content != "message 1 @bob" || page.Messages[1].Content != "message 2 @bob" {
		t.Errorf("expected the two newest in ascending order, got %q and %q", page.Messages[0].Content, page.Messages[1].Content)
	}
	if page.Messages[0].User == nil || page.Messages[0].User.Email != "" {
		t.Errorf("expected author without email, got %+v", page.Messages[0].User)
	}

	rec = env.do(t, http.MethodGet, "/api/notifications", bob, nil)
	var inbox struct {
		Notifications []models.Notification `json:"notifications"`
		Unread        int                   `json:"unread"`
	}
	decodeBody(t, rec, &inbox)
	if inbox.Unread != 3 || len(inbox.Notifications) != 3 {
		t.Errorf("expected 3 unread mentions, got %d unread of %d", inbox.Unread, len(inbox.Notifications))
	}
	for _, n := range inbox.Notifications {
		if n.Kind != models.NotifyMention {
			t.Errorf("notification type got %s, want mention", n.Kind)
		}
	}
}

func TestValidation(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "alice")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"Server without name", http.MethodPost, "/api/servers", map[string]string{"description": "x"}},
		{"Bad username", http.MethodPatch, "/api/users/me", map[string]string{"username": "no spaces allowed"}},
		{"Empty message", http.MethodPost, "/api/chat/messages", map[string]string{"channelId": "1", "content": ""}},
		{"Unknown status", http.MethodPost, "/api/presence", map[string]string{"status": "asleep"}},
		{"Bad channel id", http.MethodGet, "/api/chat/messages?channelId=abc", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, alice, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status got %d, want 400, body %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestStreamToken(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "alice")

	rec := env.do(t, http.MethodPost, "/api/stream/token", alice, map[string]string{"userId": "bob"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("token for someone else got %d, want 401", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/stream/token", alice, map[string]string{"userId": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("own token got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &resp)
	if resp.Token == "" {
		t.Error("expected a stream token")
	}
}

func TestCallsUnconfigured(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "alice")

	rec := env.do(t, http.MethodPost, "/api/video/1/start", alice, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status got %d, want 503", rec.Code)
	}
}

func TestUserSync(t *testing.T) {
	env := newTestEnv(t)

	send := func(msgID string, payload string, sign bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/users/sync", bytes.NewBufferString(payload))
		if sign {
			headers, err := env.webhooks.Headers(msgID, time.Now(), []byte(payload))
			if err != nil {
				t.Fatal(err)
			}
			for k, v := range headers {
				req.Header[k] = v
			}
		}
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		return rec
	}

	created := `{"type":"user.created","data":{"id":"user_1","email_addresses":[{"id":"e1","email_address":"gopher@example.com"}],"primary_email_address_id":"e1"}}`

	if rec := send("msg_1", created, false); rec.Code != http.StatusUnauthorized {
		t.Errorf("unsigned webhook got %d, want 401", rec.Code)
	}

	if rec := send("msg_1", created, true); rec.Code != http.StatusOK {
		t.Fatalf("signed webhook got %d: %s", rec.Code, rec.Body.String())
	}
	u, err := env.store.GetUser(context.Background(), "user_1")
	if err != nil {
		t.Fatal(err)
	}
	if u.Username != "gopher" || u.Status != models.StatusOffline {
		t.Errorf("unexpected synced user %+v", u)
	}

	// the same delivery again is acknowledged but not applied
	if err := env.store.DeleteUser(context.Background(), "user_1"); err != nil {
		t.Fatal(err)
	}
	if rec := send("msg_1", created, true); rec.Code != http.StatusOK {
		t.Errorf("replay got %d, want 200", rec.Code)
	}
	if found, _ := env.store.UserExists(context.Background(), "user_1"); found {
		t.Error("replayed delivery was processed again")
	}

	if rec := send("msg_2", created, true); rec.Code != http.StatusOK {
		t.Fatal("second delivery failed")
	}
	deleted := `{"type":"user.deleted","data":{"id":"user_1"}}`
	if rec := send("msg_3", deleted, true); rec.Code != http.StatusOK {
		t.Fatalf("delete webhook got %d: %s", rec.Code, rec.Body.String())
	}
	if found, _ := env.store.UserExists(context.Background(), "user_1"); found {
		t.Error("expected user to be deleted")
	}
}

func (e *testEnv) newServer(t *testing.T, token string, name string) models.Server {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/servers", token, map[string]string{"name": name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create server got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Server models.Server `json:"server"`
	}
	decodeBody(t, rec, &created)
	return created.Server
}

// openFeed starts a session for token and connects its websocket.
func (e *testEnv) openFeed(t *testing.T, srv *httptest.Server, token string) (string, *websocket.Conn) {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/auth/session", token, nil)
	var session struct {
		SessionID string `json:"sessionId"`
	}
	decodeBody(t, rec, &session)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session=" + session.SessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return session.SessionID, conn
}

// sawFrame reads frames until one of eventType arrives or wait passes.
func sawFrame(conn *websocket.Conn, eventType string, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return false
		}
		if strings.HasPrefix(string(data), eventType+"\n") {
			return true
		}
	}
}

func TestReadingChannelFollowsIt(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "alice")
	carol := env.addUser(t, "carol")
	channelID := env.newServer(t, alice, "Gophers").Channels[0].ID

	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	aliceSession, aliceConn := env.openFeed(t, srv, alice)
	carolSession, carolConn := env.openFeed(t, srv, carol)

	path := fmt.Sprintf("/api/chat/messages?channelId=%d", channelID)
	rec := env.doWith(t, http.MethodGet, path, alice, nil, http.Header{"X-Session-Id": {aliceSession}})
	if rec.Code != http.StatusOK {
		t.Fatalf("member list got %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.doWith(t, http.MethodGet, path, carol, nil, http.Header{"X-Session-Id": {carolSession}})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider list got %d, want 403", rec.Code)
	}

	body := map[string]string{"channelId": fmt.Sprint(channelID), "content": "anyone here?"}
	if rec := env.do(t, http.MethodPost, "/api/chat/messages", alice, body); rec.Code != http.StatusCreated {
		t.Fatalf("post got %d: %s", rec.Code, rec.Body.String())
	}

	if !sawFrame(aliceConn, hub.MessageCreated, 2*time.Second) {
		t.Error("reader of the channel didn't get the new message")
	}
	if sawFrame(carolConn, hub.MessageCreated, 300*time.Millisecond) {
		t.Error("a refused read still subscribed the session")
	}
}

func TestUpdateServerIcon(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "alice")
	server := env.newServer(t, alice, "Gophers")

	path := fmt.Sprintf("/api/servers/%d", server.ID)
	body := map[string]string{"name": "Gophers", "icon_url": "https://example.com/gopher.png"}
	rec := env.do(t, http.MethodPatch, path, alice, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("update got %d: %s", rec.Code, rec.Body.String())
	}

	stored, err := env.store.GetServer(context.Background(), server.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.IconURL != "https://example.com/gopher.png" {
		t.Errorf("icon got %q, want the new url", stored.IconURL)
	}
}

func TestSessionCookie(t *testing.T) {
	tests := []struct {
		name       string
		configure  func(*models.ConfigFile)
		header     http.Header
		wantSecure bool
	}{
		{"Plain http", nil, nil, false},
		{"Own TLS", func(c *models.ConfigFile) { c.TlsCert, c.TlsKey = "cert.pem", "key.pem" }, nil, true},
		{"Behind https proxy", func(c *models.ConfigFile) { c.BehindNginx = true }, http.Header{"X-Forwarded-Proto": {"https"}}, true},
		{"Forwarded header without proxy", nil, http.Header{"X-Forwarded-Proto": {"https"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnvWith(t, tt.configure)
			alice := env.addUser(t, "alice")

			rec := env.doWith(t, http.MethodPost, "/api/auth/session", alice, nil, tt.header)
			if rec.Code != http.StatusOK {
				t.Fatalf("session got %d: %s", rec.Code, rec.Body.String())
			}

			cookies := rec.Result().Cookies()
			if len(cookies) != 1 {
				t.Fatalf("expected one cookie, got %d", len(cookies))
			}
			if cookies[0].Secure != tt.wantSecure {
				t.Errorf("secure got %v, want %v", cookies[0].Secure, tt.wantSecure)
			}
		})
	}
}
