package feed

import (
	"chatcord-backend/internal/database"
	"chatcord-backend/internal/handlers"
	"chatcord-backend/internal/hub"
	"chatcord-backend/internal/jwt"
	"chatcord-backend/internal/keyValue"
	"chatcord-backend/internal/models"
	"chatcord-backend/internal/presence"
	"chatcord-backend/internal/snowflake"
	"chatcord-backend/internal/store"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testSecret = "feed-test-secret"

type testServer struct {
	url       string
	store     *store.Store
	auth      *jwt.Verifier
	serverID  int64
	channelID int64
}

// startServer runs the whole API on sqlite with alice owning a server.
func startServer(t *testing.T) *testServer {
	t.Helper()
	sugar := zap.NewNop().Sugar()

	cfg := &models.ConfigFile{
		SelfContained:    true,
		DbPath:           ":memory:",
		AuthSecret:       testSecret,
		MessageRateLimit: "1000-M",
	}

	db, err := database.Setup(cfg, sugar)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	ids, err := snowflake.New(4)
	if err != nil {
		t.Fatal(err)
	}
	st := store.New(db, ids, true)

	chatHub := hub.New(sugar, nil, hub.Options{})

	auth, err := jwt.NewVerifier(testSecret, "")
	if err != nil {
		t.Fatal(err)
	}

	h, err := handlers.New(handlers.Deps{
		Config:   cfg,
		Sugar:    sugar,
		Store:    st,
		KV:       keyValue.New(sugar, nil),
		Hub:      chatHub,
		Presence: presence.New(sugar, st, chatHub, 0),
		Auth:     auth,
		IDs:      ids,
	})
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(h.Router())
	t.Cleanup(func() {
		chatHub.Close()
		srv.Close()
	})

	ctx := context.Background()
	if _, err := st.UpsertUser(ctx, models.User{ID: "alice", Username: "alice"}); err != nil {
		t.Fatal(err)
	}
	server, err := st.CreateServer(ctx, "alice", "Gophers", "", "")
	if err != nil {
		t.Fatal(err)
	}

	return &testServer{
		url:       srv.URL,
		store:     st,
		auth:      auth,
		serverID:  server.ID,
		channelID: server.Channels[0].ID,
	}
}

// client returns a client for userID, adding the user to the server first.
func (ts *testServer) client(t *testing.T, userID string, sugar *zap.SugaredLogger) *Client {
	t.Helper()
	ctx := context.Background()

	if userID != "alice" {
		if _, err := ts.store.UpsertUser(ctx, models.User{ID: userID, Username: userID}); err != nil {
			t.Fatal(err)
		}
		if _, err := ts.store.JoinServer(ctx, ts.serverID, userID); err != nil {
			t.Fatal(err)
		}
	}

	token, err := ts.auth.CreateToken(userID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	client, err := NewClient(ts.url, token, sugar)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(client.http.CloseIdleConnections)
	return client
}

// waitList returns the first list passed to onChange that satisfies ok.
func waitList[T any](t *testing.T, lists <-chan []T, what string, ok func([]T) bool) []T {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case list := <-lists:
			if ok(list) {
				return list
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
			return nil
		}
	}
}

func TestChannelMessagesLive(t *testing.T) {
	ts := startServer(t)
	ctx := context.Background()

	if _, _, err := ts.store.CreateMessage(ctx, "alice", ts.channelID, "before"); err != nil {
		t.Fatal(err)
	}

	client := ts.client(t, "alice", nil)

	lists := make(chan []models.Message, 16)
	messages := client.ChannelMessages(ctx, ts.channelID, 10, func(list []models.Message) { lists <- list })
	defer messages.Close()

	waitList(t, lists, "initial page", func(l []models.Message) bool { return len(l) == 1 })

	sent, err := client.SendMessage(ctx, ts.channelID, "after")
	if err != nil {
		t.Fatal(err)
	}

	list := waitList(t, lists, "pushed message", func(l []models.Message) bool { return len(l) == 2 })
	if list[0].Content != "before" || list[1].ID != sent.ID {
		t.Errorf("unexpected feed %+v", list)
	}
}

func TestTwoFeedsOneClient(t *testing.T) {
	ts := startServer(t)
	ctx := context.Background()

	core, logs := observer.New(zap.WarnLevel)
	alice := ts.client(t, "alice", zap.New(core).Sugar())
	bob := ts.client(t, "bob", nil)

	messageLists := make(chan []models.Message, 64)
	messages := alice.ChannelMessages(ctx, ts.channelID, 10, func(l []models.Message) { messageLists <- l })
	defer messages.Close()

	notificationLists := make(chan []models.Notification, 64)
	notifications := alice.NotificationFeed(ctx, func(l []models.Notification) { notificationLists <- l })
	defer notifications.Close()

	// the message lands either on the first page or as a push
	if _, err := bob.SendMessage(ctx, ts.channelID, "hey @alice"); err != nil {
		t.Fatal(err)
	}

	waitList(t, messageLists, "pushed message", func(l []models.Message) bool { return len(l) == 1 })
	got := waitList(t, notificationLists, "pushed mention", func(l []models.Notification) bool { return len(l) == 1 })
	if got[0].Kind != models.NotifyMention {
		t.Errorf("notification type got %s, want mention", got[0].Kind)
	}

	if n := logs.FilterMessageSnippet("reconnecting").Len(); n != 0 {
		t.Errorf("feeds reconnected %d times, want 0", n)
	}
	if messages.Err() != nil || notifications.Err() != nil {
		t.Errorf("unexpected feed errors %v, %v", messages.Err(), notifications.Err())
	}
}

func TestNotificationFeed(t *testing.T) {
	ts := startServer(t)
	ctx := context.Background()

	for _, content := range []string{"first", "second"} {
		_, err := ts.store.CreateNotification(ctx, models.Notification{UserID: "alice", Kind: models.NotifyMessage, Content: content})
		if err != nil {
			t.Fatal(err)
		}
	}

	alice := ts.client(t, "alice", nil)
	bob := ts.client(t, "bob", nil)

	lists := make(chan []models.Notification, 64)
	f := alice.NotificationFeed(ctx, func(l []models.Notification) { lists <- l })
	defer f.Close()

	page := waitList(t, lists, "initial page", func(l []models.Notification) bool { return len(l) == 2 })
	if page[0].Content != "first" || page[1].Content != "second" {
		t.Errorf("initial page got %q, %q, want oldest first", page[0].Content, page[1].Content)
	}

	if _, err := bob.SendMessage(ctx, ts.channelID, "ping @alice"); err != nil {
		t.Fatal(err)
	}
	list := waitList(t, lists, "pushed mention", func(l []models.Notification) bool { return len(l) == 3 })
	if list[0].Content != "first" || list[2].Kind != models.NotifyMention {
		t.Errorf("expected the mention appended after the page, got %+v", list)
	}

	updated, err := alice.MarkAllRead(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if updated != 3 {
		t.Errorf("marked %d read, want 3", updated)
	}

	waitList(t, lists, "every notification read", func(l []models.Notification) bool {
		for _, n := range l {
			if n.ReadAt == nil {
				return false
			}
		}
		return len(l) == 3
	})
}

func TestNewClientRejects(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"No scheme", "localhost:3000"},
		{"Websocket scheme", "ws://localhost:3000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.url, "token", nil); err == nil {
				t.Error("Expected error, but there wasn't")
			}
		})
	}
}
