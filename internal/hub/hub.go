package hub

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

const (
	defaultQueueSize = 64
	redisPrefix      = "feed:"
)

type Options struct {
	// outbound frames buffered per session before it counts as too slow
	QueueSize      int
	AllowAnyOrigin bool

	// OnConnect runs when a user opens their first session,
	// OnDisconnect when their last one closes.
	OnConnect    func(userID string)
	OnDisconnect func(userID string)
	OnHeartbeat  func(userID string)
}

type Client struct {
	UserID    string
	SessionID int64

	conn *websocket.Conn
	send chan []byte

	// subscriptions, guarded by mutex
	mutex          sync.Mutex
	currentChannel string
	currentServer  string
	topics         map[string]struct{}
	closed         bool

	closeOnce sync.Once
	closeCode int
	done      chan struct{}
}

func newClient(userID string, sessionID int64, conn *websocket.Conn, queueSize int) *Client {
	return &Client{
		UserID:    userID,
		SessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, queueSize),
		topics:    make(map[string]struct{}),
		done:      make(chan struct{}),
	}
}

// enqueue never blocks; a full queue closes the session with 1013.
func (c *Client) enqueue(frame []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- frame:
	default:
		c.kick(websocket.CloseTryAgainLater)
	}
}

func (c *Client) kick(code int) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		close(c.done)
	})
}

// Hub fans events out to websocket sessions. It always delivers through the
// local topic map; with redis, events travel through redis first so every
// instance sees them.
type Hub struct {
	sugar *zap.SugaredLogger
	redis *redis.Client
	local *LocalPubSub
	opts  Options

	upgrader websocket.Upgrader

	clientsMutex sync.RWMutex
	clients      map[int64]*Client
	sessions     map[string]int
	// set by Close, no session is added to wg afterwards
	closing bool

	wg sync.WaitGroup
}

// New returns a hub. redisClient may be nil for a single instance.
func New(sugar *zap.SugaredLogger, redisClient *redis.Client, opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	h := &Hub{
		sugar:    sugar,
		redis:    redisClient,
		local:    NewLocalPubSub(),
		opts:     opts,
		clients:  make(map[int64]*Client),
		sessions: make(map[string]int),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	if opts.AllowAnyOrigin {
		h.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return h
}

// Run bridges redis pub/sub into the local topic map until ctx is done.
// Without redis it just waits.
func (h *Hub) Run(ctx context.Context) error {
	if h.redis == nil {
		<-ctx.Done()
		return nil
	}

	pubsub := h.redis.PSubscribe(ctx, redisPrefix+"*")
	defer pubsub.Close()

	// wait for confirmation so nothing published after Run starts is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	msgCh := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgCh:
			if !ok {
				return nil
			}
			topic := strings.TrimPrefix(msg.Channel, redisPrefix)
			h.local.Publish(topic, []byte(msg.Payload))
		}
	}
}

// HandleClient upgrades the request and serves the session until it closes.
func (h *Hub) HandleClient(w http.ResponseWriter, r *http.Request, userID string, sessionID int64) {
	h.sugar.Debugf("Connecting user ID [%s] to WebSocket as session ID [%d]", userID, sessionID)

	h.clientsMutex.Lock()
	if h.closing {
		h.clientsMutex.Unlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.clientsMutex.Unlock()
	defer h.wg.Done()

	// registered before the handshake completes, so a read the client makes
	// right after connecting can already subscribe this session
	client := newClient(userID, sessionID, nil, h.opts.QueueSize)
	h.setClient(client)

	h.subscribe(client, Topic(KindNotifications, userID))
	h.subscribe(client, Topic(KindPresence, ""))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already replied with an error
		h.sugar.Debug(err)
		h.deleteClient(client)
		client.kick(websocket.CloseAbnormalClosure)
		return
	}
	client.conn = conn

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(client)
	}()

	h.readPump(client)

	h.deleteClient(client)
	client.kick(websocket.CloseNormalClosure)
	<-writerDone
}

func (h *Hub) readPump(client *Client) {
	conn := client.conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// listening to incoming messages directly from client
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseTryAgainLater) {
				h.sugar.Debug(err)
			}
			return
		}

		frameType, _, _ := strings.Cut(string(data), "\n")
		if frameType == Heartbeat {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			if h.opts.OnHeartbeat != nil {
				h.opts.OnHeartbeat(client.UserID)
			}
		}
	}
}

func (h *Hub) writePump(client *Client) {
	conn := client.conn
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-client.done:
			msg := websocket.FormatCloseMessage(client.closeCode, "")
			if client.closeCode == websocket.CloseTryAgainLater {
				h.sugar.Warnf("Session ID [%d] of user ID [%s] couldn't keep up and was closed", client.SessionID, client.UserID)
				msg = websocket.FormatCloseMessage(client.closeCode, "too slow")
			}
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case frame := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.sugar.Debug(err)
				client.kick(websocket.CloseAbnormalClosure)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.sugar.Debug(err)
				client.kick(websocket.CloseAbnormalClosure)
				return
			}
		}
	}
}

func (h *Hub) setClient(client *Client) {
	h.sugar.Debugf("Adding user ID [%s] to clients as session ID [%d]", client.UserID, client.SessionID)

	h.clientsMutex.Lock()
	if old, exists := h.clients[client.SessionID]; exists {
		// same session reconnected, the old socket is replaced
		old.kick(websocket.ClosePolicyViolation)
		h.sessions[old.UserID]--
	}
	h.clients[client.SessionID] = client
	h.sessions[client.UserID]++
	first := h.sessions[client.UserID] == 1
	h.clientsMutex.Unlock()

	if first && h.opts.OnConnect != nil {
		h.opts.OnConnect(client.UserID)
	}
}

func (h *Hub) deleteClient(client *Client) {
	h.sugar.Debugf("Removing session ID [%d] from clients", client.SessionID)

	client.mutex.Lock()
	client.closed = true
	topics := make([]string, 0, len(client.topics))
	for topic := range client.topics {
		topics = append(topics, topic)
	}
	client.mutex.Unlock()
	h.local.UnsubscribeFromAll(topics, client)

	h.clientsMutex.Lock()
	if current, exists := h.clients[client.SessionID]; !exists || current != client {
		// already replaced by a newer socket of the same session
		h.clientsMutex.Unlock()
		return
	}
	delete(h.clients, client.SessionID)
	h.sessions[client.UserID]--
	last := h.sessions[client.UserID] <= 0
	if last {
		delete(h.sessions, client.UserID)
	}
	h.clientsMutex.Unlock()

	if last && h.opts.OnDisconnect != nil {
		h.opts.OnDisconnect(client.UserID)
	}
}

func (h *Hub) GetClient(sessionID int64) (*Client, bool) {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()

	client, exists := h.clients[sessionID]
	return client, exists
}

// Online reports whether userID has at least one open session on this instance.
func (h *Hub) Online(userID string) bool {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()

	return h.sessions[userID] > 0
}

// Close closes every session and waits for them to finish.
func (h *Hub) Close() {
	h.clientsMutex.Lock()
	h.closing = true
	for _, client := range h.clients {
		client.kick(websocket.CloseGoingAway)
	}
	h.clientsMutex.Unlock()

	h.wg.Wait()
}
