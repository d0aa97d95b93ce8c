package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Topic names what a session listens to, like "channel:123". Kinds without
// an id, such as presence, are the topic themselves.
func Topic(kind string, id string) string {
	if id == "" {
		return kind
	}
	return kind + ":" + id
}

// Subscribe attaches a session to a topic. A session follows one channel and
// one server at a time, so subscribing to a new one drops the previous.
// Server list subscriptions accumulate since several servers are in view at once.
func (h *Hub) Subscribe(sessionID int64, kind string, id string) error {
	client, exists := h.GetClient(sessionID)
	if !exists {
		return fmt.Errorf("session ID [%d] tried to subscribe to %s [%s] but the session isn't connected to hub", sessionID, kind, id)
	}

	newKey := Topic(kind, id)

	client.mutex.Lock()
	defer client.mutex.Unlock()

	if client.closed {
		return nil
	}

	switch kind {
	case KindChannel:
		if client.currentChannel != "" && client.currentChannel != newKey {
			h.unsubscribe(client, client.currentChannel)
			h.sugar.Debugf("Session ID %d unsubscribed from %s", sessionID, client.currentChannel)
		}
		client.currentChannel = newKey
	case KindServer:
		if client.currentServer != "" && client.currentServer != newKey {
			h.unsubscribe(client, client.currentServer)
			h.sugar.Debugf("Session ID %d unsubscribed from %s", sessionID, client.currentServer)
		}
		client.currentServer = newKey
	case KindServerList, KindNotifications, KindPresence:
	default:
		return fmt.Errorf("unknown topic kind %q", kind)
	}

	client.topics[newKey] = struct{}{}
	h.local.Subscribe(newKey, client)

	h.sugar.Debugf("Session ID %d subscribed to %s", sessionID, newKey)
	return nil
}

// subscribe is used on connect before the session is visible to handlers.
func (h *Hub) subscribe(client *Client, topic string) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	client.topics[topic] = struct{}{}
	h.local.Subscribe(topic, client)
}

// caller holds client.mutex
func (h *Hub) unsubscribe(client *Client, topic string) {
	delete(client.topics, topic)
	h.local.Unsubscribe(topic, client)
}

// Frame encodes an event the way it goes over the socket: the type, a newline, then json.
func Frame(eventType string, payload any) ([]byte, error) {
	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(eventType) + 1 + len(jsonBytes))
	buf.WriteString(eventType)
	buf.WriteByte('\n')
	buf.Write(jsonBytes)

	return buf.Bytes(), nil
}

// Emit sends an event to every session subscribed to topic, on every instance.
func (h *Hub) Emit(ctx context.Context, eventType string, topic string, payload any) error {
	frame, err := Frame(eventType, payload)
	if err != nil {
		return err
	}

	h.sugar.Debugf("Sending %s to those on %s", eventType, topic)

	if h.redis == nil {
		h.local.Publish(topic, frame)
		return nil
	}

	return h.redis.Publish(ctx, redisPrefix+topic, frame).Err()
}
