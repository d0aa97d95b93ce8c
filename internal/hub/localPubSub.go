package hub

import (
	"sync"
)

// LocalPubSub maps topics to the sessions of this instance subscribed to them.
type LocalPubSub struct {
	mutex   sync.RWMutex
	hashMap map[string]map[int64]*Client
}

func NewLocalPubSub() *LocalPubSub {
	return &LocalPubSub{hashMap: make(map[string]map[int64]*Client)}
}

func (ps *LocalPubSub) Unsubscribe(topic string, client *Client) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	ps.unsubscribe(topic, client)
}

// unsubscribe leaves a newer socket of the same session alone.
func (ps *LocalPubSub) unsubscribe(topic string, client *Client) {
	sessions, ok := ps.hashMap[topic]
	if !ok || sessions[client.SessionID] != client {
		return
	}
	delete(sessions, client.SessionID)

	// delete topic from map if no session is subscribed to it
	if len(sessions) == 0 {
		delete(ps.hashMap, topic)
	}
}

func (ps *LocalPubSub) UnsubscribeFromAll(topics []string, client *Client) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	for _, topic := range topics {
		ps.unsubscribe(topic, client)
	}
}

func (ps *LocalPubSub) Subscribe(topic string, client *Client) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	sessions, ok := ps.hashMap[topic]
	if !ok {
		sessions = make(map[int64]*Client)
		ps.hashMap[topic] = sessions
	}
	sessions[client.SessionID] = client
}

// Publish queues frame on every subscribed session and returns how many there were.
func (ps *LocalPubSub) Publish(topic string, frame []byte) int {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	sessions := ps.hashMap[topic]
	for _, client := range sessions {
		client.enqueue(frame)
	}
	return len(sessions)
}

func (ps *LocalPubSub) Subscribers(topic string) int {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	return len(ps.hashMap[topic])
}
