package feed

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// the hub drops sessions it hasn't heard from in a minute
	heartbeatPeriod = 30 * time.Second
)

// WebSocket subscribes to the hub's /ws endpoint.
type WebSocket struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
}

func (ws *WebSocket) Connect(ctx context.Context) (Stream, error) {
	dialer := ws.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, ws.URL, ws.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake got %s: %w", resp.Status, err)
		}
		return nil, err
	}

	s := &wsStream{
		conn:   conn,
		frames: make(chan frameOrErr),
		stop:   make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.heartbeatLoop()
	return s, nil
}

type frameOrErr struct {
	event Event
	err   error
}

type wsStream struct {
	conn   *websocket.Conn
	frames chan frameOrErr
	stop   chan struct{}

	writeMutex sync.Mutex
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

func (s *wsStream) write(messageType int, data []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

func (s *wsStream) Next(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-s.stop:
		return Event{}, ErrClosed
	case f := <-s.frames:
		return f.event, f.err
	}
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = s.conn.Close()
	})
	s.wg.Wait()
	return err
}

func (s *wsStream) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.frames <- frameOrErr{err: err}:
			case <-s.stop:
			}
			return
		}

		event, err := parseFrame(payload)
		if err != nil {
			continue
		}

		select {
		case s.frames <- frameOrErr{event: event}:
		case <-s.stop:
			return
		}
	}
}

// heartbeatLoop keeps the user's presence fresh while the stream is open.
func (s *wsStream) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.write(websocket.TextMessage, []byte("Heartbeat\n{}")); err != nil {
				return
			}
		}
	}
}

// parseFrame splits "Type\njson" as the hub sends it.
func parseFrame(payload []byte) (Event, error) {
	eventType, data, found := bytes.Cut(payload, []byte("\n"))
	if !found || len(eventType) == 0 {
		return Event{}, fmt.Errorf("malformed frame %q", payload)
	}
	return Event{Type: string(eventType), Data: data}, nil
}
