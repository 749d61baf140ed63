package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LogStreamSink streams events to the operations log viewer over a
// websocket. The connection is dialed lazily and redialed after failures.
type LogStreamSink struct {
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewLogStreamSink creates a sink for the given websocket URL.
func NewLogStreamSink(url string) *LogStreamSink {
	return &LogStreamSink{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
		},
	}
}

func (s *LogStreamSink) Name() string {
	return "log_stream"
}

// Emit writes the event as a JSON text frame. A write failure drops the
// connection so the next emit redials.
func (s *LogStreamSink) Emit(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			return fmt.Errorf("failed to dial log stream: %w", err)
		}
		s.conn = conn
	}

	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.conn.Close()
		s.conn = nil
		return fmt.Errorf("failed to write to log stream: %w", err)
	}
	return nil
}

// Close closes the websocket connection if one is open.
func (s *LogStreamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
