package events

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocketSink forwards events as JSON frames over a websocket connection.
// Emission never blocks: events queue into a bounded buffer and drop when the
// writer cannot keep up.
type WebSocketSink struct {
	conn   *websocket.Conn
	ch     chan Event
	done   chan struct{}
	logger zerolog.Logger
	once   sync.Once
}

// NewWebSocketSink dials url and starts the writer loop.
func NewWebSocketSink(url string, logger zerolog.Logger) (*WebSocketSink, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}

	s := &WebSocketSink{
		conn:   conn,
		ch:     make(chan Event, 256),
		done:   make(chan struct{}),
		logger: logger,
	}

	go s.writeLoop()

	return s, nil
}

// Emit queues the event, dropping it when the buffer is full.
func (s *WebSocketSink) Emit(event Event) {
	select {
	case s.ch <- event:
	case <-s.done:
	default:
		s.logger.Debug().Str("type", string(event.Type)).Msg("Dropping event, websocket writer behind")
	}
}

// Close stops the writer and closes the connection.
func (s *WebSocketSink) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.conn.Close()
}

func (s *WebSocketSink) writeLoop() {
	for {
		select {
		case event := <-s.ch:
			if err := s.conn.WriteJSON(event); err != nil {
				s.logger.Warn().Err(err).Msg("Websocket event write failed")
				return
			}
		case <-s.done:
			return
		}
	}
}
