// Package transport is the Connection Manager and Command Dispatcher
// (spec.md §4.7, C8/C9): the handshake→authenticate→play session lifecycle,
// the bounded per-session outbox, and envelope routing. Grounded in
// opd-ai-goldbox-rpg's PlayerSession (MessageChan + WSConn pairing a
// gorilla/websocket connection with a buffered channel) and in spec.md §9's
// "coroutine control flow" note: one reader task, one writer task, a
// bounded channel between them, the dispatcher a plain function the reader
// calls.
package transport

import (
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/vdmkenny/rpg-engine-sub003/internal/protocol"
)

// outboxCapacity bounds the writer's backlog; the dispatcher never blocks
// on a slow socket (spec.md §4.7).
const outboxCapacity = 64

// incomingRateLimit and incomingBurst bound how fast one connection may
// submit commands, independent of the per-action cooldowns (movement,
// combat) the gameplay services enforce themselves. Not named by spec.md;
// carried as the ambient abuse guard any exposed socket needs.
const incomingRateLimit = 20
const incomingBurst = 40

// Session is one authenticated connection's state: identity plus the
// reader/writer goroutine pair and the bounded channel between them.
type Session struct {
	conn *websocket.Conn

	PlayerID int64
	Username string
	MapID    string

	outbox    chan []byte
	closeOnce sync.Once
	done      chan struct{}
	limiter   *rate.Limiter
}

// NewSession wraps a freshly-accepted websocket connection. PlayerID and
// Username are populated once cmd_authenticate succeeds.
func NewSession(conn *websocket.Conn) *Session {
	return &Session{
		conn:    conn,
		outbox:  make(chan []byte, outboxCapacity),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(incomingRateLimit), incomingBurst),
	}
}

// Allow reports whether the session's incoming-command budget permits
// handling another command right now.
func (s *Session) Allow() bool {
	return s.limiter.Allow()
}

// Send enqueues an envelope for the writer goroutine. Best-effort: if the
// outbox is full, the oldest guarantee spec.md §4.8 makes is "dropped
// events are acceptable if the session is slow" — so a full queue drops the
// new envelope rather than blocking the caller.
func (s *Session) Send(env protocol.Envelope) error {
	body, err := protocol.MarshalFrame(env)
	if err != nil {
		return err
	}
	select {
	case s.outbox <- body:
		return nil
	case <-s.done:
		return nil
	default:
		return nil // dropped: outbox full, session is slow
	}
}

// WriteLoop drains the outbox to the socket until the session closes.
// Intended to run as its own goroutine, one per session.
func (s *Session) WriteLoop() {
	for {
		select {
		case body, ok := <-s.outbox:
			if !ok {
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, body); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// ReadLoop decodes frames off the socket and calls handle for each one,
// until the socket closes or an unrecoverable read error occurs. Intended
// to run as its own goroutine, one per session; handle is the dispatcher's
// entry point.
func (s *Session) ReadLoop(handle func(*Session, protocol.Envelope)) {
	defer s.Close()
	for {
		msgType, body, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		env, err := protocol.UnmarshalFrame(body)
		if err != nil {
			continue
		}
		if !s.Allow() {
			_ = s.Send(protocol.Error(env.ID, protocol.ReasonRateLimited, "too many commands"))
			continue
		}
		handle(s, env)
	}
}

// Close shuts the session down exactly once: closes the socket and signals
// both goroutines to exit.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Done reports whether the session has been closed.
func (s *Session) Done() <-chan struct{} { return s.done }
