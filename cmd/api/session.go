package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tetherchat/tether/internal/event"
)

const (
	// writeWait is the deadline for a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long the read loop tolerates silence before it treats
	// the peer as gone. Abrupt closes surface here as read errors and run
	// the same teardown as a graceful disconnect.
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10

	maxFrameSize = 8 * 1024
	sendBuffer   = 64
)

var (
	errSessionClosed  = errors.New("session closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Session owns one socket and its authentication state. A session starts
// anonymous; the first successful login/signup/setup binds a username and
// registers it in the hub. All inbound events are dispatched from the read
// loop, so username needs no locking.
type Session struct {
	id     string
	srv    *Server
	conn   *websocket.Conn
	ctx    context.Context
	connID int64
	log    zerolog.Logger

	// username is empty while the session is anonymous.
	username string

	mu     sync.Mutex
	closed bool
	send   chan []byte

	teardownOnce sync.Once
}

func newSession(ctx context.Context, srv *Server, conn *websocket.Conn) *Session {
	id := uuid.NewString()
	return &Session{
		id:   id,
		srv:  srv,
		conn: conn,
		ctx:  ctx,
		send: make(chan []byte, sendBuffer),
		log:  srv.log.With().Str("conn", id).Logger(),
	}
}

// Send implements EventSender. It serialises the event and enqueues it for
// the writer pump without blocking; when the buffer is full the frame is
// dropped (best-effort delivery, the durable copy is in the store).
func (s *Session) Send(env *event.Envelope) error {
	raw, err := env.Encode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	select {
	case s.send <- raw:
		return nil
	default:
		return errSendBufferFull
	}
}

// sendEvent builds and sends one event, logging failures at debug level.
func (s *Session) sendEvent(name string, payload any) {
	env, err := event.New(name, payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", name).Msg("failed to build event")
		return
	}
	if err := s.Send(env); err != nil {
		s.log.Debug().Err(err).Str("event", name).Msg("failed to send event")
	}
}

// run drives the session until the socket dies, then tears it down.
func (s *Session) run() {
	s.connID = s.srv.hub.AddConn(s)
	go s.writePump()

	// New sockets get the current roster right away so the client can render
	// the user list before authenticating.
	s.srv.sendRosterTo(s)

	s.readPump()
	s.teardown()
}

func (s *Session) readPump() {
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("socket closed abruptly")
			}
			return
		}
		s.dispatch(raw)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound frame to its handler. Frames that fail to
// parse and events that require authentication on an anonymous session are
// dropped: only a buggy or malicious client produces them.
func (s *Session) dispatch(raw []byte) {
	env, err := event.Decode(raw)
	if err != nil {
		s.log.Debug().Err(err).Msg("dropping malformed frame")
		return
	}

	switch env.Event {
	case event.Login:
		s.srv.handleLogin(s, env)
	case event.Signup:
		s.srv.handleSignup(s, env)
	case event.SetUsername:
		s.srv.handleSetUsername(s, env)
	case event.SetupPassword:
		s.srv.handleSetupPassword(s, env)
	case event.Resume:
		s.srv.handleResume(s, env)
	case event.ChatMessage:
		s.srv.handleChatMessage(s, env)
	case event.LoadMessages:
		s.srv.handleLoadMessages(s, env)
	default:
		s.log.Debug().Str("event", env.Event).Msg("dropping unknown event")
	}
}

// authenticated reports whether a username is bound to this session.
func (s *Session) authenticated() bool {
	return s.username != ""
}

// teardown runs exactly once, whether the socket closed gracefully or the
// peer vanished. It releases the presence binding, persists offline status
// and lets the roster broadcast fire via the hub hook.
func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		if s.authenticated() {
			// Persist the durable flag before unregistering so the roster
			// broadcast fired by the registry mutation never reads a stale
			// online flag for this user.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.srv.users.SetOnline(ctx, s.username, false); err != nil {
				// The registry goes offline regardless; the durable flag
				// catches up on the next login.
				s.log.Warn().Err(err).Msg("failed to persist offline status")
			}

			s.srv.hub.Unregister(s.username, s.connID)
		}
		s.srv.hub.RemoveConn(s.connID)

		s.mu.Lock()
		s.closed = true
		close(s.send)
		s.mu.Unlock()

		s.log.Info().Str("username", s.username).Msg("session closed")
	})
}
