package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/tetherchat/tether/internal/auth"
	"github.com/tetherchat/tether/internal/data"
	"github.com/tetherchat/tether/internal/event"
	"github.com/tetherchat/tether/internal/metrics"
	"github.com/tetherchat/tether/internal/ratelimit"
)

// UserStore is the credential store contract the server depends on.
// *data.UsersStore satisfies it; tests substitute fakes.
type UserStore interface {
	CreateUser(ctx context.Context, username, hashedPassword string) (*data.User, error)
	ClaimUsername(ctx context.Context, username string) (*data.User, error)
	GetByUsername(ctx context.Context, username string) (*data.User, error)
	SetPassword(ctx context.Context, username, hashedPassword string) error
	SetOnline(ctx context.Context, username string, online bool) error
	List(ctx context.Context) ([]*data.User, error)
}

// MessageStore is the message store contract the server depends on.
type MessageStore interface {
	Save(ctx context.Context, sender, receiver, body string) (*data.Message, error)
	Conversation(ctx context.Context, user1, user2 string) ([]*data.Message, error)
	ForUser(ctx context.Context, username string) ([]*data.Message, error)
}

// Server wires the socket endpoint to the stores, the presence hub and the
// auth helpers.
type Server struct {
	users   UserStore
	msgs    MessageStore
	tokens  *auth.TokenManager
	hub     *Hub
	limiter *ratelimit.Store
	log     zerolog.Logger

	upgrader websocket.Upgrader
}

// newServer returns a ready-to-use Server and installs the roster broadcast
// as the hub's presence-change hook.
func newServer(users UserStore, msgs MessageStore, tokens *auth.TokenManager, hub *Hub, limiter *ratelimit.Store, log zerolog.Logger) *Server {
	srv := &Server{
		users:   users,
		msgs:    msgs,
		tokens:  tokens,
		hub:     hub,
		limiter: limiter,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The socket carries its own authentication; cross-origin pages
			// may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	hub.SetOnChange(srv.broadcastRoster)
	return srv
}

// routes assembles the HTTP surface: the chat socket, liveness and metrics.
func (srv *Server) routes(ping func(context.Context) error) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", srv.serveWS).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if ping != nil {
			if err := ping(ctx); err != nil {
				http.Error(w, "store unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return r
}

// serveWS upgrades the request and runs the session until the socket dies.
func (srv *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	s := newSession(r.Context(), srv, conn)
	s.log.Info().Str("remote", r.RemoteAddr).Msg("session opened")
	s.run()
}

// buildRoster derives the full user list: every user known to the
// credential store, with the online flag taken from the live registry when
// the user has a presence entry and from the stored flag otherwise.
func (srv *Server) buildRoster(ctx context.Context) (*event.Envelope, error) {
	users, err := srv.users.List(ctx)
	if err != nil {
		return nil, err
	}

	online := srv.hub.OnlineSnapshot()
	entries := lo.Map(users, func(u *data.User, _ int) event.UserStatus {
		return event.UserStatus{
			Username: u.Username,
			Online:   online[u.Username] || u.Online,
		}
	})

	return event.New(event.Users, event.Roster{Users: entries})
}

// broadcastRoster pushes the full roster to every open connection. Fired by
// the hub after each presence mutation. The same complete list goes to all
// sockets; clients filter locally if they want to hide themselves.
func (srv *Server) broadcastRoster() {
	timer := prometheus.NewTimer(metrics.RosterBroadcastDuration)
	defer timer.ObserveDuration()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := srv.buildRoster(ctx)
	if err != nil {
		// Connected clients keep their previous roster; the next presence
		// change retries.
		srv.log.Error().Err(err).Msg("failed to build roster")
		return
	}
	srv.hub.Broadcast(env)
}

// sendRosterTo pushes the current roster to a single session, used right
// after a socket opens.
func (srv *Server) sendRosterTo(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := srv.buildRoster(ctx)
	if err != nil {
		srv.log.Error().Err(err).Msg("failed to build roster for new session")
		return
	}
	if err := s.Send(env); err != nil {
		s.log.Debug().Err(err).Msg("failed to send initial roster")
	}
}
