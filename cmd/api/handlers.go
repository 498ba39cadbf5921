package main

import (
	"errors"
	"html"

	"github.com/tetherchat/tether/internal/auth"
	"github.com/tetherchat/tether/internal/data"
	"github.com/tetherchat/tether/internal/event"
	"github.com/tetherchat/tether/internal/metrics"
	"github.com/tetherchat/tether/internal/normalize"
)

// handleLogin authenticates an anonymous session against the credential
// store. Unknown user prompts signup, a claimed-but-passwordless user is
// sent to password setup, a hash mismatch fails without any lockout.
func (srv *Server) handleLogin(s *Session, env *event.Envelope) {
	if s.authenticated() {
		s.log.Debug().Msg("dropping login on authenticated session")
		return
	}

	var creds event.Credentials
	if err := event.DecodeData(env, &creds); err != nil {
		s.sendEvent(event.LoginFailed, event.Failure{Reason: "username and password are required"})
		return
	}
	username := normalize.Username(creds.Username)

	if !srv.limiter.Allow("login:" + username) {
		metrics.AuthFailuresTotal.WithLabelValues("rate_limited").Inc()
		s.sendEvent(event.LoginFailed, event.Failure{Reason: "too many attempts, slow down"})
		return
	}

	user, err := srv.users.GetByUsername(s.ctx, username)
	if errors.Is(err, data.ErrUserNotFound) {
		metrics.AuthFailuresTotal.WithLabelValues("unknown_user").Inc()
		s.sendEvent(event.PromptSignup, event.Failure{Reason: "no account for this username"})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("login: user lookup failed")
		metrics.AuthFailuresTotal.WithLabelValues("store_error").Inc()
		s.sendEvent(event.LoginFailed, event.Failure{Reason: "temporary error, try again"})
		return
	}

	if !user.HasPassword() {
		metrics.AuthFailuresTotal.WithLabelValues("needs_setup").Inc()
		s.sendEvent(event.RequireSetup, nil)
		return
	}

	if err := auth.CheckPassword(user.Password, creds.Password); err != nil {
		metrics.AuthFailuresTotal.WithLabelValues("bad_password").Inc()
		s.sendEvent(event.LoginFailed, event.Failure{Reason: "invalid credentials"})
		return
	}

	srv.finishAuth(s, user.Username, event.LoginSuccess)
}

// handleSignup creates a new account. A username that already exists,
// including one claimed without a password, is taken.
func (srv *Server) handleSignup(s *Session, env *event.Envelope) {
	if s.authenticated() {
		s.log.Debug().Msg("dropping signup on authenticated session")
		return
	}

	var creds event.Credentials
	if err := event.DecodeData(env, &creds); err != nil {
		s.sendEvent(event.SignupFailed, event.Failure{Reason: "username and password are required"})
		return
	}
	username := normalize.Username(creds.Username)

	if !srv.limiter.Allow("signup:" + username) {
		metrics.AuthFailuresTotal.WithLabelValues("rate_limited").Inc()
		s.sendEvent(event.SignupFailed, event.Failure{Reason: "too many attempts, slow down"})
		return
	}

	hashed, err := auth.HashPassword(creds.Password)
	if err != nil {
		s.log.Error().Err(err).Msg("signup: password hash failed")
		s.sendEvent(event.SignupFailed, event.Failure{Reason: "temporary error, try again"})
		return
	}

	user, err := srv.users.CreateUser(s.ctx, username, hashed)
	if errors.Is(err, data.ErrUserExists) {
		metrics.AuthFailuresTotal.WithLabelValues("username_taken").Inc()
		s.sendEvent(event.SignupFailed, event.Failure{Reason: "username taken"})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("signup: create user failed")
		metrics.AuthFailuresTotal.WithLabelValues("store_error").Inc()
		s.sendEvent(event.SignupFailed, event.Failure{Reason: "temporary error, try again"})
		return
	}

	srv.finishAuth(s, user.Username, event.SignupSuccessful)
}

// handleSetUsername claims a username without a password. The session stays
// anonymous; the client is expected to follow up with setup-password.
func (srv *Server) handleSetUsername(s *Session, env *event.Envelope) {
	if s.authenticated() {
		s.log.Debug().Msg("dropping set-username on authenticated session")
		return
	}

	var payload event.UsernameOnly
	if err := event.DecodeData(env, &payload); err != nil {
		s.sendEvent(event.SetupFailed, event.Failure{Reason: "username is required"})
		return
	}
	username := normalize.Username(payload.Username)

	user, err := srv.users.GetByUsername(s.ctx, username)
	switch {
	case errors.Is(err, data.ErrUserNotFound):
		if _, err := srv.users.ClaimUsername(s.ctx, username); err != nil && !errors.Is(err, data.ErrUserExists) {
			s.log.Error().Err(err).Msg("set-username: claim failed")
			s.sendEvent(event.SetupFailed, event.Failure{Reason: "temporary error, try again"})
			return
		}
		s.sendEvent(event.RequireSetup, nil)
	case err != nil:
		s.log.Error().Err(err).Msg("set-username: user lookup failed")
		s.sendEvent(event.SetupFailed, event.Failure{Reason: "temporary error, try again"})
	case user.HasPassword():
		s.sendEvent(event.LoginFailed, event.Failure{Reason: "password already set, log in instead"})
	default:
		s.sendEvent(event.RequireSetup, nil)
	}
}

// handleSetupPassword completes a claimed signup: it is only valid for a
// user that exists without a password.
func (srv *Server) handleSetupPassword(s *Session, env *event.Envelope) {
	if s.authenticated() {
		s.log.Debug().Msg("dropping setup-password on authenticated session")
		return
	}

	var creds event.Credentials
	if err := event.DecodeData(env, &creds); err != nil {
		s.sendEvent(event.SetupFailed, event.Failure{Reason: "username and password are required"})
		return
	}
	username := normalize.Username(creds.Username)

	if !srv.limiter.Allow("setup:" + username) {
		metrics.AuthFailuresTotal.WithLabelValues("rate_limited").Inc()
		s.sendEvent(event.SetupFailed, event.Failure{Reason: "too many attempts, slow down"})
		return
	}

	user, err := srv.users.GetByUsername(s.ctx, username)
	if errors.Is(err, data.ErrUserNotFound) {
		metrics.AuthFailuresTotal.WithLabelValues("unknown_user").Inc()
		s.sendEvent(event.SetupFailed, event.Failure{Reason: "unknown username"})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("setup-password: user lookup failed")
		metrics.AuthFailuresTotal.WithLabelValues("store_error").Inc()
		s.sendEvent(event.SetupFailed, event.Failure{Reason: "temporary error, try again"})
		return
	}
	if user.HasPassword() {
		s.sendEvent(event.SetupFailed, event.Failure{Reason: "password already set, log in instead"})
		return
	}

	hashed, err := auth.HashPassword(creds.Password)
	if err != nil {
		s.log.Error().Err(err).Msg("setup-password: password hash failed")
		s.sendEvent(event.SetupFailed, event.Failure{Reason: "temporary error, try again"})
		return
	}

	if err := srv.users.SetPassword(s.ctx, username, hashed); err != nil {
		s.log.Error().Err(err).Msg("setup-password: store write failed")
		metrics.AuthFailuresTotal.WithLabelValues("store_error").Inc()
		s.sendEvent(event.SetupFailed, event.Failure{Reason: "temporary error, try again"})
		return
	}

	srv.finishAuth(s, username, event.SetupSuccessful)
}

// handleResume re-authenticates with the token issued on a previous
// login/signup success, skipping the password check.
func (srv *Server) handleResume(s *Session, env *event.Envelope) {
	if s.authenticated() {
		s.log.Debug().Msg("dropping resume on authenticated session")
		return
	}

	var payload event.Token
	if err := event.DecodeData(env, &payload); err != nil {
		s.sendEvent(event.LoginFailed, event.Failure{Reason: "token is required"})
		return
	}

	claims, err := srv.tokens.Verify(payload.Token)
	if err != nil {
		metrics.AuthFailuresTotal.WithLabelValues("bad_token").Inc()
		s.sendEvent(event.LoginFailed, event.Failure{Reason: "invalid or expired token"})
		return
	}

	// The account may have been created on another node or the token may
	// outlive a wiped database; verify the user still exists.
	user, err := srv.users.GetByUsername(s.ctx, claims.Username)
	if errors.Is(err, data.ErrUserNotFound) {
		metrics.AuthFailuresTotal.WithLabelValues("unknown_user").Inc()
		s.sendEvent(event.PromptSignup, event.Failure{Reason: "no account for this username"})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("resume: user lookup failed")
		metrics.AuthFailuresTotal.WithLabelValues("store_error").Inc()
		s.sendEvent(event.LoginFailed, event.Failure{Reason: "temporary error, try again"})
		return
	}

	srv.finishAuth(s, user.Username, event.LoginSuccess)
}

// finishAuth is the shared success path for login, signup, setup-password
// and resume: bind the username, register presence (which fires the roster
// broadcast), persist the durable online flag, confirm to the client and
// push its message history.
func (srv *Server) finishAuth(s *Session, username, successEvent string) {
	s.username = username
	s.log = s.log.With().Str("username", username).Logger()

	srv.hub.Register(username, s.connID)

	if err := srv.users.SetOnline(s.ctx, username, true); err != nil {
		// Registry and durable flag may briefly disagree; delivery decisions
		// only consult the registry.
		s.log.Warn().Err(err).Msg("failed to persist online status")
	}

	token, _, err := srv.tokens.Generate(username)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to issue resume token")
		token = ""
	}
	s.sendEvent(successEvent, event.AuthSuccess{Username: username, Token: token})

	srv.sendHistory(s, "")

	s.log.Info().Msg("session authenticated")
}

// handleChatMessage is the message router: persist first, then deliver to
// the receiver if online, then echo the canonical stored copy to the
// sender. Requests from anonymous sessions are dropped without a reply.
func (srv *Server) handleChatMessage(s *Session, env *event.Envelope) {
	if !s.authenticated() {
		s.log.Debug().Msg("dropping chat-message from anonymous session")
		return
	}

	var out event.Outgoing
	if err := event.DecodeData(env, &out); err != nil {
		s.sendEvent(event.Notification, event.Note{Text: "message could not be sent"})
		return
	}

	saved, err := srv.msgs.Save(s.ctx, s.username, out.To, html.EscapeString(out.Msg))
	if err != nil {
		s.log.Error().Err(err).Msg("failed to persist message")
		s.sendEvent(event.Notification, event.Note{Text: "message could not be sent"})
		return
	}

	payload := event.Message{
		From:      saved.Sender,
		To:        saved.Receiver,
		Msg:       saved.Body,
		Timestamp: saved.SentAt,
	}
	delivered, err := event.New(event.ChatMessage, payload)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to build chat-message event")
		return
	}

	// Best-effort live delivery: if the push fails after the presence check
	// said online, the receiver still finds the message on the next history
	// load.
	if receiver, ok := srv.hub.SenderOf(saved.Receiver); ok {
		if err := receiver.Send(delivered); err != nil {
			s.log.Debug().Err(err).Str("to", saved.Receiver).Msg("live delivery failed")
		}
		metrics.MessagesSentTotal.WithLabelValues("live").Inc()
	} else {
		metrics.MessagesSentTotal.WithLabelValues("stored_only").Inc()
	}

	// Echo the durable copy so the sender renders the canonical record.
	if err := s.Send(delivered); err != nil {
		s.log.Debug().Err(err).Msg("echo to sender failed")
	}
}

// handleLoadMessages returns the conversation with the requested user, or
// everything the session's user sent or received when no user is given.
func (srv *Server) handleLoadMessages(s *Session, env *event.Envelope) {
	if !s.authenticated() {
		s.log.Debug().Msg("dropping load-messages from anonymous session")
		return
	}

	var req event.HistoryRequest
	if err := event.DecodeData(env, &req); err != nil {
		s.sendEvent(event.Notification, event.Note{Text: "could not load messages"})
		return
	}

	srv.sendHistory(s, req.User)
}

// sendHistory pushes a chat-history event to the session. withUser empty
// means all messages for the session's user. An empty history is a valid,
// empty list, never an error.
func (srv *Server) sendHistory(s *Session, withUser string) {
	var (
		msgs []*data.Message
		err  error
	)
	if withUser != "" {
		msgs, err = srv.msgs.Conversation(s.ctx, s.username, withUser)
	} else {
		msgs, err = srv.msgs.ForUser(s.ctx, s.username)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load history")
		s.sendEvent(event.Notification, event.Note{Text: "could not load messages"})
		return
	}

	history := event.History{Messages: make([]event.Message, 0, len(msgs))}
	for _, m := range msgs {
		history.Messages = append(history.Messages, event.Message{
			From:      m.Sender,
			To:        m.Receiver,
			Msg:       m.Body,
			Timestamp: m.SentAt,
		})
	}
	s.sendEvent(event.ChatHistory, history)
}
