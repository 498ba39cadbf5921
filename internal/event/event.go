// Package event defines the closed set of tagged messages exchanged over a
// chat socket. Every frame on the wire is an Envelope whose Data field is
// decoded into the payload type matching the event name, and validated,
// before it reaches the core.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Inbound event names.
const (
	Login         = "login"
	Signup        = "signup"
	SetUsername   = "set-username"
	SetupPassword = "setup-password"
	Resume        = "resume"
	ChatMessage   = "chat-message"
	LoadMessages  = "load-messages"
)

// Outbound event names. ChatMessage doubles as the outbound delivery and
// sender-echo event.
const (
	LoginSuccess     = "login-success"
	LoginFailed      = "login-failed"
	SignupSuccessful = "signup-successful"
	SignupFailed     = "signup-failed"
	PromptSignup     = "prompt-signup"
	RequireSetup     = "require-password-setup"
	SetupSuccessful  = "password-setup-successful"
	SetupFailed      = "setup-failed"
	ChatHistory      = "chat-history"
	Users            = "users"
	Notification     = "notification"
)

// Envelope is the wire frame: a tag plus the raw payload for that tag.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Credentials is the payload of login, signup and setup-password.
type Credentials struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=256"`
}

// UsernameOnly is the payload of set-username.
type UsernameOnly struct {
	Username string `json:"username" validate:"required,max=64"`
}

// Token is the payload of resume.
type Token struct {
	Token string `json:"token" validate:"required"`
}

// Outgoing is the payload of an inbound chat-message.
type Outgoing struct {
	To  string `json:"to" validate:"required,max=64"`
	Msg string `json:"msg" validate:"required,max=4096"`
}

// HistoryRequest is the payload of load-messages. User is optional: empty
// means every message the requester sent or received.
type HistoryRequest struct {
	User string `json:"user,omitempty" validate:"max=64"`
}

// AuthSuccess is the payload of login-success, signup-successful and
// password-setup-successful. Token lets the client re-authenticate with a
// resume event instead of credentials.
type AuthSuccess struct {
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

// Failure is the payload of the *-failed and prompt-signup events.
type Failure struct {
	Reason string `json:"reason"`
}

// Message is the payload of an outbound chat-message (delivery and echo)
// and the element type of chat-history.
type Message struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Msg       string    `json:"msg"`
	Timestamp time.Time `json:"timestamp"`
}

// History is the payload of chat-history.
type History struct {
	Messages []Message `json:"messages"`
}

// UserStatus is one roster entry.
type UserStatus struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// Roster is the payload of users.
type Roster struct {
	Users []UserStatus `json:"users"`
}

// Note is the payload of notification.
type Note struct {
	Text string `json:"text"`
}

var validate = validator.New()

// Decode parses a wire frame into an Envelope. The payload stays raw until
// DecodeData is called with the expected type.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("frame missing event name")
	}
	return &env, nil
}

// DecodeData unmarshals the envelope payload into dst and validates its
// required fields. dst must be a pointer to one of the payload structs above.
func DecodeData(env *Envelope, dst any) error {
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, dst); err != nil {
			return fmt.Errorf("%s: malformed payload: %w", env.Event, err)
		}
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", env.Event, err)
	}
	return nil
}

// New builds an Envelope carrying the given payload. A nil payload produces
// an envelope with no data, used for bare signals like require-password-setup.
func New(name string, payload any) (*Envelope, error) {
	env := &Envelope{Event: name}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal payload: %w", name, err)
		}
		env.Data = raw
	}
	return env, nil
}

// Encode serialises an envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
