package main

import (
	"errors"
	"testing"

	"github.com/tetherchat/tether/internal/event"
)

type fakeSender struct {
	events []*event.Envelope
	fail   bool
}

func (f *fakeSender) Send(env *event.Envelope) error {
	if f.fail {
		return errors.New("send fail")
	}
	f.events = append(f.events, env)
	return nil
}

func (f *fakeSender) last() *event.Envelope {
	if len(f.events) == 0 {
		return nil
	}
	return f.events[len(f.events)-1]
}

func TestHub_RegisterAndSendToUser(t *testing.T) {
	hub := NewHub()

	sender := &fakeSender{}
	id := hub.AddConn(sender)
	hub.Register("alice", id)

	if !hub.IsOnline("alice") {
		t.Fatalf("expected alice to be online after register")
	}

	env, _ := event.New(event.ChatMessage, event.Message{From: "bob", To: "alice", Msg: "hello"})
	target, ok := hub.SenderOf("alice")
	if !ok {
		t.Fatalf("expected a sender for alice")
	}
	if err := target.Send(env); err != nil {
		t.Fatalf("expected send success, got error: %v", err)
	}
	if sender.last() == nil || sender.last().Event != event.ChatMessage {
		t.Fatalf("sender did not receive message")
	}
}

func TestHub_LastRegisterWins(t *testing.T) {
	hub := NewHub()

	first := &fakeSender{}
	second := &fakeSender{}
	id1 := hub.AddConn(first)
	id2 := hub.AddConn(second)

	hub.Register("alice", id1)
	hub.Register("alice", id2) // same user logs in again elsewhere

	target, ok := hub.SenderOf("alice")
	if !ok {
		t.Fatalf("expected alice to still be online")
	}
	env, _ := event.New(event.Notification, event.Note{Text: "hi"})
	_ = target.Send(env)

	if len(first.events) != 0 {
		t.Fatalf("displaced connection should not receive deliveries")
	}
	if len(second.events) != 1 {
		t.Fatalf("rebound connection should receive deliveries")
	}
}

func TestHub_StaleUnregisterDoesNotKnockOutRebind(t *testing.T) {
	hub := NewHub()

	id1 := hub.AddConn(&fakeSender{})
	id2 := hub.AddConn(&fakeSender{})

	hub.Register("alice", id1)
	hub.Register("alice", id2)

	// the displaced connection disconnects late; alice must stay online
	hub.Unregister("alice", id1)
	if !hub.IsOnline("alice") {
		t.Fatalf("stale unregister must not mark a rebound user offline")
	}

	hub.Unregister("alice", id2)
	if hub.IsOnline("alice") {
		t.Fatalf("expected alice offline after her live connection unregistered")
	}
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	hub := NewHub()

	id := hub.AddConn(&fakeSender{})
	hub.Register("alice", id)

	hub.Unregister("alice", id)
	hub.Unregister("alice", id) // duplicate disconnect event

	if hub.IsOnline("alice") {
		t.Fatalf("expected alice offline")
	}
	if _, ok := hub.SenderOf("alice"); ok {
		t.Fatalf("expected no sender for an offline user")
	}
}

func TestHub_OfflineUserHasNoSender(t *testing.T) {
	hub := NewHub()

	if _, ok := hub.SenderOf("nobody"); ok {
		t.Fatalf("expected no sender for unknown user")
	}
	if hub.IsOnline("nobody") {
		t.Fatalf("expected unknown user to be offline")
	}
}

func TestHub_OnChangeFiresOnEachMutation(t *testing.T) {
	hub := NewHub()

	var fired int
	hub.SetOnChange(func() { fired++ })

	id := hub.AddConn(&fakeSender{})
	hub.Register("alice", id)
	hub.Unregister("alice", id)

	if fired != 2 {
		t.Fatalf("expected onChange to fire twice, got %d", fired)
	}

	// an idempotent duplicate unregister must not fire a broadcast
	hub.Unregister("alice", id)
	if fired != 2 {
		t.Fatalf("expected no onChange for no-op unregister, got %d", fired)
	}
}

func TestHub_BroadcastReachesAnonymousConnections(t *testing.T) {
	hub := NewHub()

	authed := &fakeSender{}
	anon := &fakeSender{}
	broken := &fakeSender{fail: true}
	id := hub.AddConn(authed)
	hub.AddConn(anon)
	hub.AddConn(broken)
	hub.Register("alice", id)

	env, _ := event.New(event.Users, event.Roster{Users: []event.UserStatus{{Username: "alice", Online: true}}})
	hub.Broadcast(env)

	if len(authed.events) != 1 || len(anon.events) != 1 {
		t.Fatalf("expected broadcast to reach every open connection")
	}
}
