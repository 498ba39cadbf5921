package data

import (
	"context"
	"testing"
)

func TestMessagesSaveAndConversation(t *testing.T) {
	c := setupDB(t)
	defer func() { _ = c.Close(context.Background()) }()

	msgs := NewMessagesStore(c.MessagesCollection())
	ctx := context.Background()

	if _, err := msgs.Save(ctx, "alice", "bob", "hi bob"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := msgs.Save(ctx, "bob", "alice", "hello alice"); err != nil {
		t.Fatalf("Save 2 failed: %v", err)
	}
	// a message to a third user must not leak into the conversation
	if _, err := msgs.Save(ctx, "alice", "carol", "hi carol"); err != nil {
		t.Fatalf("Save 3 failed: %v", err)
	}

	history, err := msgs.Conversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("Conversation failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	// oldest first
	if history[0].Body != "hi bob" || history[1].Body != "hello alice" {
		t.Fatalf("unexpected order: %q, %q", history[0].Body, history[1].Body)
	}

	// the view is identical whichever side queries it
	mirror, err := msgs.Conversation(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("Conversation (mirror) failed: %v", err)
	}
	if len(mirror) != len(history) {
		t.Fatalf("conversation views differ: %d vs %d", len(mirror), len(history))
	}
}

func TestMessagesForUser(t *testing.T) {
	c := setupDB(t)
	defer func() { _ = c.Close(context.Background()) }()

	msgs := NewMessagesStore(c.MessagesCollection())
	ctx := context.Background()

	if _, err := msgs.Save(ctx, "alice", "bob", "one"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := msgs.Save(ctx, "carol", "alice", "two"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := msgs.Save(ctx, "carol", "bob", "three"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	all, err := msgs.ForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ForUser failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 messages for alice, got %d", len(all))
	}
	if !all[0].SentAt.Before(all[1].SentAt) && !all[0].SentAt.Equal(all[1].SentAt) {
		t.Fatalf("messages not in ascending order")
	}
}

func TestMessagesEmptyHistoryIsNotAnError(t *testing.T) {
	c := setupDB(t)
	defer func() { _ = c.Close(context.Background()) }()

	msgs := NewMessagesStore(c.MessagesCollection())
	ctx := context.Background()

	history, err := msgs.Conversation(ctx, "nobody", "noone")
	if err != nil {
		t.Fatalf("Conversation on empty store failed: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}
}

func TestMessagesNormalization(t *testing.T) {
	c := setupDB(t)
	defer func() { _ = c.Close(context.Background()) }()

	msgs := NewMessagesStore(c.MessagesCollection())
	ctx := context.Background()

	if _, err := msgs.Save(ctx, "ALICE", "BoB", "hi bob"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	history, err := msgs.Conversation(ctx, "alice", "BOB")
	if err != nil {
		t.Fatalf("Conversation failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 message, got %d", len(history))
	}
	if history[0].Sender != "alice" || history[0].Receiver != "bob" {
		t.Fatalf("expected normalized identities, got %s -> %s", history[0].Sender, history[0].Receiver)
	}
}
