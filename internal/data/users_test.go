package data

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/tetherchat/tether/internal/db"
)

func setupDB(t *testing.T) *db.Client {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set; skipping integration test")
	}

	ctx := context.Background()
	c, err := db.New(ctx, uri, "tether_test")
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}

	// ensure clean collections in case previous runs left data
	_ = c.UsersCollection().Drop(ctx)
	_ = c.MessagesCollection().Drop(ctx)

	if err := c.CreateIndexes(ctx); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}

	return c
}

func TestUsersCreateAndGet(t *testing.T) {
	c := setupDB(t)
	defer func() { _ = c.Close(context.Background()) }()

	users := NewUsersStore(c.UsersCollection())

	ctx := context.Background()
	username := "alice-" + time.Now().UTC().Format("20060102150405")

	user, err := users.CreateUser(ctx, username, "hashed-password")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user.Username != username {
		t.Fatalf("expected username %s got %s", username, user.Username)
	}
	if !user.HasPassword() {
		t.Fatalf("expected user to have a password set")
	}

	ok, err := users.Exists(ctx, username)
	if err != nil || !ok {
		t.Fatalf("Exists failed: ok=%v err=%v", ok, err)
	}

	u2, err := users.GetByUsername(ctx, username)
	if err != nil {
		t.Fatalf("GetByUsername failed: %v", err)
	}
	if u2.Username != username {
		t.Fatalf("GetByUsername returned wrong username: %s", u2.Username)
	}

	// duplicate signup must fail with the sentinel
	if _, err := users.CreateUser(ctx, username, "other-hash"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestUsersClaimAndSetPassword(t *testing.T) {
	c := setupDB(t)
	defer func() { _ = c.Close(context.Background()) }()

	users := NewUsersStore(c.UsersCollection())
	ctx := context.Background()

	claimed, err := users.ClaimUsername(ctx, "claimed-user")
	if err != nil {
		t.Fatalf("ClaimUsername failed: %v", err)
	}
	if claimed.HasPassword() {
		t.Fatalf("claimed user should have no password")
	}

	// a claimed name counts as taken for signup purposes
	if _, err := users.CreateUser(ctx, "claimed-user", "hash"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists for claimed name, got %v", err)
	}

	if err := users.SetPassword(ctx, "claimed-user", "hash"); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}

	got, err := users.GetByUsername(ctx, "claimed-user")
	if err != nil {
		t.Fatalf("GetByUsername failed: %v", err)
	}
	if !got.HasPassword() {
		t.Fatalf("expected password to be set after SetPassword")
	}

	if err := users.SetPassword(ctx, "no-such-user", "hash"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUsersSetOnlineAndList(t *testing.T) {
	c := setupDB(t)
	defer func() { _ = c.Close(context.Background()) }()

	users := NewUsersStore(c.UsersCollection())
	ctx := context.Background()

	if _, err := users.CreateUser(ctx, "bob", "h1"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if _, err := users.CreateUser(ctx, "alice", "h2"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if err := users.SetOnline(ctx, "bob", true); err != nil {
		t.Fatalf("SetOnline failed: %v", err)
	}

	list, err := users.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 users, got %d", len(list))
	}
	// sorted by username ascending
	if list[0].Username != "alice" || list[1].Username != "bob" {
		t.Fatalf("unexpected order: %s, %s", list[0].Username, list[1].Username)
	}
	if !list[1].Online {
		t.Fatalf("expected bob to be online")
	}
}

func TestUsersNormalization(t *testing.T) {
	c := setupDB(t)
	defer func() { _ = c.Close(context.Background()) }()

	users := NewUsersStore(c.UsersCollection())
	ctx := context.Background()

	if _, err := users.CreateUser(ctx, "  Carol  ", "h"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	got, err := users.GetByUsername(ctx, "CAROL")
	if err != nil {
		t.Fatalf("GetByUsername with different casing failed: %v", err)
	}
	if got.Username != "carol" {
		t.Fatalf("expected stored username to be normalized, got %s", got.Username)
	}
}
