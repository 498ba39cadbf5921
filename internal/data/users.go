// Package data provides DB models and stores.
package data

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tetherchat/tether/internal/normalize"
)

// ErrUserNotFound is returned when no user document matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// ErrUserExists is returned on creation when the username is already taken,
// including usernames claimed without a password.
var ErrUserExists = errors.New("user already exists")

// UsersStore performs user DB operations.
type UsersStore struct {
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// CreateUser inserts a new user document with an already-hashed password.
// The unique index on username turns a duplicate insert into ErrUserExists,
// which also covers claimed-but-passwordless rows: a claimed name is taken.
func (u *UsersStore) CreateUser(ctx context.Context, username, hashedPassword string) (*User, error) {
	now := time.Now()
	user := &User{
		Username:  normalize.Username(username),
		Password:  hashedPassword,
		Online:    false,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := u.coll.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	user.ID = result.InsertedID.(bson.ObjectID)
	return user, nil
}

// ClaimUsername inserts a passwordless user row, reserving the name until
// password setup completes. Fails with ErrUserExists if the name is taken.
func (u *UsersStore) ClaimUsername(ctx context.Context, username string) (*User, error) {
	return u.CreateUser(ctx, username, "")
}

// GetByUsername finds a user by username.
func (u *UsersStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"username": normalize.Username(username)}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Exists checks if a user exists by username. Claimed-but-passwordless rows
// count as existing.
func (u *UsersStore) Exists(ctx context.Context, username string) (bool, error) {
	count, err := u.coll.CountDocuments(ctx, bson.M{"username": normalize.Username(username)})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetPassword stores the hashed password on an existing user, completing a
// claimed signup. Returns ErrUserNotFound when the username is unknown.
func (u *UsersStore) SetPassword(ctx context.Context, username, hashedPassword string) error {
	result, err := u.coll.UpdateOne(ctx,
		bson.M{"username": normalize.Username(username)},
		bson.M{"$set": bson.M{"password": hashedPassword, "updated_at": time.Now()}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetOnline persists the durable online flag. The in-memory presence
// registry may briefly disagree with this flag while a write is in flight;
// delivery decisions always consult the registry, not this field.
func (u *UsersStore) SetOnline(ctx context.Context, username string, online bool) error {
	result, err := u.coll.UpdateOne(ctx,
		bson.M{"username": normalize.Username(username)},
		bson.M{"$set": bson.M{"online": online, "updated_at": time.Now()}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// List returns every user ordered by username. The roster broadcaster
// merges this with the live registry on each presence change.
func (u *UsersStore) List(ctx context.Context) ([]*User, error) {
	opts := options.Find().SetSort(bson.M{"username": 1})

	cursor, err := u.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []*User
	if err = cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}
