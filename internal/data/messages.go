package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tetherchat/tether/internal/normalize"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using the given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// Save inserts a message document and returns the saved record. The store
// assigns SentAt at insert time so history ordering never depends on
// client clocks.
func (m *MessagesStore) Save(ctx context.Context, sender, receiver, body string) (*Message, error) {
	msg := &Message{
		Sender:   normalize.Username(sender),
		Receiver: normalize.Username(receiver),
		Body:     body,
		SentAt:   time.Now(),
	}

	result, err := m.coll.InsertOne(ctx, msg)
	if err != nil {
		return nil, err
	}

	msg.ID = result.InsertedID.(bson.ObjectID)
	return msg, nil
}

// Conversation returns all messages exchanged between two users, oldest
// first. The view is identical whichever of the two usernames asks.
// An empty conversation yields an empty slice, not an error.
func (m *MessagesStore) Conversation(ctx context.Context, user1, user2 string) ([]*Message, error) {
	u1 := normalize.Username(user1)
	u2 := normalize.Username(user2)

	filter := bson.M{
		"$or": bson.A{
			bson.M{"sender": u1, "receiver": u2},
			bson.M{"sender": u2, "receiver": u1},
		},
	}

	return m.find(ctx, filter)
}

// ForUser returns every message the user sent or received, oldest first.
// Used for the initial history push right after login.
func (m *MessagesStore) ForUser(ctx context.Context, username string) ([]*Message, error) {
	u := normalize.Username(username)

	filter := bson.M{
		"$or": bson.A{
			bson.M{"sender": u},
			bson.M{"receiver": u},
		},
	}

	return m.find(ctx, filter)
}

func (m *MessagesStore) find(ctx context.Context, filter bson.M) ([]*Message, error) {
	opts := options.Find().SetSort(bson.M{"sent_at": 1})

	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []*Message
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
