package data

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// User maps to the users collection. Password holds the bcrypt hash and is
// empty for a claimed-but-passwordless account (a username reserved via
// set-username that has not completed password setup yet). Online is the
// durable presence flag; the in-memory registry is authoritative while a
// connection is live.
type User struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	Username  string        `bson:"username"`
	Password  string        `bson:"password,omitempty"`
	Online    bool          `bson:"online"`
	CreatedAt time.Time     `bson:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

// HasPassword reports whether the account has completed password setup.
func (u *User) HasPassword() bool {
	return u.Password != ""
}

// Message maps to the messages collection. SentAt is assigned by the store
// on insert and is the sole ordering key for history queries. Messages are
// immutable once created.
type Message struct {
	ID       bson.ObjectID `bson:"_id,omitempty"`
	Sender   string        `bson:"sender"`
	Receiver string        `bson:"receiver"`
	Body     string        `bson:"body"`
	SentAt   time.Time     `bson:"sent_at"`
}
