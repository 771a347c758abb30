package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ChatMessage is one persisted direct message between two users. FileRef, when
// set, names a blob previously stored by the attachment pipeline.
type ChatMessage struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Sender    string             `bson:"sender" json:"sender"`
	Recipient string             `bson:"recipient" json:"recipient"`
	Text      string             `bson:"text,omitempty" json:"text,omitempty"`
	FileRef   string             `bson:"file,omitempty" json:"file,omitempty"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

// MessageStore persists and queries chat messages.
type MessageStore struct {
	coll *mongo.Collection
}

// NewMessageStore returns a MessageStore over the "messages" collection.
func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{coll: db.Collection("messages")}
}

// Create inserts a new message and returns it with its assigned id.
func (s *MessageStore) Create(ctx context.Context, sender, recipient, text, fileRef string) (ChatMessage, error) {
	msg := ChatMessage{
		ID:        primitive.NewObjectID(),
		Sender:    sender,
		Recipient: recipient,
		Text:      text,
		FileRef:   fileRef,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.coll.InsertOne(ctx, msg); err != nil {
		return ChatMessage{}, errors.Wrap(err, "store: inserting message")
	}
	return msg, nil
}

// Between returns every message exchanged between the two users, oldest first.
func (s *MessageStore) Between(ctx context.Context, a, b string) ([]ChatMessage, error) {
	users := bson.A{a, b}
	filter := bson.M{
		"sender":    bson.M{"$in": users},
		"recipient": bson.M{"$in": users},
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "store: querying messages")
	}
	defer cursor.Close(ctx)

	messages := []ChatMessage{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, errors.Wrap(err, "store: decoding messages")
	}
	return messages, nil
}
