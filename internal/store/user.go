package store

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned when a lookup matches no user.
var ErrNotFound = errors.New("store: user not found")

// User is a registered account. PasswordHash is never serialized to JSON.
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Username     string             `bson:"username" json:"username"`
	PasswordHash string             `bson:"password" json:"-"`
}

// UserStore persists and queries registered users.
type UserStore struct {
	coll *mongo.Collection
}

// NewUserStore returns a UserStore over the "users" collection.
func NewUserStore(db *mongo.Database) *UserStore {
	return &UserStore{coll: db.Collection("users")}
}

// EnsureIndexes creates the unique username index. Safe to call on every
// startup.
func (s *UserStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return errors.Wrap(err, "store: creating user indexes")
}

// Create inserts a new user and returns it with its assigned id.
func (s *UserStore) Create(ctx context.Context, username, passwordHash string) (User, error) {
	user := User{
		ID:           primitive.NewObjectID(),
		Username:     username,
		PasswordHash: passwordHash,
	}
	if _, err := s.coll.InsertOne(ctx, user); err != nil {
		return User{}, errors.Wrap(err, "store: inserting user")
	}
	return user, nil
}

// FindByUsername returns the user with the given username or ErrNotFound.
func (s *UserStore) FindByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := s.coll.FindOne(ctx, bson.M{"username": username}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, errors.Wrap(err, "store: querying user")
	}
	return user, nil
}

// All returns every registered user with only id and username populated.
func (s *UserStore) All(ctx context.Context) ([]User, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1, "username": 1})
	cursor, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "store: querying users")
	}
	defer cursor.Close(ctx)

	users := []User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, errors.Wrap(err, "store: decoding users")
	}
	return users, nil
}
