// Package store implements the MongoDB-backed persistence used for users and
// chat messages.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const connectRetries = 3

// Connect dials MongoDB, verifies the connection with a ping, and returns the
// named database. Transient dial failures are retried a few times before
// giving up.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	if uri == "" {
		return nil, errors.New("store: mongo uri is required")
	}

	opts := options.Client().ApplyURI(uri)

	var (
		client *mongo.Client
		err    error
	)
	for i := 0; i < connectRetries; i++ {
		client, err = mongo.Connect(ctx, opts)
		if err == nil {
			err = client.Ping(ctx, readpref.Primary())
		}
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "store: connecting to MongoDB")
		case <-time.After(500 * time.Millisecond):
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: connecting to MongoDB")
	}

	return client.Database(database), nil
}
