package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

type MongoOptions struct {
	URI         string
	Database    string
	MaxPoolSize uint64
	// ConnectTimeout also bounds server selection.
	ConnectTimeout time.Duration
}

// ConnectMongoDB opens a client with majority write concern so an
// acknowledged cart save survives a primary failover.
func ConnectMongoDB(ctx context.Context, o MongoOptions) (*mongo.Database, error) {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.MaxPoolSize == 0 {
		o.MaxPoolSize = 100
	}

	clientOpts := options.Client().
		ApplyURI(o.URI).
		SetAppName("storefront").
		SetConnectTimeout(o.ConnectTimeout).
		SetServerSelectionTimeout(o.ConnectTimeout).
		SetMaxPoolSize(o.MaxPoolSize).
		SetRetryWrites(true).
		SetWriteConcern(writeconcern.Majority())

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB at %s: %w", o.URI, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(o.Database), nil
}
