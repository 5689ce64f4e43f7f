package database

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB holds a connected client and the selected database
type MongoDB struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// MongoConfig holds MongoDB connection configuration
type MongoConfig struct {
	URI         string
	Database    string
	MaxPoolSize uint64
}

// NewMongoDB connects to MongoDB and verifies the connection
func NewMongoDB(ctx context.Context, config *MongoConfig) (*MongoDB, error) {
	if config.Database == "" {
		return nil, errors.New("mongo database name required")
	}
	uri := config.URI
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	clientOpts := options.Client().ApplyURI(uri).SetMaxPoolSize(100)
	if config.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(config.MaxPoolSize)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, err
	}

	return &MongoDB{
		Client: client,
		DB:     client.Database(config.Database),
	}, nil
}

// Close disconnects the client
func (m *MongoDB) Close(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}
	disconnectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.Client.Disconnect(disconnectCtx)
}

// Ping checks the connection
func (m *MongoDB) Ping(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return errors.New("mongo client is nil")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.Client.Ping(pingCtx, nil)
}
