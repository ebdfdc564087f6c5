package health

import (
	"context"
	"fmt"
	"time"

	config "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ConnectMongoWithTimeout creates a MongoDB client and verifies it with a ping
// before cfg.ConnectTimeout elapses
func ConnectMongoWithTimeout(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.URI)
	clientOptions.SetServerSelectionTimeout(cfg.ConnectTimeout)
	clientOptions.SetConnectTimeout(cfg.ConnectTimeout)
	clientOptions.SetSocketTimeout(30 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
	}

	// Test the connection
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to ping MongoDB: %w", err)
	}

	return client, nil
}

// GetCollection returns the readings collection named by cfg
func GetCollection(client *mongo.Client, cfg config.MongoConfig) *mongo.Collection {
	return client.Database(cfg.DBName).Collection(cfg.CollectionName)
}
