package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuditCollection is the collection mirrored audit records are written to.
const AuditCollection = "audit_records"

// ConnectAuditMongo connects to AUDIT_MONGO_URI. It returns nil, nil when the mirror is disabled.
func ConnectAuditMongo(cfg *Config) (*mongo.Client, error) {
	if cfg.AuditMongoURI == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.AuditMongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	if err := createIndexes(ctx, client, cfg.AuditMongoDB); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %v", err)
	}

	return client, nil
}

func createIndexes(ctx context.Context, client *mongo.Client, dbName string) error {
	col := client.Database(dbName).Collection(AuditCollection)
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "entry_id", Value: 1}, {Key: "actual_posted_time", Value: -1}}},
		{Keys: bson.D{{Key: "success", Value: 1}}},
	})
	return err
}
