package audit

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"content-autoposter/internal/config"
	"content-autoposter/internal/logger"
	"content-autoposter/models"
)

// MongoSink mirrors audit records into a MongoDB collection.
type MongoSink struct {
	col *mongo.Collection
}

func NewMongoSink(client *mongo.Client, dbName string) *MongoSink {
	return &MongoSink{col: client.Database(dbName).Collection(config.AuditCollection)}
}

func (m *MongoSink) Append(ctx context.Context, rec models.AuditRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := m.col.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// MultiSink writes to a primary sink and best-effort mirrors.
// Only the primary's error is returned.
type MultiSink struct {
	Primary Sink
	Mirrors []Sink
}

func (s *MultiSink) Append(ctx context.Context, rec models.AuditRecord) error {
	if err := s.Primary.Append(ctx, rec); err != nil {
		return err
	}
	for _, m := range s.Mirrors {
		if err := m.Append(ctx, rec); err != nil {
			logger.Warn("Audit mirror write failed", "entry_id", rec.EntryID, "error", err)
		}
	}
	return nil
}
