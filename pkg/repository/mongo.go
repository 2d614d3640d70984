package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/example/tableorder/pkg/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoRepository(cfg *config.MongoDBConfig) (*MongoRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	return &MongoRepository{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

func (m *MongoRepository) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoRepository) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// EnsureIndexes creates the lookup index used by OrderAuditLogs.
func (m *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create audit index: %w", err)
	}
	return nil
}

// AuditLog records one committed ledger transition.
type AuditLog struct {
	ID         string    `bson:"_id,omitempty" json:"id,omitempty"`
	Action     string    `bson:"action" json:"action"`
	OrderID    string    `bson:"order_id,omitempty" json:"orderId,omitempty"`
	TableID    string    `bson:"table_id" json:"tableId"`
	FromStatus string    `bson:"from_status,omitempty" json:"fromStatus,omitempty"`
	ToStatus   string    `bson:"to_status,omitempty" json:"toStatus,omitempty"`
	Data       bson.M    `bson:"data,omitempty" json:"data,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"createdAt"`
}

// AuditID formats a record id the way audit entries store it.
func AuditID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func (m *MongoRepository) CreateAuditLog(ctx context.Context, log *AuditLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	if _, err := m.collection.InsertOne(ctx, log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// OrderAuditLogs returns the newest audit entries for an order.
func (m *MongoRepository) OrderAuditLogs(ctx context.Context, orderID uint, limit int64) ([]*AuditLog, error) {
	filter := bson.M{"order_id": AuditID(orderID)}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer cursor.Close(ctx)

	var logs []*AuditLog
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, fmt.Errorf("failed to decode audit logs: %w", err)
	}

	return logs, nil
}
