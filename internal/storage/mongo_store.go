package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/logging"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for MongoDB snapshot store.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. blastguard
	Collection string // e.g. durability
}

type mongoRecord struct {
	Key    string `bson:"_id"`
	Damage int    `bson:"damage"`
}

// MongoStore хранит по документу на поврежденный блок
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *logging.Logger
}

// NewMongoStore establishes connection and returns store.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "blastguard"
	}
	if cfg.Collection == "" {
		cfg.Collection = "durability"
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		logger:     logging.GetStorageLogger(),
	}, nil
}

func (m *MongoStore) Load(ctx context.Context) (map[durability.BlockKey]int, error) {
	cur, err := m.collection.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("mongo find: %w", err)
	}
	defer cur.Close(ctx)

	out := make(map[durability.BlockKey]int)
	skipped := 0
	for cur.Next(ctx) {
		var rec mongoRecord
		if err := cur.Decode(&rec); err != nil {
			skipped++
			continue
		}
		key, err := durability.ParseKey(rec.Key)
		if err != nil || rec.Damage <= 0 {
			skipped++
			continue
		}
		out[key] = rec.Damage
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		m.logger.Warn("MongoDB: пропущено повреждённых записей урона: %d", skipped)
	}
	return out, nil
}

// Save заменяет коллекцию целиком
func (m *MongoStore) Save(ctx context.Context, data map[durability.BlockKey]int) error {
	if _, err := m.collection.DeleteMany(ctx, bson.D{}); err != nil {
		return fmt.Errorf("mongo delete: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(data))
	for k, damage := range data {
		docs = append(docs, mongoRecord{Key: k.String(), Damage: damage})
	}
	if _, err := m.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
		return fmt.Errorf("mongo insert: %w", err)
	}
	return nil
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
