package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/statetable"
)

// MongoConfig конфигурация архива в MongoDB
type MongoConfig struct {
	URI         string        `yaml:"uri"`
	Database    string        `yaml:"database"`
	Collection  string        `yaml:"collection"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxPoolSize uint64        `yaml:"max_pool_size"`
}

// Validate проверяет корректность конфигурации
func (c MongoConfig) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("URI cannot be empty")
	}
	if c.Database == "" {
		return fmt.Errorf("database cannot be empty")
	}
	if c.Collection == "" {
		return fmt.Errorf("collection cannot be empty")
	}
	return nil
}

// DefaultMongoConfig возвращает конфигурацию по умолчанию
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		Database:    "taskflow",
		Collection:  "state_rows",
		Timeout:     10 * time.Second,
		MaxPoolSize: 10,
	}
}

// MongoSink пишет строки документами {source, tick, time, values}
type MongoSink struct {
	config     MongoConfig
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoSink подключается к MongoDB и создает уникальный индекс (source, tick)
func NewMongoSink(ctx context.Context, config MongoConfig) (*MongoSink, error) {
	if err := config.Validate(); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "invalid mongodb sink config")
	}

	opts := options.Client().ApplyURI(config.URI)
	if config.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(config.MaxPoolSize)
	}
	if config.Timeout > 0 {
		opts.SetTimeout(config.Timeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, core.Wrap(err, core.ErrTransport, "failed to connect to MongoDB")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, core.Wrap(err, core.ErrTransport, "failed to connect to MongoDB")
	}

	collection := client.Database(config.Database).Collection(config.Collection)
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "source", Value: 1}, {Key: "tick", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, core.Wrap(err, core.ErrTransport, "failed to create index")
	}

	return &MongoSink{config: config, client: client, collection: collection}, nil
}

// Name возвращает имя получателя
func (s *MongoSink) Name() string { return "mongodb" }

// Write вставляет строки; дубликаты по (source, tick) пропускаются
func (s *MongoSink) Write(ctx context.Context, source string, rows []statetable.Row) error {
	if len(rows) == 0 {
		return nil
	}

	docs := make([]interface{}, len(rows))
	for i, row := range rows {
		docs[i] = rowDocument(source, row)
	}

	_, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !onlyDuplicates(err) {
		return core.Wrap(err, core.ErrTransport, "failed to insert state rows")
	}
	return nil
}

// Close отключается от MongoDB
func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func rowDocument(source string, row statetable.Row) bson.M {
	return bson.M{
		"source":       source,
		"tick":         int64(row.Tick),
		"time":         row.Time,
		"values":       row.Values,
		"collected_at": time.Now(),
	}
}

// onlyDuplicates сообщает, что все ошибки пакетной вставки - нарушения уникальности
func onlyDuplicates(err error) bool {
	var bulk mongo.BulkWriteException
	if !errors.As(err, &bulk) {
		return mongo.IsDuplicateKeyError(err)
	}
	if bulk.WriteConcernError != nil {
		return false
	}
	for _, we := range bulk.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return true
}

var _ Sink = (*MongoSink)(nil)
