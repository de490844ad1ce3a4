// Package mongostore implements the persistence collaborator on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"wa_command_bot/internal/config"
	"wa_command_bot/internal/domain"
	"wa_command_bot/internal/logging"
)

// Collection names used across the bot.
const (
	CollectionUsers         = "users"
	CollectionGroups        = "groups"
	CollectionGroupSettings = "group_settings"
	CollectionOwners        = "owners"
	CollectionCommandLogs   = "command_logs"
	CollectionUserStats     = "user_stats"
	CollectionPlugins       = "plugins"
	CollectionTasks         = "tasks"
)

var collectionNames = []string{
	CollectionUsers,
	CollectionGroups,
	CollectionGroupSettings,
	CollectionOwners,
	CollectionCommandLogs,
	CollectionUserStats,
	CollectionPlugins,
	CollectionTasks,
}

// mongoClient captures the subset of mongo.Client behavior we rely on to allow
// lightweight stubbing in tests without a live Mongo deployment.
type mongoClient interface {
	Ping(context.Context, *readpref.ReadPref) error
	Database(string, ...*options.DatabaseOptions) *mongo.Database
	Disconnect(context.Context) error
}

// collection is the subset of *mongo.Collection used by the store.
type collection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
	Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
}

// connectMongo is overridable for tests.
var connectMongo = func(ctx context.Context, opts *options.ClientOptions) (mongoClient, error) {
	return mongo.Connect(ctx, opts)
}

// createIndexes is overridable for tests.
var createIndexes = func(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) ([]string, error) {
	return coll.Indexes().CreateMany(ctx, models)
}

// Store owns a MongoDB client and implements domain.Store on its collections.
type Store struct {
	client mongoClient
	db     *mongo.Database
	colls  map[string]collection
	logger *logrus.Entry
	now    func() time.Time
}

var _ domain.Store = (*Store)(nil)

// Open initializes the Mongo client using the supplied configuration and
// verifies connectivity with a ping.
func Open(ctx context.Context, cfg config.Config, logger *logrus.Entry) (*Store, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	client, err := connectMongo(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.MongoDB)
	colls := make(map[string]collection, len(collectionNames))
	for _, name := range collectionNames {
		colls[name] = db.Collection(name)
	}

	return &Store{
		client: client,
		db:     db,
		colls:  colls,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}, nil
}

// Database returns the configured database handle.
func (s *Store) Database() *mongo.Database {
	return s.db
}

// EnsureIndexes creates the unique and lookup indexes for every collection.
// Collections are created implicitly if they do not already exist.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if s == nil || s.db == nil {
		return errors.New("mongo store is not initialized")
	}

	for _, spec := range indexSpecs() {
		if _, err := createIndexes(ctx, s.db.Collection(spec.collection), spec.models); err != nil {
			return fmt.Errorf("create %s indexes: %w", spec.collection, err)
		}
	}

	s.logger.WithFields(logging.Fields{
		"event":       "store_migrated",
		"dialect":     "mongo",
		"collections": len(collectionNames),
	}).Info("mongo indexes ready")
	return nil
}

// Ping checks connectivity against the primary.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if s == nil || s.client == nil {
		return errors.New("mongo store is not initialized")
	}

	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

// Close disconnects the Mongo client.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return s.client.Disconnect(ctx)
}

type indexSpec struct {
	collection string
	models     []mongo.IndexModel
}

func indexSpecs() []indexSpec {
	unique := func(name string, keys ...string) mongo.IndexModel {
		doc := bson.D{}
		for _, key := range keys {
			doc = append(doc, bson.E{Key: key, Value: 1})
		}
		return mongo.IndexModel{Keys: doc, Options: options.Index().SetName(name).SetUnique(true)}
	}

	return []indexSpec{
		{collection: CollectionUsers, models: []mongo.IndexModel{
			unique("user_id_unique", "user_id"),
			{Keys: bson.D{{Key: "role", Value: 1}}, Options: options.Index().SetName("role")},
		}},
		{collection: CollectionGroups, models: []mongo.IndexModel{unique("group_id_unique", "group_id")}},
		{collection: CollectionGroupSettings, models: []mongo.IndexModel{unique("group_key_unique", "group_id", "key")}},
		{collection: CollectionOwners, models: []mongo.IndexModel{unique("owner_id_unique", "owner_id")}},
		{collection: CollectionCommandLogs, models: []mongo.IndexModel{
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "executed_at", Value: -1}}, Options: options.Index().SetName("user_recent")},
			{Keys: bson.D{{Key: "command", Value: 1}}, Options: options.Index().SetName("command")},
		}},
		{collection: CollectionUserStats, models: []mongo.IndexModel{unique("user_chat_unique", "user_id", "chat_id")}},
		{collection: CollectionPlugins, models: []mongo.IndexModel{unique("name_unique", "name")}},
		{collection: CollectionTasks, models: []mongo.IndexModel{
			unique("task_id_unique", "task_id"),
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "run_at", Value: 1}}, Options: options.Index().SetName("status_run_at")},
		}},
	}
}

func (s *Store) coll(ctx context.Context, name string) (collection, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if s == nil || s.colls == nil {
		return nil, errors.New("mongo store is not initialized")
	}
	coll, ok := s.colls[name]
	if !ok || coll == nil {
		return nil, fmt.Errorf("collection %s is not configured", name)
	}
	return coll, nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrNotFound
	}
	return err
}

func decodeOne(result *mongo.SingleResult, out interface{}) error {
	if result == nil {
		return errors.New("find returned no result")
	}
	if err := result.Err(); err != nil {
		return notFound(err)
	}
	return result.Decode(out)
}

func upsert() *options.UpdateOptions {
	return options.Update().SetUpsert(true)
}
