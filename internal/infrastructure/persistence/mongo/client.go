// Package mongo stores user progress, study sessions and credentials in
// MongoDB. Field updates map one to one onto $set, $inc, $addToSet and $pull;
// RunAtomic needs a replica set for multi-document transactions.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/negrahodzic/UniVerse-sub000/pkg/timeutil"
)

// Collection names.
const (
	CollectionUsers       = "users"
	CollectionSessions    = "study_sessions"
	CollectionCredentials = "credentials"
)

// Config holds MongoDB connection settings.
type Config struct {
	// URI, e.g. mongodb://localhost:27017/?replicaSet=rs0
	URI      string
	Database string

	ConnectTimeout time.Duration
}

// Store implements progress.Store, session.Store and account.CredentialStore
// on one database.
type Store struct {
	client      *mongo.Client
	users       *mongo.Collection
	sessions    *mongo.Collection
	credentials *mongo.Collection
	now         func() time.Time
}

// Connect opens the client, pings the primary and ensures indexes.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI).SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}

	s := NewStore(client, cfg.Database)
	if err := s.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing client.
func NewStore(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:      client,
		users:       db.Collection(CollectionUsers),
		sessions:    db.Collection(CollectionSessions),
		credentials: db.Collection(CollectionCredentials),
		now:         timeutil.Now,
	}
}

// EnsureIndexes creates the ranking and history indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	userIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "points", Value: -1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "totalStudyTimeMinutes", Value: -1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "streakDays", Value: -1}, {Key: "_id", Value: 1}}},
	}
	if _, err := s.users.Indexes().CreateMany(ctx, userIndexes); err != nil {
		return fmt.Errorf("mongo: user indexes: %w", err)
	}
	sessionIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "participants.userId", Value: 1}, {Key: "createdAt", Value: -1}}},
	}
	if _, err := s.sessions.Indexes().CreateMany(ctx, sessionIndexes); err != nil {
		return fmt.Errorf("mongo: session indexes: %w", err)
	}
	return nil
}

// Ping checks the primary.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
