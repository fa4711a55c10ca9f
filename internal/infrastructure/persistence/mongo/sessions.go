package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/account"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/session"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

var (
	_ session.Store           = (*Store)(nil)
	_ account.CredentialStore = (*Store)(nil)
)

// Create implements session.Store.
func (s *Store) Create(ctx context.Context, rec *session.StudySessionRecord) error {
	if _, err := s.sessions.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return shared.NewDomainError("session", "Create", shared.ErrInvalidArgument, "study session already exists")
		}
		return fmt.Errorf("mongo: create session: %w", err)
	}
	return nil
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, id string) (*session.StudySessionRecord, error) {
	var rec session.StudySessionRecord
	err := s.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, shared.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: get session: %w", err)
	}
	rec.Normalize()
	return &rec, nil
}

// Save implements session.Store.
func (s *Store) Save(ctx context.Context, rec *session.StudySessionRecord) error {
	res, err := s.sessions.ReplaceOne(ctx, bson.M{"_id": rec.ID}, rec)
	if err != nil {
		return fmt.Errorf("mongo: save session: %w", err)
	}
	if res.MatchedCount == 0 {
		return shared.ErrSessionNotFound
	}
	return nil
}

// ListByParticipant implements session.Store.
func (s *Store) ListByParticipant(ctx context.Context, userID string, limit int) ([]*session.StudySessionRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.sessions.Find(ctx, bson.M{"participants.userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: list sessions: %w", err)
	}
	defer cur.Close(ctx)

	out := make([]*session.StudySessionRecord, 0)
	for cur.Next(ctx) {
		var rec session.StudySessionRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, fmt.Errorf("mongo: decode session: %w", err)
		}
		rec.Normalize()
		out = append(out, &rec)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo: read sessions: %w", err)
	}
	return out, nil
}

// SaveCredential implements account.CredentialStore.
func (s *Store) SaveCredential(ctx context.Context, c *account.Credential) error {
	_, err := s.credentials.ReplaceOne(ctx, bson.M{"_id": c.UserID}, c, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: save credential: %w", err)
	}
	return nil
}

// GetCredential implements account.CredentialStore.
func (s *Store) GetCredential(ctx context.Context, userID string) (*account.Credential, error) {
	var c account.Credential
	err := s.credentials.FindOne(ctx, bson.M{"_id": userID}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, shared.ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: get credential: %w", err)
	}
	return &c, nil
}

// DeleteCredential implements account.CredentialStore.
func (s *Store) DeleteCredential(ctx context.Context, userID string) error {
	if _, err := s.credentials.DeleteOne(ctx, bson.M{"_id": userID}); err != nil {
		return fmt.Errorf("mongo: delete credential: %w", err)
	}
	return nil
}
