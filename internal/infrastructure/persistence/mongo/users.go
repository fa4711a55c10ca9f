package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

var _ progress.Store = (*Store)(nil)

// GetUser implements progress.Store.
func (s *Store) GetUser(ctx context.Context, userID string) (*progress.UserStats, error) {
	var u progress.UserStats
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, shared.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: get user: %w", err)
	}
	u.Normalize()
	return &u, nil
}

// CreateUser implements progress.Store.
func (s *Store) CreateUser(ctx context.Context, stats *progress.UserStats) error {
	if err := stats.Validate(); err != nil {
		return err
	}
	u := stats.Clone()
	u.Normalize()
	if _, err := s.users.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return shared.ErrUserAlreadyExists
		}
		return fmt.Errorf("mongo: create user: %w", err)
	}
	return nil
}

// UpdateUserFields implements progress.Store.
func (s *Store) UpdateUserFields(ctx context.Context, userID string, updates ...progress.FieldUpdate) error {
	doc, err := buildUpdate(updates, s.now())
	if err != nil {
		return err
	}
	return s.applyUpdate(ctx, buildFilter(userID, updates), doc)
}

func (s *Store) applyUpdate(ctx context.Context, filter, doc bson.M) error {
	res, err := s.users.UpdateOne(ctx, filter, doc)
	if err != nil {
		return fmt.Errorf("mongo: update user: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if len(filter) == 1 {
		return shared.ErrUserNotFound
	}

	n, err := s.users.CountDocuments(ctx, bson.M{"_id": filter["_id"]})
	if err != nil {
		return fmt.Errorf("mongo: check user: %w", err)
	}
	if n == 0 {
		return shared.ErrUserNotFound
	}
	return shared.ErrInsufficientPoints
}

// QueryUsersOrderedBy implements progress.Store. Mongo compares strings
// bytewise, so the _id tie-break matches the in-process ranking.
func (s *Store) QueryUsersOrderedBy(ctx context.Context, field progress.Field, dir progress.Direction, limit int) ([]*progress.UserStats, error) {
	if !field.IsSortable() {
		return nil, shared.WrapError("progress", "Query", shared.ErrInvalidArgument, "field is not sortable", nil)
	}
	order := -1
	if dir == progress.Ascending {
		order = 1
	}
	opts := options.Find().SetSort(bson.D{{Key: string(field), Value: order}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.users.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: query users: %w", err)
	}
	return decodeUsers(ctx, cur)
}

// QueryUsersByID implements progress.Store.
func (s *Store) QueryUsersByID(ctx context.Context, ids []string) ([]*progress.UserStats, error) {
	if len(ids) == 0 {
		return []*progress.UserStats{}, nil
	}
	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("mongo: query users by id: %w", err)
	}
	return decodeUsers(ctx, cur)
}

// RunAtomic implements progress.Store inside a multi-document transaction.
func (s *Store) RunAtomic(ctx context.Context, ops ...progress.DocumentUpdate) error {
	if len(ops) == 0 {
		return shared.ErrEmptyUpdate
	}
	now := s.now()
	docs := make([]bson.M, len(ops))
	filters := make([]bson.M, len(ops))
	for i, op := range ops {
		doc, err := buildUpdate(op.Updates, now)
		if err != nil {
			return err
		}
		docs[i] = doc
		filters[i] = buildFilter(op.UserID, op.Updates)
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for i := range ops {
			if err := s.applyUpdate(sc, filters[i], docs[i]); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func decodeUsers(ctx context.Context, cur *mongo.Cursor) ([]*progress.UserStats, error) {
	defer cur.Close(ctx)
	users := make([]*progress.UserStats, 0)
	for cur.Next(ctx) {
		var u progress.UserStats
		if err := cur.Decode(&u); err != nil {
			return nil, fmt.Errorf("mongo: decode user: %w", err)
		}
		u.Normalize()
		users = append(users, &u)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo: read users: %w", err)
	}
	return users, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// buildFilter selects the user document. Spends add a $gte condition on the
// stored balance, so an insufficient balance matches nothing.
func buildFilter(userID string, updates []progress.FieldUpdate) bson.M {
	filter := bson.M{"_id": userID}
	for field, total := range progress.SpendTotals(updates) {
		filter[string(field)] = bson.M{"$gte": total}
	}
	return filter
}

// buildUpdate merges field updates into one update document. Repeated
// increments on a path are summed and repeated set members are merged.
// Mongo rejects two operators on one path, so that case is an invalid argument.
func buildUpdate(updates []progress.FieldUpdate, now time.Time) (bson.M, error) {
	if err := progress.ValidateUpdates(updates); err != nil {
		return nil, err
	}

	set := bson.M{}
	inc := bson.M{}
	union := map[string][]string{}
	pull := map[string][]string{}
	owner := map[string]string{}

	claim := func(path, op string) error {
		if prev, ok := owner[path]; ok && prev != op {
			return shared.WrapError("progress", "Update", shared.ErrInvalidArgument,
				"conflicting operations on field", fmt.Errorf("%s and %s on %q", prev, op, path))
		}
		owner[path] = op
		return nil
	}

	for _, u := range updates {
		path := string(u.Field)
		switch u.Op {
		case progress.OpSet:
			if err := claim(path, "$set"); err != nil {
				return nil, err
			}
			if u.Field.Kind() == progress.KindString {
				set[path] = u.Str
			} else {
				set[path] = u.Int
			}
		case progress.OpIncrement:
			if err := claim(path, "$inc"); err != nil {
				return nil, err
			}
			prev, _ := inc[path].(int64)
			inc[path] = prev + u.Int
		case progress.OpSpend:
			if err := claim(path, "$inc"); err != nil {
				return nil, err
			}
			prev, _ := inc[path].(int64)
			inc[path] = prev - u.Int
		case progress.OpMapIncrement:
			path += "." + u.Key
			if err := claim(path, "$inc"); err != nil {
				return nil, err
			}
			prev, _ := inc[path].(int64)
			inc[path] = prev + u.Int
		case progress.OpArrayUnion:
			if err := claim(path, "$addToSet"); err != nil {
				return nil, err
			}
			union[path] = shared.UnionStrings(union[path], u.Values...)
		case progress.OpArrayRemove:
			if err := claim(path, "$pull"); err != nil {
				return nil, err
			}
			pull[path] = shared.UnionStrings(pull[path], u.Values...)
		}
	}

	set["updatedAt"] = now
	doc := bson.M{"$set": set}
	if len(inc) > 0 {
		doc["$inc"] = inc
	}
	if len(union) > 0 {
		m := bson.M{}
		for path, values := range union {
			m[path] = bson.M{"$each": values}
		}
		doc["$addToSet"] = m
	}
	if len(pull) > 0 {
		m := bson.M{}
		for path, values := range pull {
			m[path] = bson.M{"$in": values}
		}
		doc["$pull"] = m
	}
	return doc, nil
}
