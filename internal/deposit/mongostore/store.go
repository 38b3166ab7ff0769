// Package mongostore keeps the deposit ledger in the payment_events collection.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"gamehub/payment-settlement/internal/deposit"
)

const collectionName = "payment_events"

type Store struct {
	events *mongo.Collection
	now    func() time.Time
}

func New(db *mongo.Database) *Store {
	return &Store{
		events: db.Collection(collectionName),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// EnsureIndexes creates the unique reference index that every conditional
// write in this store relies on, plus the sweep and history indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "reference", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "creditAppliedAt", Value: 1}, {Key: "settledAt", Value: 1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	return err
}

func (s *Store) EnsurePending(ctx context.Context, d deposit.Deposit) (bool, error) {
	now := s.now()
	update := bson.M{
		"$setOnInsert": bson.M{
			"userId":          d.UserID,
			"amountMinor":     d.AmountMinor,
			"currency":        d.Currency,
			"status":          deposit.StatusPending,
			"channel":         d.Channel,
			"creditAppliedAt": nil,
			"createdAt":       now,
			"updatedAt":       now,
		},
	}
	res, err := s.events.UpdateOne(ctx, bson.M{"reference": d.Reference}, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// lost an upsert race; the other writer created the row
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.UpsertedCount == 1, nil
}

func (s *Store) Get(ctx context.Context, reference string) (*deposit.Deposit, error) {
	var d deposit.Deposit
	err := s.events.FindOne(ctx, bson.M{"reference": reference}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, deposit.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) ClaimSuccess(ctx context.Context, c deposit.Claim) (bool, *deposit.Deposit, error) {
	now := s.now()
	set := bson.M{
		"status":     deposit.StatusSuccessful,
		"externalId": c.ExternalID,
		"gatewayRaw": []byte(c.Raw),
		"source":     c.Source,
		"settledAt":  now,
		"updatedAt":  now,
	}
	if c.AmountMinor > 0 {
		set["amountMinor"] = c.AmountMinor
	}
	if c.Currency != "" {
		set["currency"] = c.Currency
	}

	var d deposit.Deposit
	err := s.events.FindOneAndUpdate(ctx,
		bson.M{"reference": c.Reference, "status": deposit.StatusPending},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if err == nil {
		return true, &d, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil, err
	}

	current, err := s.Get(ctx, c.Reference)
	if err != nil {
		return false, nil, err
	}
	return false, current, nil
}

func (s *Store) MarkFailed(ctx context.Context, o deposit.Outcome) (bool, error) {
	now := s.now()
	res, err := s.events.UpdateOne(ctx,
		bson.M{"reference": o.Reference, "status": deposit.StatusPending},
		bson.M{"$set": bson.M{
			"status":     deposit.StatusFailed,
			"externalId": o.ExternalID,
			"gatewayRaw": []byte(o.Raw),
			"source":     o.Source,
			"settledAt":  now,
			"updatedAt":  now,
		}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (s *Store) MarkCreditApplied(ctx context.Context, reference string) (bool, error) {
	now := s.now()
	res, err := s.events.UpdateOne(ctx,
		bson.M{"reference": reference, "status": deposit.StatusSuccessful, "creditAppliedAt": nil},
		bson.M{"$set": bson.M{"creditAppliedAt": now, "updatedAt": now}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (s *Store) FindStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]deposit.Deposit, error) {
	filter := bson.M{
		"status":    deposit.StatusPending,
		"createdAt": bson.M{"$lte": s.now().Add(-olderThan)},
	}
	return s.find(ctx, filter, bson.D{{Key: "createdAt", Value: 1}}, limit)
}

func (s *Store) FindClaimedUncredited(ctx context.Context, olderThan time.Duration, limit int) ([]deposit.Deposit, error) {
	filter := bson.M{
		"status":          deposit.StatusSuccessful,
		"creditAppliedAt": nil,
		"settledAt":       bson.M{"$lte": s.now().Add(-olderThan)},
	}
	return s.find(ctx, filter, bson.D{{Key: "settledAt", Value: 1}}, limit)
}

func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]deposit.Deposit, error) {
	return s.find(ctx, bson.M{"userId": userID}, bson.D{{Key: "createdAt", Value: -1}}, limit)
}

func (s *Store) find(ctx context.Context, filter bson.M, sort bson.D, limit int) ([]deposit.Deposit, error) {
	opts := options.Find().SetSort(sort)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := make([]deposit.Deposit, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
