package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const maxUpsertAttempts = 3

// errAlreadyApplied aborts the credit transaction when the ledger already
// holds an entry for the reference.
var errAlreadyApplied = errors.New("reference already applied")

// Mongo keeps balances in wallet_balances and one ledger_entries document
// per applied deposit reference. The increment and its ledger entry commit
// in one transaction, so the deployment needs a replica set.
type Mongo struct {
	client   *mongo.Client
	balances *mongo.Collection
	entries  *mongo.Collection
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{
		client:   db.Client(),
		balances: db.Collection("wallet_balances"),
		entries:  db.Collection("ledger_entries"),
	}
}

func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	if _, err := m.balances.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	_, err := m.entries.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "reference", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	return err
}

type balanceDoc struct {
	UserID        string    `bson:"userId"`
	MainBalance   int64     `bson:"mainBalance"`
	TotalDeposits int64     `bson:"totalDeposits"`
	Currency      string    `bson:"currency"`
	CreatedAt     time.Time `bson:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt"`
}

func (b balanceDoc) toBalance() *Balance {
	return &Balance{
		UserID:        b.UserID,
		MainBalance:   b.MainBalance,
		TotalDeposits: b.TotalDeposits,
		Currency:      b.Currency,
		UpdatedAt:     b.UpdatedAt,
	}
}

type ledgerEntry struct {
	UserID       string    `bson:"userId"`
	Type         string    `bson:"type"`
	AmountMinor  int64     `bson:"amountMinor"`
	Currency     string    `bson:"currency,omitempty"`
	Reference    string    `bson:"reference"`
	BalanceAfter int64     `bson:"balanceAfter"`
	CreatedAt    time.Time `bson:"createdAt"`
}

func (m *Mongo) Credit(ctx context.Context, req CreditRequest) (*Balance, bool, error) {
	if err := req.validate(); err != nil {
		return nil, false, err
	}

	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		var bal *Balance
		err := m.executeTx(ctx, func(sc mongo.SessionContext) error {
			now := time.Now().UTC()
			set := bson.M{"updatedAt": now}
			if req.Currency != "" {
				set["currency"] = req.Currency
			}
			update := bson.M{
				"$inc":         bson.M{"mainBalance": req.AmountMinor, "totalDeposits": req.AmountMinor},
				"$set":         set,
				"$setOnInsert": bson.M{"createdAt": now},
			}
			opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

			var doc balanceDoc
			if err := m.balances.FindOneAndUpdate(sc, bson.M{"userId": req.UserID}, update, opts).Decode(&doc); err != nil {
				return err
			}
			_, err := m.entries.InsertOne(sc, ledgerEntry{
				UserID:       req.UserID,
				Type:         "DEPOSIT_CONFIRMED",
				AmountMinor:  req.AmountMinor,
				Currency:     req.Currency,
				Reference:    req.Reference,
				BalanceAfter: doc.MainBalance,
				CreatedAt:    now,
			})
			if mongo.IsDuplicateKeyError(err) {
				return errAlreadyApplied
			}
			if err != nil {
				return err
			}
			bal = doc.toBalance()
			return nil
		})
		switch {
		case err == nil:
			return bal, true, nil
		case errors.Is(err, errAlreadyApplied):
			current, err := m.Balance(ctx, req.UserID)
			return current, false, err
		case mongo.IsDuplicateKeyError(err):
			// Two first credits raced to create the balance document.
			continue
		default:
			return nil, false, err
		}
	}
	return nil, false, fmt.Errorf("wallet credit %s: upsert kept colliding", req.Reference)
}

func (m *Mongo) Balance(ctx context.Context, userID string) (*Balance, error) {
	var doc balanceDoc
	err := m.balances.FindOne(ctx, bson.M{"userId": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &Balance{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.toBalance(), nil
}

// executeTx runs fn in a transaction; WithTransaction retries it on
// transient errors such as write conflicts between concurrent credits.
func (m *Mongo) executeTx(ctx context.Context, fn func(mongo.SessionContext) error) error {
	session, err := m.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
