package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "cart_lines"

var ErrEmptyAccountID = errors.New("account id is empty")

// lineDocument is one cart line of one account. added_at drives the TTL
// index: upserts stamp it, overwrites keep the value carried by each line.
type lineDocument struct {
	AccountID string    `bson:"account_id"`
	ProductID int64     `bson:"product_id"`
	Quantity  int       `bson:"quantity"`
	AddedAt   time.Time `bson:"added_at"`
}

func (d lineDocument) line() domain.CartLine {
	return domain.CartLine{ProductID: d.ProductID, Quantity: d.Quantity, AddedAt: d.AddedAt}
}

type MongoRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func (m *MongoRepository) ReadAll(ctx context.Context, accountID string) ([]domain.CartLine, error) {
	if accountID == "" {
		return nil, ErrEmptyAccountID
	}

	opts := options.Find().SetSort(bson.D{{Key: "added_at", Value: 1}, {Key: "product_id", Value: 1}})
	cursor, err := m.collection.Find(ctx, bson.M{"account_id": accountID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read cart lines: %w", err)
	}

	var docs []lineDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode cart lines: %w", err)
	}

	lines := make([]domain.CartLine, 0, len(docs))
	for _, d := range docs {
		lines = append(lines, d.line())
	}
	return lines, nil
}

// OverwriteAll replaces every line of the account. Standalone deployments
// have no multi-document transactions, so this is delete-then-insert.
// Lines without AddedAt are stamped with the current time.
func (m *MongoRepository) OverwriteAll(ctx context.Context, accountID string, lines []domain.CartLine) error {
	if accountID == "" {
		return ErrEmptyAccountID
	}

	if _, err := m.collection.DeleteMany(ctx, bson.M{"account_id": accountID}); err != nil {
		return fmt.Errorf("failed to clear cart lines: %w", err)
	}
	if len(lines) == 0 {
		return nil
	}

	now := m.timestamp()
	docs := make([]interface{}, 0, len(lines))
	for _, l := range lines {
		addedAt := now
		if !l.AddedAt.IsZero() {
			addedAt = l.AddedAt.UTC().Truncate(time.Millisecond)
		}
		docs = append(docs, lineDocument{
			AccountID: accountID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			AddedAt:   addedAt,
		})
	}
	if _, err := m.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert cart lines: %w", err)
	}
	return nil
}

// DeleteAll removes the account cart. Deleting an empty cart is not an error.
func (m *MongoRepository) DeleteAll(ctx context.Context, accountID string) error {
	if accountID == "" {
		return ErrEmptyAccountID
	}

	if _, err := m.collection.DeleteMany(ctx, bson.M{"account_id": accountID}); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

func (m *MongoRepository) UpsertLine(ctx context.Context, accountID string, line domain.CartLine) error {
	if accountID == "" {
		return ErrEmptyAccountID
	}

	filter := bson.M{"account_id": accountID, "product_id": line.ProductID}
	update := bson.M{
		"$set": bson.M{
			"quantity": line.Quantity,
			"added_at": m.timestamp(),
		},
	}
	opts := options.Update().SetUpsert(true)

	if _, err := m.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert cart line: %w", err)
	}
	return nil
}

func (m *MongoRepository) DeleteLines(ctx context.Context, accountID string, productIDs ...int64) error {
	if accountID == "" {
		return ErrEmptyAccountID
	}
	if len(productIDs) == 0 {
		return nil
	}

	filter := bson.M{
		"account_id": accountID,
		"product_id": bson.M{"$in": productIDs},
	}
	if _, err := m.collection.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete cart lines: %w", err)
	}
	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "product_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "added_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(domain.AccountTTL / time.Second)),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// mongo stores milliseconds, truncate so reads compare equal to writes
func (m *MongoRepository) timestamp() time.Time {
	return m.now().UTC().Truncate(time.Millisecond)
}

// NewMongoRepository returns a repository over the cart_lines collection.
// Call CreateIndexes once at startup.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(collectionName),
		now:        time.Now,
	}
}

var _ CartRepository = (*MongoRepository)(nil)
