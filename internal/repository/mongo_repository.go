package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type lineDocument struct {
	ID               string    `bson:"_id"`
	CartID           string    `bson:"cart_id"`
	PriceBookEntryID string    `bson:"price_book_entry_id"`
	Name             string    `bson:"name"`
	Quantity         int64     `bson:"quantity"`
	RecurringCharge  string    `bson:"recurring_charge"`
	OneTimeCharge    string    `bson:"one_time_charge"`
	Position         int64     `bson:"position"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

func toDocument(l *Line) lineDocument {
	return lineDocument{
		ID:               l.ID,
		CartID:           l.CartID,
		PriceBookEntryID: l.PriceBookEntryID,
		Name:             l.Name,
		Quantity:         l.Quantity,
		RecurringCharge:  l.RecurringCharge.String(),
		OneTimeCharge:    l.OneTimeCharge.String(),
		Position:         l.Position,
		CreatedAt:        l.CreatedAt,
		UpdatedAt:        l.UpdatedAt,
	}
}

func (d lineDocument) toLine() (*Line, error) {
	recurring, err := decimal.NewFromString(d.RecurringCharge)
	if err != nil {
		return nil, fmt.Errorf("line %s: bad recurring charge: %w", d.ID, err)
	}
	oneTime, err := decimal.NewFromString(d.OneTimeCharge)
	if err != nil {
		return nil, fmt.Errorf("line %s: bad one-time charge: %w", d.ID, err)
	}
	return &Line{
		ID:               d.ID,
		CartID:           d.CartID,
		PriceBookEntryID: d.PriceBookEntryID,
		Name:             d.Name,
		Quantity:         d.Quantity,
		RecurringCharge:  recurring,
		OneTimeCharge:    oneTime,
		Position:         d.Position,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}, nil
}

type mongoLineRepository struct {
	collection *mongo.Collection
}

func NewMongoLineRepository(db *mongo.Database) LineRepository {
	return &mongoLineRepository{
		collection: db.Collection("cart_lines"),
	}
}

func (m *mongoLineRepository) ListLines(ctx context.Context, cartID string) ([]Line, error) {
	opts := options.Find().SetSort(bson.D{{Key: "position", Value: 1}})
	cursor, err := m.collection.Find(ctx, bson.M{"cart_id": cartID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list lines: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []lineDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode lines: %w", err)
	}

	lines := make([]Line, 0, len(docs))
	for _, d := range docs {
		l, err := d.toLine()
		if err != nil {
			return nil, err
		}
		lines = append(lines, *l)
	}
	return lines, nil
}

func (m *mongoLineRepository) GetLine(ctx context.Context, cartID, lineID string) (*Line, error) {
	var doc lineDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": lineID, "cart_id": cartID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrLineNotFound
		}
		return nil, fmt.Errorf("failed to get line: %w", err)
	}
	return doc.toLine()
}

func (m *mongoLineRepository) InsertLine(ctx context.Context, line *Line) error {
	now := time.Now()
	if line.ID == "" {
		line.ID = uuid.New().String()
	}
	line.Position = now.UnixNano()
	line.CreatedAt = now
	line.UpdatedAt = now

	if _, err := m.collection.InsertOne(ctx, toDocument(line)); err != nil {
		return fmt.Errorf("failed to insert line: %w", err)
	}
	return nil
}

func (m *mongoLineRepository) UpdateQuantity(ctx context.Context, cartID, lineID string, quantity int64) (*Line, error) {
	filter := bson.M{"_id": lineID, "cart_id": cartID}
	update := bson.M{
		"$set": bson.M{
			"quantity":   quantity,
			"updated_at": time.Now(),
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc lineDocument
	err := m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrLineNotFound
		}
		return nil, fmt.Errorf("failed to update line quantity: %w", err)
	}
	return doc.toLine()
}

func (m *mongoLineRepository) DeleteCart(ctx context.Context, cartID string) error {
	if _, err := m.collection.DeleteMany(ctx, bson.M{"cart_id": cartID}); err != nil {
		return fmt.Errorf("failed to delete cart lines: %w", err)
	}
	return nil
}

func (m *mongoLineRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "cart_id", Value: 1}, {Key: "position", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(30 * 24 * 60 * 60), // 30 days TTL
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// EnsureIndexes creates the line indexes when repo is Mongo backed.
func EnsureIndexes(ctx context.Context, repo LineRepository) error {
	if m, ok := repo.(*mongoLineRepository); ok {
		return m.CreateIndexes(ctx)
	}
	return nil
}
