package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type cartDocument struct {
	ID        string         `bson:"_id"`
	OwnerKind string         `bson:"owner_kind"`
	OwnerID   string         `bson:"owner_id"`
	Lines     []lineDocument `bson:"lines"`
	Version   int64          `bson:"version"`
	CreatedAt time.Time      `bson:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

type lineDocument struct {
	ProductID    int64                `bson:"product_id"`
	Size         string               `bson:"size,omitempty"`
	Color        string               `bson:"color,omitempty"`
	Name         string               `bson:"name"`
	UnitPrice    primitive.Decimal128 `bson:"unit_price"`
	OfferPercent primitive.Decimal128 `bson:"offer_percent"`
	Quantity     int                  `bson:"quantity"`
	VariantImage string               `bson:"variant_image,omitempty"`
	CategoryName string               `bson:"category_name"`
	Available    int                  `bson:"available"`
	AddedAt      time.Time            `bson:"added_at"`
}

// MongoRepository holds signed-in users' carts. They are durable and carry
// no expiry index; only guest carts in Redis expire.
type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *MongoRepository) Load(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	var doc cartDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": owner.Key()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, domain.Persistence("failed to get cart", err)
	}
	cart, err := fromDocument(doc)
	if err != nil {
		return nil, domain.Persistence("failed to decode cart", err)
	}
	return cart, nil
}

func (m *MongoRepository) Save(ctx context.Context, cart *domain.Cart) error {
	doc, err := toDocument(cart)
	if err != nil {
		return domain.Persistence("failed to encode cart", err)
	}
	doc.Version = cart.Version + 1
	doc.UpdatedAt = time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = doc.UpdatedAt
	}

	if cart.Version == 0 {
		if _, err := m.collection.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrVersionConflict
			}
			return domain.Persistence("failed to create cart", err)
		}
	} else {
		filter := bson.M{"_id": doc.ID, "version": cart.Version}
		result, err := m.collection.ReplaceOne(ctx, filter, doc)
		if err != nil {
			return domain.Persistence("failed to replace cart", err)
		}
		if result.MatchedCount == 0 {
			return ErrVersionConflict
		}
	}

	cart.Version = doc.Version
	cart.CreatedAt = doc.CreatedAt
	cart.UpdatedAt = doc.UpdatedAt
	return nil
}

func (m *MongoRepository) Delete(ctx context.Context, owner domain.Owner) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": owner.Key()}); err != nil {
		return domain.Persistence("failed to delete cart", err)
	}
	return nil
}

func (m *MongoRepository) DeleteVersion(ctx context.Context, owner domain.Owner, version int64) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"_id": owner.Key(), "version": version})
	if err != nil {
		return domain.Persistence("failed to delete cart", err)
	}
	if result.DeletedCount > 0 {
		return nil
	}

	n, err := m.collection.CountDocuments(ctx, bson.M{"_id": owner.Key()})
	if err != nil {
		return domain.Persistence("failed to check cart", err)
	}
	if n > 0 {
		return ErrVersionConflict
	}
	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "owner_id", Value: 1}},
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func toDocument(c *domain.Cart) (cartDocument, error) {
	doc := cartDocument{
		ID:        c.Owner.Key(),
		OwnerKind: string(c.Owner.Kind),
		OwnerID:   c.Owner.ID,
		Lines:     make([]lineDocument, len(c.Lines)),
		CreatedAt: c.CreatedAt,
	}
	for i, l := range c.Lines {
		price, err := primitive.ParseDecimal128(l.UnitPrice.String())
		if err != nil {
			return doc, fmt.Errorf("encode unit price of product %d: %w", l.ProductID, err)
		}
		offer, err := primitive.ParseDecimal128(l.OfferPercent.String())
		if err != nil {
			return doc, fmt.Errorf("encode offer of product %d: %w", l.ProductID, err)
		}
		doc.Lines[i] = lineDocument{
			ProductID:    l.ProductID,
			Size:         l.Size,
			Color:        l.Color,
			Name:         l.Name,
			UnitPrice:    price,
			OfferPercent: offer,
			Quantity:     l.Quantity,
			VariantImage: l.VariantImage,
			CategoryName: l.CategoryName,
			Available:    l.Available,
			AddedAt:      l.AddedAt,
		}
	}
	return doc, nil
}

func fromDocument(doc cartDocument) (*domain.Cart, error) {
	c := &domain.Cart{
		Owner:     domain.Owner{Kind: domain.OwnerKind(doc.OwnerKind), ID: doc.OwnerID},
		Lines:     make([]domain.CartLine, len(doc.Lines)),
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for i, l := range doc.Lines {
		price, err := decimal.NewFromString(l.UnitPrice.String())
		if err != nil {
			return nil, fmt.Errorf("decode unit price of product %d: %w", l.ProductID, err)
		}
		offer, err := decimal.NewFromString(l.OfferPercent.String())
		if err != nil {
			return nil, fmt.Errorf("decode offer of product %d: %w", l.ProductID, err)
		}
		c.Lines[i] = domain.CartLine{
			ProductID:    l.ProductID,
			Size:         l.Size,
			Color:        l.Color,
			Name:         l.Name,
			UnitPrice:    price,
			OfferPercent: offer,
			Quantity:     l.Quantity,
			VariantImage: l.VariantImage,
			CategoryName: l.CategoryName,
			Available:    l.Available,
			AddedAt:      l.AddedAt,
		}
	}
	return c, nil
}
