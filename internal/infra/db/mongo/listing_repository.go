package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ticketexchange/internal/app/retry"
	"ticketexchange/internal/domain/identity"
	"ticketexchange/internal/domain/listings"
	"ticketexchange/internal/domain/shared/money"
)

type ListingRepository struct {
	col *mongo.Collection
}

func NewListingRepository(db *mongo.Database) *ListingRepository {
	col := db.Collection("agg_listing")
	sellerIdx := mongo.IndexModel{Keys: bson.D{{Key: "seller.id", Value: 1}, {Key: "created_at", Value: -1}}}
	catalogIdx := mongo.IndexModel{Keys: bson.D{{Key: "status", Value: 1}, {Key: "deleted", Value: 1}, {Key: "created_at", Value: -1}}}
	_, _ = col.Indexes().CreateMany(context.Background(), []mongo.IndexModel{sellerIdx, catalogIdx})
	return &ListingRepository{col: col}
}

func (r *ListingRepository) ByID(ctx context.Context, id listings.ListingID) (*listings.Listing, error) {
	var doc listingDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, listings.ErrListingNotFound
		}
		return nil, wrapUnavailable(err)
	}
	return doc.toAggregate(), nil
}

// Save writes the listing conditionally on the version it was loaded at.
// A lost race surfaces as ErrVersionConflict, never as silent overwrite.
func (r *ListingRepository) Save(ctx context.Context, l *listings.Listing) error {
	if err := l.CheckInvariants(); err != nil {
		return err
	}
	doc := newListingDocument(l)
	filter := bson.M{"_id": doc.ID, "version": l.Version}
	doc.Version = l.Version + 1
	update := bson.M{"$set": doc}
	opts := options.Update().SetUpsert(true)
	res, err := r.col.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return listings.ErrVersionConflict
		}
		return wrapUnavailable(err)
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return listings.ErrVersionConflict
	}
	l.Version = doc.Version
	return nil
}

func (r *ListingRepository) ListAvailable(ctx context.Context, category string) ([]*listings.Listing, error) {
	filter := bson.M{"status": string(listings.StatusAvailable), "deleted": false}
	if category != "" {
		filter["category"] = category
	}
	return r.find(ctx, filter)
}

func (r *ListingRepository) ListBySeller(ctx context.Context, seller identity.UserID) ([]*listings.Listing, error) {
	return r.find(ctx, bson.M{"seller.id": string(seller), "deleted": false})
}

func (r *ListingRepository) find(ctx context.Context, filter bson.M) ([]*listings.Listing, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer cur.Close(ctx)
	var out []*listings.Listing
	for cur.Next(ctx) {
		var doc listingDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toAggregate())
	}
	if err := cur.Err(); err != nil {
		return nil, wrapUnavailable(err)
	}
	return out, nil
}

type partyDocument struct {
	ID    string `bson:"id"`
	Name  string `bson:"name"`
	Email string `bson:"email"`
}

type listingDocument struct {
	ID            string         `bson:"_id"`
	Category      string         `bson:"category"`
	Title         string         `bson:"title"`
	Schedule      string         `bson:"schedule"`
	PriceCents    int64          `bson:"price_cents"`
	Currency      string         `bson:"currency"`
	Quantity      int            `bson:"quantity"`
	Section       string         `bson:"section"`
	Notes         string         `bson:"notes"`
	Status        string         `bson:"status"`
	Seller        partyDocument  `bson:"seller"`
	ReservedBuyer *partyDocument `bson:"reserved_buyer,omitempty"`
	FinalBuyer    *partyDocument `bson:"final_buyer,omitempty"`
	Deleted       bool           `bson:"deleted"`
	CreatedAt     int64          `bson:"created_at"`
	UpdatedAt     int64          `bson:"updated_at"`
	Version       int64          `bson:"version"`
}

func newListingDocument(l *listings.Listing) listingDocument {
	return listingDocument{
		ID:            string(l.ID),
		Category:      l.Category,
		Title:         l.Title,
		Schedule:      l.Schedule,
		PriceCents:    l.Price.Cents,
		Currency:      l.Price.Currency,
		Quantity:      l.Quantity,
		Section:       l.Section,
		Notes:         l.Notes,
		Status:        string(l.Status),
		Seller:        newPartyDocument(l.Seller),
		ReservedBuyer: newPartyPointer(l.ReservedBuyer),
		FinalBuyer:    newPartyPointer(l.FinalBuyer),
		Deleted:       l.Deleted,
		CreatedAt:     l.CreatedAt.UnixMilli(),
		UpdatedAt:     l.UpdatedAt.UnixMilli(),
		Version:       l.Version,
	}
}

func (d listingDocument) toAggregate() *listings.Listing {
	return &listings.Listing{
		ID:            listings.ListingID(d.ID),
		Category:      d.Category,
		Title:         d.Title,
		Schedule:      d.Schedule,
		Price:         money.Money{Cents: d.PriceCents, Currency: d.Currency},
		Quantity:      d.Quantity,
		Section:       d.Section,
		Notes:         d.Notes,
		Status:        listings.Status(d.Status),
		Seller:        d.Seller.toParty(),
		ReservedBuyer: toPartyPointer(d.ReservedBuyer),
		FinalBuyer:    toPartyPointer(d.FinalBuyer),
		Deleted:       d.Deleted,
		CreatedAt:     timestampToTime(d.CreatedAt),
		UpdatedAt:     timestampToTime(d.UpdatedAt),
		Version:       d.Version,
	}
}

func newPartyDocument(p listings.Party) partyDocument {
	return partyDocument{ID: string(p.ID), Name: p.Name, Email: p.Email}
}

func newPartyPointer(p *listings.Party) *partyDocument {
	if p == nil {
		return nil
	}
	doc := newPartyDocument(*p)
	return &doc
}

func (d partyDocument) toParty() listings.Party {
	return listings.Party{ID: identity.UserID(d.ID), Name: d.Name, Email: d.Email}
}

func toPartyPointer(d *partyDocument) *listings.Party {
	if d == nil {
		return nil
	}
	p := d.toParty()
	return &p
}

func timestampToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// wrapUnavailable tags network and timeout failures as transient so callers
// retry with backoff instead of failing the request outright.
func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return fmt.Errorf("%w: %v", retry.ErrStoreUnavailable, err)
	}
	return err
}
