package mongo

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ticketexchange/internal/domain/identity"
)

// Directory stores known identities and the bearer tokens that resolve to
// them. Tokens live in their own collection keyed by the token string.
type Directory struct {
	identities *mongo.Collection
	tokens     *mongo.Collection
}

func NewDirectory(db *mongo.Database) *Directory {
	identities := db.Collection("identities")
	emailIdx := mongo.IndexModel{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)}
	_, _ = identities.Indexes().CreateOne(context.Background(), emailIdx)
	return &Directory{identities: identities, tokens: db.Collection("auth_tokens")}
}

// Put upserts an identity and optionally binds a bearer token to it.
func (d *Directory) Put(ctx context.Context, id identity.Identity, token string) error {
	doc := identityDocument{
		ID:          string(id.ID),
		DisplayName: id.DisplayName,
		Email:       strings.ToLower(id.Email),
		PhotoRef:    id.PhotoRef,
	}
	opts := options.Update().SetUpsert(true)
	if _, err := d.identities.UpdateOne(ctx, bson.M{"_id": doc.ID}, bson.M{"$set": doc}, opts); err != nil {
		return wrapUnavailable(err)
	}
	if token == "" {
		return nil
	}
	_, err := d.tokens.UpdateOne(ctx, bson.M{"_id": token}, bson.M{"$set": bson.M{"user_id": doc.ID}}, opts)
	return wrapUnavailable(err)
}

func (d *Directory) ByID(ctx context.Context, id identity.UserID) (identity.Identity, error) {
	var doc identityDocument
	if err := d.identities.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return identity.Identity{}, identity.ErrIdentityNotFound
		}
		return identity.Identity{}, wrapUnavailable(err)
	}
	return doc.toIdentity(), nil
}

func (d *Directory) ByEmail(ctx context.Context, email string) (identity.Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var doc identityDocument
	if err := d.identities.FindOne(ctx, bson.M{"email": email}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return identity.Identity{}, identity.ErrIdentityNotFound
		}
		return identity.Identity{}, wrapUnavailable(err)
	}
	return doc.toIdentity(), nil
}

func (d *Directory) Verify(ctx context.Context, token string) (identity.Identity, error) {
	var doc struct {
		UserID string `bson:"user_id"`
	}
	if err := d.tokens.FindOne(ctx, bson.M{"_id": token}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return identity.Identity{}, identity.ErrInvalidToken
		}
		return identity.Identity{}, wrapUnavailable(err)
	}
	return d.ByID(ctx, identity.UserID(doc.UserID))
}

type identityDocument struct {
	ID          string `bson:"_id"`
	DisplayName string `bson:"display_name"`
	Email       string `bson:"email,omitempty"`
	PhotoRef    string `bson:"photo_ref,omitempty"`
}

func (d identityDocument) toIdentity() identity.Identity {
	return identity.Identity{
		ID:          identity.UserID(d.ID),
		DisplayName: d.DisplayName,
		Email:       d.Email,
		PhotoRef:    d.PhotoRef,
	}
}
