package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ticketexchange/internal/domain/chat"
	"ticketexchange/internal/domain/identity"
	"ticketexchange/internal/domain/listings"
)

// ConversationRepository relies on a unique index over the composite key so
// concurrent creates of the same thread collapse to a single document.
type ConversationRepository struct {
	col *mongo.Collection
}

func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	col := db.Collection("agg_conversation")
	keyIdx := mongo.IndexModel{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true)}
	participantIdx := mongo.IndexModel{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "created_at", Value: -1}}}
	listingIdx := mongo.IndexModel{Keys: bson.D{{Key: "listing_id", Value: 1}}}
	_, _ = col.Indexes().CreateMany(context.Background(), []mongo.IndexModel{keyIdx, participantIdx, listingIdx})
	return &ConversationRepository{col: col}
}

func (r *ConversationRepository) ByID(ctx context.Context, id chat.ConversationID) (*chat.Conversation, error) {
	var doc conversationDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, chat.ErrConversationNotFound
		}
		return nil, wrapUnavailable(err)
	}
	return doc.toAggregate(), nil
}

func (r *ConversationRepository) ByKey(ctx context.Context, key string) (*chat.Conversation, error) {
	var doc conversationDocument
	if err := r.col.FindOne(ctx, bson.M{"key": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, chat.ErrConversationNotFound
		}
		return nil, wrapUnavailable(err)
	}
	return doc.toAggregate(), nil
}

func (r *ConversationRepository) Create(ctx context.Context, conversation *chat.Conversation) error {
	doc := newConversationDocument(conversation)
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return chat.ErrConversationExists
		}
		return wrapUnavailable(err)
	}
	return nil
}

func (r *ConversationRepository) ListForUser(ctx context.Context, user identity.UserID) ([]*chat.Conversation, error) {
	return r.find(ctx, bson.M{"participants": string(user)})
}

func (r *ConversationRepository) ListForListing(ctx context.Context, listingID listings.ListingID) ([]*chat.Conversation, error) {
	if listingID == "" {
		return nil, nil
	}
	return r.find(ctx, bson.M{"listing_id": string(listingID)})
}

func (r *ConversationRepository) InvalidateByListing(ctx context.Context, listingID listings.ListingID) error {
	if listingID == "" {
		return nil
	}
	_, err := r.col.UpdateMany(ctx, bson.M{"listing_id": string(listingID)}, bson.M{"$set": bson.M{"invalidated": true}})
	return wrapUnavailable(err)
}

func (r *ConversationRepository) find(ctx context.Context, filter bson.M) ([]*chat.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer cur.Close(ctx)
	var out []*chat.Conversation
	for cur.Next(ctx) {
		var doc conversationDocument
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

type conversationDocument struct {
	ID           string   `bson:"_id"`
	Key          string   `bson:"key"`
	ListingID    string   `bson:"listing_id,omitempty"`
	Participants []string `bson:"participants"`
	Invalidated  bool     `bson:"invalidated"`
	CreatedAt    int64    `bson:"created_at"`
}

func newConversationDocument(c *chat.Conversation) conversationDocument {
	return conversationDocument{
		ID:           string(c.ID),
		Key:          c.Key(),
		ListingID:    string(c.ListingID),
		Participants: []string{string(c.Participants[0]), string(c.Participants[1])},
		Invalidated:  c.Invalidated,
		CreatedAt:    c.CreatedAt.UnixMilli(),
	}
}

func (d conversationDocument) toAggregate() *chat.Conversation {
	conv := &chat.Conversation{
		ID:          chat.ConversationID(d.ID),
		ListingID:   listings.ListingID(d.ListingID),
		Invalidated: d.Invalidated,
		CreatedAt:   timestampToTime(d.CreatedAt),
	}
	if len(d.Participants) == 2 {
		conv.Participants = [2]identity.UserID{identity.UserID(d.Participants[0]), identity.UserID(d.Participants[1])}
	}
	return conv
}

// MessageStore appends into a per-conversation log. The sequence comes from
// an atomic counter increment, which gives every conversation a dense total
// order across writers.
type MessageStore struct {
	messages *mongo.Collection
	counters *mongo.Collection
}

func NewMessageStore(db *mongo.Database) *MessageStore {
	messages := db.Collection("log_message")
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, _ = messages.Indexes().CreateOne(context.Background(), idx)
	return &MessageStore{messages: messages, counters: db.Collection("log_message_counters")}
}

func (s *MessageStore) Append(ctx context.Context, msg *chat.Message) error {
	seq, err := s.nextSeq(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	msg.Seq = seq
	msg.CreatedAt = time.Now().UTC()
	doc := messageDocument{
		ID:             string(msg.ID),
		ConversationID: string(msg.ConversationID),
		SenderID:       string(msg.SenderID),
		SenderName:     msg.SenderName,
		Body:           msg.Body,
		Seq:            msg.Seq,
		CreatedAt:      msg.CreatedAt.UnixMilli(),
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func (s *MessageStore) List(ctx context.Context, conversationID chat.ConversationID) ([]chat.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cur, err := s.messages.Find(ctx, bson.M{"conversation_id": string(conversationID)}, opts)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer cur.Close(ctx)
	var out []chat.Message
	for cur.Next(ctx) {
		var doc messageDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, chat.Message{
			ID:             chat.MessageID(doc.ID),
			ConversationID: chat.ConversationID(doc.ConversationID),
			SenderID:       identity.UserID(doc.SenderID),
			SenderName:     doc.SenderName,
			Body:           doc.Body,
			Seq:            doc.Seq,
			CreatedAt:      timestampToTime(doc.CreatedAt),
		})
	}
	if err := cur.Err(); err != nil {
		return nil, wrapUnavailable(err)
	}
	return out, nil
}

func (s *MessageStore) nextSeq(ctx context.Context, conversationID chat.ConversationID) (uint64, error) {
	filter := bson.M{"_id": string(conversationID)}
	update := bson.M{"$inc": bson.M{"seq": int64(1)}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	if err := s.counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return 0, wrapUnavailable(err)
	}
	return uint64(doc.Seq), nil
}

type messageDocument struct {
	ID             string `bson:"_id"`
	ConversationID string `bson:"conversation_id"`
	SenderID       string `bson:"sender_id"`
	SenderName     string `bson:"sender_name"`
	Body           string `bson:"body"`
	Seq            uint64 `bson:"seq"`
	CreatedAt      int64  `bson:"created_at"`
}
