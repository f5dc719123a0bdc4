package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"ticketexchange/internal/domain/identity"
	"ticketexchange/internal/domain/listings"
	"ticketexchange/internal/domain/shared/events"
)

var (
	ErrConversationNotFound = errors.New("chat: conversation not found")
	ErrConversationExists   = errors.New("chat: conversation already exists")
	ErrSameParticipant      = errors.New("chat: a conversation needs two distinct participants")
	ErrParticipantRequired  = errors.New("chat: participant id is required")
	ErrNotParticipant       = errors.New("chat: sender is not a participant")
	ErrForbidden            = errors.New("chat: caller is not allowed")
)

type ConversationID string

// Conversation is a thread between exactly two identities, optionally scoped
// to one listing. The participant pair is stored sorted so the dedup key is
// independent of who initiated.
type Conversation struct {
	ID           ConversationID
	ListingID    listings.ListingID
	Participants [2]identity.UserID
	Invalidated  bool
	CreatedAt    time.Time
	events.Recorder
}

func NewConversation(id ConversationID, listingID listings.ListingID, a, b identity.UserID, now time.Time) (*Conversation, error) {
	if strings.TrimSpace(string(a)) == "" || strings.TrimSpace(string(b)) == "" {
		return nil, ErrParticipantRequired
	}
	if a == b {
		return nil, ErrSameParticipant
	}
	if b < a {
		a, b = b, a
	}
	c := &Conversation{
		ID:           id,
		ListingID:    listingID,
		Participants: [2]identity.UserID{a, b},
		CreatedAt:    now.UTC(),
	}
	c.Record(ConversationStartedEvent{ConversationID: c.ID, ListingID: listingID, At: c.CreatedAt})
	return c, nil
}

// Key is the composite dedup key: one conversation per (listing, pair).
func (c *Conversation) Key() string {
	return DedupKey(c.ListingID, c.Participants[0], c.Participants[1])
}

// DedupKey normalizes the participant order so racing creators compute the
// same key.
func DedupKey(listingID listings.ListingID, a, b identity.UserID) string {
	if b < a {
		a, b = b, a
	}
	return string(listingID) + "|" + string(a) + "|" + string(b)
}

func (c *Conversation) HasParticipant(id identity.UserID) bool {
	return c.Participants[0] == id || c.Participants[1] == id
}

// Counterparty returns the other participant, or empty if self is not one.
func (c *Conversation) Counterparty(self identity.UserID) identity.UserID {
	switch self {
	case c.Participants[0]:
		return c.Participants[1]
	case c.Participants[1]:
		return c.Participants[0]
	}
	return ""
}

// ConversationRepository persists conversation records. Create must fail with
// ErrConversationExists when another record with the same Key() is already
// committed; the registry relies on that for read-repair under races.
type ConversationRepository interface {
	ByID(ctx context.Context, id ConversationID) (*Conversation, error)
	ByKey(ctx context.Context, key string) (*Conversation, error)
	Create(ctx context.Context, conversation *Conversation) error
	ListForUser(ctx context.Context, user identity.UserID) ([]*Conversation, error)
	ListForListing(ctx context.Context, listingID listings.ListingID) ([]*Conversation, error)
	InvalidateByListing(ctx context.Context, listingID listings.ListingID) error
}
