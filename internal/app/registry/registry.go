package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ticketexchange/internal/app/fanout"
	"ticketexchange/internal/app/outbox"
	"ticketexchange/internal/app/retry"
	"ticketexchange/internal/domain/chat"
	"ticketexchange/internal/domain/identity"
	"ticketexchange/internal/domain/listings"
)

// Registry owns conversation creation and participant-scoped queries. The
// dedup contract: one conversation per (listing, unordered pair), enforced
// by the store's unique composite key and repaired by re-reading on
// conflict.
type Registry struct {
	Conversations chat.ConversationRepository
	Listings      listings.Repository
	Broker        *fanout.Broker
	Outbox        outbox.Outbox
	Encoder       outbox.EventEncoder
	Backoff       []time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
	NewID         func() string
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Registry) newID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.NewString()
}

// GetOrCreate returns the conversation for (listingID, initiator,
// counterparty), creating it on first interest. Racing callers observe the
// same conversation: the loser of the unique-key insert re-reads the
// winner's row.
func (r *Registry) GetOrCreate(ctx context.Context, listingID listings.ListingID, initiator, counterparty identity.UserID) (*chat.Conversation, error) {
	key := chat.DedupKey(listingID, initiator, counterparty)

	var existing *chat.Conversation
	err := retry.Do(ctx, r.Backoff, func() error {
		found, err := r.Conversations.ByKey(ctx, key)
		if err != nil {
			return err
		}
		existing = found
		return nil
	})
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, chat.ErrConversationNotFound) {
		return nil, err
	}

	conv, err := chat.NewConversation(chat.ConversationID(r.newID()), listingID, initiator, counterparty, r.now())
	if err != nil {
		return nil, err
	}
	err = retry.Do(ctx, r.Backoff, func() error {
		return r.Conversations.Create(ctx, conv)
	})
	if errors.Is(err, chat.ErrConversationExists) {
		// Lost the race; the committed row is the one both callers share.
		return r.Conversations.ByKey(ctx, key)
	}
	if err != nil {
		return nil, err
	}

	pending := conv.PendingEvents()
	conv.ClearEvents()
	if err := outbox.RecordDomainEvents(ctx, r.Outbox, r.Encoder, pending); err != nil && r.Logger != nil {
		r.Logger.Error("outbox record failed", "conversation_id", conv.ID, "error", err)
	}
	if r.Broker != nil {
		r.Broker.Publish(fanout.KindConversation, string(conv.ID), "conversation.started", false, conv.ID)
	}
	return conv, nil
}

// GetOrCreateDirect opens a listing-less thread between two identities.
func (r *Registry) GetOrCreateDirect(ctx context.Context, initiator, counterparty identity.UserID) (*chat.Conversation, error) {
	return r.GetOrCreate(ctx, "", initiator, counterparty)
}

// ListFor returns every conversation the identity participates in.
func (r *Registry) ListFor(ctx context.Context, user identity.UserID) ([]*chat.Conversation, error) {
	var out []*chat.Conversation
	err := retry.Do(ctx, r.Backoff, func() error {
		found, err := r.Conversations.ListForUser(ctx, user)
		if err != nil {
			return err
		}
		out = found
		return nil
	})
	return out, err
}

// ListForListing returns a listing's conversations, restricted to its
// seller.
func (r *Registry) ListForListing(ctx context.Context, listingID listings.ListingID, caller identity.UserID) ([]*chat.Conversation, error) {
	listing, err := r.Listings.ByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Seller.ID != caller {
		return nil, chat.ErrForbidden
	}
	var out []*chat.Conversation
	err = retry.Do(ctx, r.Backoff, func() error {
		found, err := r.Conversations.ListForListing(ctx, listingID)
		if err != nil {
			return err
		}
		out = found
		return nil
	})
	return out, err
}

// ByID loads a conversation, restricted to its participants.
func (r *Registry) ByID(ctx context.Context, id chat.ConversationID, caller identity.UserID) (*chat.Conversation, error) {
	conv, err := r.Conversations.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(caller) {
		return nil, chat.ErrForbidden
	}
	return conv, nil
}
