package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ticketexchange/internal/app/chatlog"
	"ticketexchange/internal/app/dto"
	"ticketexchange/internal/app/fanout"
	"ticketexchange/internal/app/outbox"
	"ticketexchange/internal/app/registry"
	"ticketexchange/internal/app/retry"
	"ticketexchange/internal/domain/chat"
	"ticketexchange/internal/domain/identity"
	"ticketexchange/internal/domain/listings"
	"ticketexchange/internal/domain/shared/events"
	"ticketexchange/internal/domain/shared/money"
)

// soldNotice is appended to the buyer's conversation when a sale finalizes.
const soldNotice = "Ticket marked as sold."

// conflictAttempts bounds the reload-and-reapply loop after a version
// conflict. Each conflict means another writer committed, so the reloaded
// state almost always resolves the transition on the next pass.
const conflictAttempts = 4

// Ledger is the sole authority over listing negotiation state. Every
// transition is one conditional save: read, apply the aggregate guard,
// commit only if nobody else committed in between.
type Ledger struct {
	Listings      listings.Repository
	Conversations chat.ConversationRepository
	Chat          *chatlog.Log
	Registry      *registry.Registry
	Directory     identity.Directory
	Broker        *fanout.Broker
	Outbox        outbox.Outbox
	Encoder       outbox.EventEncoder
	Backoff       []time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
	NewID         func() string
}

type CreateInput struct {
	Category string
	Title    string
	Schedule string
	Price    money.Money
	Quantity int
	Section  string
	Notes    string
}

func (s *Ledger) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Ledger) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// Create posts a new listing in the available state.
func (s *Ledger) Create(ctx context.Context, seller identity.Identity, input CreateInput) (*listings.Listing, error) {
	listing, err := listings.NewListing(listings.CreateParams{
		ID:       listings.ListingID(s.newID()),
		Category: input.Category,
		Title:    input.Title,
		Schedule: input.Schedule,
		Price:    input.Price,
		Quantity: input.Quantity,
		Section:  input.Section,
		Notes:    input.Notes,
		Seller:   listings.PartyFrom(seller),
		Now:      s.now(),
	})
	if err != nil {
		return nil, err
	}
	if err := retry.Do(ctx, s.Backoff, func() error {
		return s.Listings.Save(ctx, listing)
	}); err != nil {
		return nil, err
	}
	s.committed(ctx, listing)
	s.publishFeed(listing)
	return listing, nil
}

// RequestReservation is the buyer's only write. It also opens the buyer's
// conversation with the seller so the negotiation thread exists the moment
// the hold is placed.
func (s *Ledger) RequestReservation(ctx context.Context, listingID listings.ListingID, buyer identity.Identity) (*listings.Listing, *chat.Conversation, error) {
	listing, err := s.transition(ctx, listingID, func(l *listings.Listing) error {
		return l.Reserve(listings.PartyFrom(buyer), s.now())
	})
	if err != nil {
		return nil, nil, err
	}

	var conv *chat.Conversation
	if s.Registry != nil {
		conv, err = s.Registry.GetOrCreate(ctx, listingID, buyer.ID, listing.Seller.ID)
		if err != nil {
			// The hold itself is committed; the thread can be opened on the
			// next interaction.
			if s.Logger != nil {
				s.Logger.Error("conversation open failed after reservation", "listing_id", listingID, "buyer_id", buyer.ID, "error", err)
			}
			err = nil
		}
	}
	return listing, conv, nil
}

// RejectReservation rolls a hold back to available. Seller only.
func (s *Ledger) RejectReservation(ctx context.Context, listingID listings.ListingID, caller identity.UserID) (*listings.Listing, error) {
	return s.transition(ctx, listingID, func(l *listings.Listing) error {
		if l.Seller.ID != caller {
			return listings.ErrForbidden
		}
		return l.RejectReservation(s.now())
	})
}

// Finalize commits the sale. Seller only; from available the buyer must have
// an open conversation about the listing.
func (s *Ledger) Finalize(ctx context.Context, listingID listings.ListingID, caller, buyerID identity.UserID) (*listings.Listing, error) {
	if buyerID == "" {
		current, err := s.ByID(ctx, listingID)
		if err != nil {
			return nil, err
		}
		if current.ReservedBuyer == nil {
			return nil, listings.ErrNotReserved
		}
		buyerID = current.ReservedBuyer.ID
	}
	buyer, err := s.buyerParty(ctx, listingID, buyerID)
	if err != nil {
		return nil, err
	}
	listing, err := s.transition(ctx, listingID, func(l *listings.Listing) error {
		if l.Seller.ID != caller {
			return listings.ErrForbidden
		}
		if l.Status == listings.StatusAvailable && !s.hasConversation(ctx, listingID, buyerID, l.Seller.ID) {
			return chat.ErrConversationNotFound
		}
		return l.Finalize(buyer, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.appendSoldNotice(ctx, listing)
	return listing, nil
}

// Delete soft-removes the listing and cascades an invalidation over its
// conversations. Message history stays readable.
func (s *Ledger) Delete(ctx context.Context, listingID listings.ListingID, caller identity.UserID) error {
	_, err := s.transition(ctx, listingID, func(l *listings.Listing) error {
		if l.Seller.ID != caller {
			return listings.ErrForbidden
		}
		l.MarkDeleted(s.now())
		return nil
	})
	if err != nil {
		return err
	}

	conversations, err := s.Conversations.ListForListing(ctx, listingID)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("cascade lookup failed", "listing_id", listingID, "error", err)
		}
		return nil
	}
	if err := retry.Do(ctx, s.Backoff, func() error {
		return s.Conversations.InvalidateByListing(ctx, listingID)
	}); err != nil {
		if s.Logger != nil {
			s.Logger.Error("cascade invalidate failed", "listing_id", listingID, "error", err)
		}
		return nil
	}
	now := s.now()
	pending := make([]events.DomainEvent, 0, len(conversations))
	for _, conv := range conversations {
		pending = append(pending, chat.ConversationInvalidatedEvent{ConversationID: conv.ID, ListingID: listingID, At: now})
	}
	if err := outbox.RecordDomainEvents(ctx, s.Outbox, s.Encoder, pending); err != nil && s.Logger != nil {
		s.Logger.Error("outbox record failed", "listing_id", listingID, "error", err)
	}
	if s.Broker != nil {
		for _, ev := range pending {
			s.Broker.Publish(fanout.KindConversation, ev.AggregateID(), ev.EventName(), false, ev.AggregateID())
		}
	}
	return nil
}

// ByID loads one listing, deleted ones included so negotiation errors stay
// precise.
func (s *Ledger) ByID(ctx context.Context, id listings.ListingID) (*listings.Listing, error) {
	var out *listings.Listing
	err := retry.Do(ctx, s.Backoff, func() error {
		l, err := s.Listings.ByID(ctx, id)
		if err != nil {
			return err
		}
		out = l
		return nil
	})
	return out, err
}

// Available returns the browsable feed, newest first, optionally filtered by
// category.
func (s *Ledger) Available(ctx context.Context, category string) ([]*listings.Listing, error) {
	var out []*listings.Listing
	err := retry.Do(ctx, s.Backoff, func() error {
		items, err := s.Listings.ListAvailable(ctx, category)
		if err != nil {
			return err
		}
		out = items
		return nil
	})
	return out, err
}

// BySeller returns the seller's own listings in every state.
func (s *Ledger) BySeller(ctx context.Context, seller identity.UserID) ([]*listings.Listing, error) {
	var out []*listings.Listing
	err := retry.Do(ctx, s.Backoff, func() error {
		items, err := s.Listings.ListBySeller(ctx, seller)
		if err != nil {
			return err
		}
		out = items
		return nil
	})
	return out, err
}

// transition runs one atomic conditional update: load, apply, save keyed on
// the loaded version. A version conflict reloads and re-applies, so the
// guard always evaluates against the state the losing writer actually races
// with: first committed wins, the loser fails its precondition.
func (s *Ledger) transition(ctx context.Context, id listings.ListingID, apply func(*listings.Listing) error) (*listings.Listing, error) {
	var lastErr error
	for attempt := 0; attempt < conflictAttempts; attempt++ {
		var listing *listings.Listing
		err := retry.Do(ctx, s.Backoff, func() error {
			l, err := s.Listings.ByID(ctx, id)
			if err != nil {
				return err
			}
			listing = l
			return nil
		})
		if err != nil {
			return nil, err
		}
		if err := apply(listing); err != nil {
			return nil, err
		}
		err = retry.Do(ctx, s.Backoff, func() error {
			return s.Listings.Save(ctx, listing)
		})
		if err == nil {
			s.committed(ctx, listing)
			s.publishFeed(listing)
			return listing, nil
		}
		if !errors.Is(err, listings.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// committed drains aggregate events into the outbox and publishes the
// listing snapshot to live subscribers.
func (s *Ledger) committed(ctx context.Context, listing *listings.Listing) {
	pending := listing.PendingEvents()
	listing.ClearEvents()
	if err := outbox.RecordDomainEvents(ctx, s.Outbox, s.Encoder, pending); err != nil && s.Logger != nil {
		s.Logger.Error("outbox record failed", "listing_id", listing.ID, "error", err)
	}
	if s.Broker == nil {
		return
	}
	for _, ev := range pending {
		s.Broker.Publish(fanout.KindListing, string(listing.ID), ev.EventName(), true, dto.FromListing(listing))
	}
}

// publishFeed mirrors the transition onto the shared available feed so
// browsing views add or drop the card.
func (s *Ledger) publishFeed(listing *listings.Listing) {
	if s.Broker == nil {
		return
	}
	eventType := "feed.remove"
	if listing.Status == listings.StatusAvailable && !listing.Deleted {
		eventType = "feed.add"
	}
	s.Broker.Publish(fanout.KindListingFeed, fanout.FeedAvailable, eventType, false, dto.FromListing(listing))
}

func (s *Ledger) buyerParty(ctx context.Context, listingID listings.ListingID, buyerID identity.UserID) (listings.Party, error) {
	if s.Directory != nil {
		if id, err := s.Directory.ByID(ctx, buyerID); err == nil {
			return listings.PartyFrom(id), nil
		}
	}
	// Directory miss: fall back to the reservation's denormalized fields.
	listing, err := s.Listings.ByID(ctx, listingID)
	if err != nil {
		return listings.Party{}, err
	}
	if listing.ReservedBuyer != nil && listing.ReservedBuyer.ID == buyerID {
		return *listing.ReservedBuyer, nil
	}
	return listings.Party{ID: buyerID, Name: string(buyerID)}, nil
}

func (s *Ledger) hasConversation(ctx context.Context, listingID listings.ListingID, buyerID, sellerID identity.UserID) bool {
	_, err := s.Conversations.ByKey(ctx, chat.DedupKey(listingID, buyerID, sellerID))
	return err == nil
}

// appendSoldNotice posts the confirmation line into the finalized buyer's
// thread, mirroring what sellers expect to see in the conversation.
func (s *Ledger) appendSoldNotice(ctx context.Context, listing *listings.Listing) {
	if s.Chat == nil || listing.FinalBuyer == nil {
		return
	}
	conv, err := s.Conversations.ByKey(ctx, chat.DedupKey(listing.ID, listing.FinalBuyer.ID, listing.Seller.ID))
	if err != nil {
		return
	}
	seller := identity.Identity{ID: listing.Seller.ID, DisplayName: listing.Seller.Name, Email: listing.Seller.Email}
	if _, err := s.Chat.Append(ctx, conv.ID, seller, soldNotice); err != nil && s.Logger != nil {
		s.Logger.Warn("sold notice append failed", "conversation_id", conv.ID, "error", err)
	}
}
