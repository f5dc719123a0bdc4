package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"ticketexchange/internal/domain/chat"
	"ticketexchange/internal/domain/identity"
	"ticketexchange/internal/domain/listings"
)

// ListingRepository is the in-memory store. Save is a conditional write on
// the record version, taken under one lock, so it provides the same
// first-committed-wins guarantee as the Mongo adapter's filtered update.
type ListingRepository struct {
	mu    sync.RWMutex
	items map[listings.ListingID]*listings.Listing
}

func NewListingRepository() *ListingRepository {
	return &ListingRepository{items: make(map[listings.ListingID]*listings.Listing)}
}

func (r *ListingRepository) ByID(ctx context.Context, id listings.ListingID) (*listings.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	listing, ok := r.items[id]
	if !ok {
		return nil, listings.ErrListingNotFound
	}
	return cloneListing(listing), nil
}

func (r *ListingRepository) Save(ctx context.Context, listing *listings.Listing) error {
	if err := listing.CheckInvariants(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.items[listing.ID]; ok && current.Version != listing.Version {
		return listings.ErrVersionConflict
	}
	listing.Version++
	stored := cloneListing(listing)
	stored.ClearEvents()
	r.items[listing.ID] = stored
	return nil
}

func (r *ListingRepository) ListAvailable(ctx context.Context, category string) ([]*listings.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matches := make([]*listings.Listing, 0)
	for _, l := range r.items {
		if l.Deleted || l.Status != listings.StatusAvailable {
			continue
		}
		if category != "" && !strings.EqualFold(l.Category, category) {
			continue
		}
		matches = append(matches, cloneListing(l))
	}
	sortNewestFirst(matches)
	return matches, nil
}

func (r *ListingRepository) ListBySeller(ctx context.Context, seller identity.UserID) ([]*listings.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matches := make([]*listings.Listing, 0)
	for _, l := range r.items {
		if l.Deleted || l.Seller.ID != seller {
			continue
		}
		matches = append(matches, cloneListing(l))
	}
	sortNewestFirst(matches)
	return matches, nil
}

func sortNewestFirst(items []*listings.Listing) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

func cloneListing(l *listings.Listing) *listings.Listing {
	out := *l
	if l.ReservedBuyer != nil {
		buyer := *l.ReservedBuyer
		out.ReservedBuyer = &buyer
	}
	if l.FinalBuyer != nil {
		buyer := *l.FinalBuyer
		out.FinalBuyer = &buyer
	}
	return &out
}

// ConversationRepository deduplicates threads through a unique composite
// key, the in-memory stand-in for the store-level unique index.
type ConversationRepository struct {
	mu    sync.RWMutex
	byID  map[chat.ConversationID]*chat.Conversation
	byKey map[string]chat.ConversationID
}

func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{
		byID:  make(map[chat.ConversationID]*chat.Conversation),
		byKey: make(map[string]chat.ConversationID),
	}
}

func (r *ConversationRepository) ByID(ctx context.Context, id chat.ConversationID) (*chat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.byID[id]
	if !ok {
		return nil, chat.ErrConversationNotFound
	}
	return cloneConversation(conv), nil
}

func (r *ConversationRepository) ByKey(ctx context.Context, key string) (*chat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[key]
	if !ok {
		return nil, chat.ErrConversationNotFound
	}
	return cloneConversation(r.byID[id]), nil
}

func (r *ConversationRepository) Create(ctx context.Context, conversation *chat.Conversation) error {
	key := conversation.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[key]; ok {
		return chat.ErrConversationExists
	}
	stored := cloneConversation(conversation)
	stored.ClearEvents()
	r.byID[stored.ID] = stored
	r.byKey[key] = stored.ID
	return nil
}

func (r *ConversationRepository) ListForUser(ctx context.Context, user identity.UserID) ([]*chat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matches := make([]*chat.Conversation, 0)
	for _, conv := range r.byID {
		if conv.HasParticipant(user) {
			matches = append(matches, cloneConversation(conv))
		}
	}
	sortConversations(matches)
	return matches, nil
}

func (r *ConversationRepository) ListForListing(ctx context.Context, listingID listings.ListingID) ([]*chat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matches := make([]*chat.Conversation, 0)
	for _, conv := range r.byID {
		if conv.ListingID == listingID && listingID != "" {
			matches = append(matches, cloneConversation(conv))
		}
	}
	sortConversations(matches)
	return matches, nil
}

func (r *ConversationRepository) InvalidateByListing(ctx context.Context, listingID listings.ListingID) error {
	if listingID == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conv := range r.byID {
		if conv.ListingID == listingID {
			conv.Invalidated = true
		}
	}
	return nil
}

func sortConversations(items []*chat.Conversation) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

func cloneConversation(c *chat.Conversation) *chat.Conversation {
	out := *c
	return &out
}

// MessageStore keeps per-conversation logs. The sequence and creation time
// are assigned under the store lock, which is what makes the order total.
type MessageStore struct {
	mu   sync.RWMutex
	logs map[chat.ConversationID][]chat.Message
	now  func() time.Time
}

func NewMessageStore() *MessageStore {
	return &MessageStore{logs: make(map[chat.ConversationID][]chat.Message), now: time.Now}
}

func (s *MessageStore) Append(ctx context.Context, msg *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[msg.ConversationID]
	msg.Seq = uint64(len(log)) + 1
	msg.CreatedAt = s.now().UTC()
	if n := len(log); n > 0 && !msg.CreatedAt.After(log[n-1].CreatedAt) {
		msg.CreatedAt = log[n-1].CreatedAt
	}
	s.logs[msg.ConversationID] = append(log, *msg)
	return nil
}

func (s *MessageStore) List(ctx context.Context, conversationID chat.ConversationID) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[conversationID]
	out := make([]chat.Message, len(log))
	copy(out, log)
	return out, nil
}
