package interest

import (
	"context"
	"sort"

	"ticketexchange/internal/app/dto"
	"ticketexchange/internal/app/registry"
	"ticketexchange/internal/domain/identity"
	"ticketexchange/internal/domain/listings"
)

// Aggregator derives, for a seller's listing, the buyers who opened a
// conversation about it. Read-only projection over the registry; it is
// never a source of truth.
type Aggregator struct {
	Registry  *registry.Registry
	Directory identity.Directory
}

// BuyersInterestedIn joins the listing's conversations with their
// non-seller participants. Restricted to the listing's seller; the
// authorization check rides on the registry's.
func (a *Aggregator) BuyersInterestedIn(ctx context.Context, listingID listings.ListingID, caller identity.UserID) ([]dto.InterestedBuyer, error) {
	conversations, err := a.Registry.ListForListing(ctx, listingID, caller)
	if err != nil {
		return nil, err
	}
	out := make([]dto.InterestedBuyer, 0, len(conversations))
	for _, conv := range conversations {
		buyerID := conv.Counterparty(caller)
		if buyerID == "" {
			continue
		}
		entry := dto.InterestedBuyer{
			BuyerID:        string(buyerID),
			ConversationID: string(conv.ID),
		}
		if a.Directory != nil {
			if id, err := a.Directory.ByID(ctx, buyerID); err == nil {
				entry.BuyerName = id.Label()
			}
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BuyerID < out[j].BuyerID })
	return out, nil
}
