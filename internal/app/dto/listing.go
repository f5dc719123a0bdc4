package dto

import (
	"time"

	"ticketexchange/internal/domain/listings"
)

// Listing is the transport shape of a listing, price rendered with two
// decimals the way the feed displays it.
type Listing struct {
	ID           string    `json:"id"`
	Category     string    `json:"category"`
	Title        string    `json:"title"`
	Schedule     string    `json:"schedule"`
	Price        string    `json:"price"`
	Currency     string    `json:"currency"`
	Quantity     int       `json:"quantity"`
	Section      string    `json:"section"`
	Notes        string    `json:"notes,omitempty"`
	SellerID     string    `json:"seller_id"`
	SellerName   string    `json:"seller_name"`
	SellerEmail  string    `json:"seller_email,omitempty"`
	Status       string    `json:"status"`
	ReservedByID string    `json:"reserved_buyer_id,omitempty"`
	FinalBuyerID string    `json:"final_buyer_id,omitempty"`
	FinalBuyer   string    `json:"final_buyer_name,omitempty"`
	Deleted      bool      `json:"deleted,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func FromListing(l *listings.Listing) Listing {
	out := Listing{
		ID:          string(l.ID),
		Category:    l.Category,
		Title:       l.Title,
		Schedule:    l.Schedule,
		Price:       l.Price.String(),
		Currency:    l.Price.Currency,
		Quantity:    l.Quantity,
		Section:     l.Section,
		Notes:       l.Notes,
		SellerID:    string(l.Seller.ID),
		SellerName:  l.Seller.Name,
		SellerEmail: l.Seller.Email,
		Status:      string(l.Status),
		Deleted:     l.Deleted,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
	if l.ReservedBuyer != nil {
		out.ReservedByID = string(l.ReservedBuyer.ID)
	}
	if l.FinalBuyer != nil {
		out.FinalBuyerID = string(l.FinalBuyer.ID)
		out.FinalBuyer = l.FinalBuyer.Name
	}
	return out
}

func FromListings(items []*listings.Listing) []Listing {
	out := make([]Listing, 0, len(items))
	for _, l := range items {
		out = append(out, FromListing(l))
	}
	return out
}
