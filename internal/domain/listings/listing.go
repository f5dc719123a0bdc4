package listings

import (
	"context"
	"errors"
	"strings"
	"time"

	"ticketexchange/internal/domain/identity"
	"ticketexchange/internal/domain/shared/events"
	"ticketexchange/internal/domain/shared/money"
)

var (
	ErrListingNotFound  = errors.New("listings: not found")
	ErrTitleRequired    = errors.New("listings: title is required")
	ErrScheduleRequired = errors.New("listings: schedule is required")
	ErrQuantityRange    = errors.New("listings: quantity must be at least 1")
	ErrSellerRequired   = errors.New("listings: seller is required")
	ErrNotAvailable     = errors.New("listings: not available")
	ErrNotReserved      = errors.New("listings: no active reservation")
	ErrBuyerMismatch    = errors.New("listings: buyer does not hold the reservation")
	ErrAlreadyFinalized = errors.New("listings: sale already finalized")
	ErrForbidden        = errors.New("listings: caller is not allowed")
	// ErrVersionConflict is returned by Repository.Save when another writer
	// committed first; callers reload and re-apply against the new state.
	ErrVersionConflict = errors.New("listings: concurrent update detected")
)

type ListingID string

type Status string

const (
	StatusAvailable Status = "available"
	StatusReserved  Status = "reserved"
	StatusFinalized Status = "finalized"
)

// Party identifies one side of a negotiation with its display fields.
type Party struct {
	ID    identity.UserID
	Name  string
	Email string
}

func PartyFrom(id identity.Identity) Party {
	return Party{ID: id.ID, Name: id.Label(), Email: id.Email}
}

// Listing is one sellable ticket unit. Status and the buyer fields form the
// negotiation state machine; all writers go through the ledger service and
// the repository's conditional save.
type Listing struct {
	ID       ListingID
	Category string
	Title    string
	Schedule string
	Price    money.Money
	Quantity int
	Section  string
	Notes    string
	Seller   Party

	Status        Status
	ReservedBuyer *Party
	FinalBuyer    *Party
	Deleted       bool

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
	events.Recorder
}

// Repository persists listings. Save must be a conditional write on Version:
// it commits only when the stored version still matches and returns the
// store's concurrent-update error otherwise. That single property carries
// the whole first-committed-wins contract.
type Repository interface {
	ByID(ctx context.Context, id ListingID) (*Listing, error)
	Save(ctx context.Context, listing *Listing) error
	ListAvailable(ctx context.Context, category string) ([]*Listing, error)
	ListBySeller(ctx context.Context, seller identity.UserID) ([]*Listing, error)
}

type CreateParams struct {
	ID       ListingID
	Category string
	Title    string
	Schedule string
	Price    money.Money
	Quantity int
	Section  string
	Notes    string
	Seller   Party
	Now      time.Time
}

func NewListing(params CreateParams) (*Listing, error) {
	if strings.TrimSpace(string(params.ID)) == "" {
		return nil, errors.New("listings: id is required")
	}
	if strings.TrimSpace(string(params.Seller.ID)) == "" {
		return nil, ErrSellerRequired
	}
	if strings.TrimSpace(params.Title) == "" {
		return nil, ErrTitleRequired
	}
	if strings.TrimSpace(params.Schedule) == "" {
		return nil, ErrScheduleRequired
	}
	if params.Quantity < 1 {
		return nil, ErrQuantityRange
	}
	section := strings.TrimSpace(params.Section)
	if section == "" {
		section = "General Admission"
	}
	now := params.Now.UTC()
	l := &Listing{
		ID:        params.ID,
		Category:  strings.TrimSpace(params.Category),
		Title:     strings.TrimSpace(params.Title),
		Schedule:  strings.TrimSpace(params.Schedule),
		Price:     params.Price,
		Quantity:  params.Quantity,
		Section:   section,
		Notes:     strings.TrimSpace(params.Notes),
		Seller:    params.Seller,
		Status:    StatusAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.Record(ListingPostedEvent{ListingID: l.ID, SellerID: l.Seller.ID, At: now})
	return l, nil
}

// Reserve places a single-buyer hold. Legal only from available; the caller
// must not be the seller.
func (l *Listing) Reserve(buyer Party, now time.Time) error {
	if buyer.ID == l.Seller.ID {
		return ErrForbidden
	}
	if l.Deleted || l.Status != StatusAvailable {
		return ErrNotAvailable
	}
	b := buyer
	l.ReservedBuyer = &b
	l.Status = StatusReserved
	l.UpdatedAt = now.UTC()
	l.Record(ListingReservedEvent{ListingID: l.ID, BuyerID: buyer.ID, At: l.UpdatedAt})
	return nil
}

// RejectReservation rolls the hold back to available. Legal only from
// reserved; seller authorization is checked by the ledger.
func (l *Listing) RejectReservation(now time.Time) error {
	if l.Status == StatusFinalized {
		return ErrAlreadyFinalized
	}
	if l.Status != StatusReserved || l.ReservedBuyer == nil {
		return ErrNotReserved
	}
	rejected := l.ReservedBuyer.ID
	l.ReservedBuyer = nil
	l.Status = StatusAvailable
	l.UpdatedAt = now.UTC()
	l.Record(ReservationRejectedEvent{ListingID: l.ID, BuyerID: rejected, At: l.UpdatedAt})
	return nil
}

// Finalize commits the sale to buyer. From reserved the buyer must hold the
// reservation; from available the seller may finalize to any buyer, which
// also clears a reservation held by somebody else.
func (l *Listing) Finalize(buyer Party, now time.Time) error {
	if l.Status == StatusFinalized {
		return ErrAlreadyFinalized
	}
	if l.Deleted {
		return ErrNotAvailable
	}
	if l.Status == StatusReserved && l.ReservedBuyer != nil && l.ReservedBuyer.ID != buyer.ID {
		return ErrBuyerMismatch
	}
	b := buyer
	l.FinalBuyer = &b
	l.ReservedBuyer = nil
	l.Status = StatusFinalized
	l.UpdatedAt = now.UTC()
	l.Record(ListingFinalizedEvent{ListingID: l.ID, BuyerID: buyer.ID, At: l.UpdatedAt})
	return nil
}

// MarkDeleted soft-removes the listing from active queries. Conversations
// about it are invalidated by the ledger, never the aggregate.
func (l *Listing) MarkDeleted(now time.Time) {
	if l.Deleted {
		return
	}
	l.Deleted = true
	l.UpdatedAt = now.UTC()
	l.Record(ListingDeletedEvent{ListingID: l.ID, SellerID: l.Seller.ID, At: l.UpdatedAt})
}

// CheckInvariants verifies the status/buyer-field relationship. Repositories
// call it before committing a write.
func (l *Listing) CheckInvariants() error {
	switch l.Status {
	case StatusAvailable:
		if l.ReservedBuyer != nil || l.FinalBuyer != nil {
			return errors.New("listings: available listing must carry no buyer")
		}
	case StatusReserved:
		if l.ReservedBuyer == nil || l.FinalBuyer != nil {
			return errors.New("listings: reserved listing must carry exactly a reserved buyer")
		}
	case StatusFinalized:
		if l.FinalBuyer == nil || l.ReservedBuyer != nil {
			return errors.New("listings: finalized listing must carry exactly a final buyer")
		}
	default:
		return errors.New("listings: unknown status " + string(l.Status))
	}
	return nil
}
