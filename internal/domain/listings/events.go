package listings

import (
	"time"

	"ticketexchange/internal/domain/identity"
)

type ListingPostedEvent struct {
	ListingID ListingID
	SellerID  identity.UserID
	At        time.Time
}

func (e ListingPostedEvent) EventName() string     { return "listing.posted" }
func (e ListingPostedEvent) AggregateID() string   { return string(e.ListingID) }
func (e ListingPostedEvent) OccurredAt() time.Time { return e.At }

type ListingReservedEvent struct {
	ListingID ListingID
	BuyerID   identity.UserID
	At        time.Time
}

func (e ListingReservedEvent) EventName() string     { return "listing.reserved" }
func (e ListingReservedEvent) AggregateID() string   { return string(e.ListingID) }
func (e ListingReservedEvent) OccurredAt() time.Time { return e.At }

type ReservationRejectedEvent struct {
	ListingID ListingID
	BuyerID   identity.UserID
	At        time.Time
}

func (e ReservationRejectedEvent) EventName() string     { return "listing.reservation_rejected" }
func (e ReservationRejectedEvent) AggregateID() string   { return string(e.ListingID) }
func (e ReservationRejectedEvent) OccurredAt() time.Time { return e.At }

type ListingFinalizedEvent struct {
	ListingID ListingID
	BuyerID   identity.UserID
	At        time.Time
}

func (e ListingFinalizedEvent) EventName() string     { return "listing.finalized" }
func (e ListingFinalizedEvent) AggregateID() string   { return string(e.ListingID) }
func (e ListingFinalizedEvent) OccurredAt() time.Time { return e.At }

type ListingDeletedEvent struct {
	ListingID ListingID
	SellerID  identity.UserID
	At        time.Time
}

func (e ListingDeletedEvent) EventName() string     { return "listing.deleted" }
func (e ListingDeletedEvent) AggregateID() string   { return string(e.ListingID) }
func (e ListingDeletedEvent) OccurredAt() time.Time { return e.At }
