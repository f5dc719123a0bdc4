package chat

import (
	"time"

	"ticketexchange/internal/domain/identity"
	"ticketexchange/internal/domain/listings"
)

type ConversationStartedEvent struct {
	ConversationID ConversationID
	ListingID      listings.ListingID
	At             time.Time
}

func (e ConversationStartedEvent) EventName() string     { return "conversation.started" }
func (e ConversationStartedEvent) AggregateID() string   { return string(e.ConversationID) }
func (e ConversationStartedEvent) OccurredAt() time.Time { return e.At }

type ConversationInvalidatedEvent struct {
	ConversationID ConversationID
	ListingID      listings.ListingID
	At             time.Time
}

func (e ConversationInvalidatedEvent) EventName() string     { return "conversation.invalidated" }
func (e ConversationInvalidatedEvent) AggregateID() string   { return string(e.ConversationID) }
func (e ConversationInvalidatedEvent) OccurredAt() time.Time { return e.At }

type MessageAppendedEvent struct {
	MessageID      MessageID
	ConversationID ConversationID
	SenderID       identity.UserID
	At             time.Time
}

func (e MessageAppendedEvent) EventName() string     { return "conversation.message_appended" }
func (e MessageAppendedEvent) AggregateID() string   { return string(e.ConversationID) }
func (e MessageAppendedEvent) OccurredAt() time.Time { return e.At }
