package dto

import (
	"time"

	"ticketexchange/internal/domain/chat"
)

// Conversation describes thread metadata.
type Conversation struct {
	ID           string    `json:"id"`
	ListingID    string    `json:"listing_id,omitempty"`
	Participants []string  `json:"participants"`
	Invalidated  bool      `json:"invalidated,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func FromConversation(c *chat.Conversation) Conversation {
	return Conversation{
		ID:           string(c.ID),
		ListingID:    string(c.ListingID),
		Participants: []string{string(c.Participants[0]), string(c.Participants[1])},
		Invalidated:  c.Invalidated,
		CreatedAt:    c.CreatedAt,
	}
}

func FromConversations(items []*chat.Conversation) []Conversation {
	out := make([]Conversation, 0, len(items))
	for _, c := range items {
		out = append(out, FromConversation(c))
	}
	return out
}

// Message contains a single chat entry.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Body           string    `json:"body"`
	Seq            uint64    `json:"seq"`
	CreatedAt      time.Time `json:"created_at"`
}

func FromMessage(m chat.Message) Message {
	return Message{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		SenderID:       string(m.SenderID),
		SenderName:     m.SenderName,
		Body:           m.Body,
		Seq:            m.Seq,
		CreatedAt:      m.CreatedAt,
	}
}

func FromMessages(items []chat.Message) []Message {
	out := make([]Message, 0, len(items))
	for _, m := range items {
		out = append(out, FromMessage(m))
	}
	return out
}

// InterestedBuyer pairs a buyer with the conversation that expressed the
// interest.
type InterestedBuyer struct {
	BuyerID        string `json:"buyer_id"`
	BuyerName      string `json:"buyer_name,omitempty"`
	ConversationID string `json:"conversation_id"`
}
