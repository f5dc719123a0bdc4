package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"ticketexchange/internal/domain/identity"
)

var ErrEmptyBody = errors.New("chat: message body is empty")

type MessageID string

// Message is one append-only entry in a conversation's log. Seq and
// CreatedAt are assigned by the store at commit time so the per-conversation
// order is total regardless of client clocks.
type Message struct {
	ID             MessageID
	ConversationID ConversationID
	SenderID       identity.UserID
	SenderName     string
	Body           string
	Seq            uint64
	CreatedAt      time.Time
}

// NewMessage validates a draft against the conversation it targets. The
// returned message has no Seq or CreatedAt yet.
func NewMessage(id MessageID, conv *Conversation, sender identity.Identity, body string) (*Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyBody
	}
	if !conv.HasParticipant(sender.ID) {
		return nil, ErrNotParticipant
	}
	return &Message{
		ID:             id,
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		SenderName:     sender.Label(),
		Body:           body,
	}, nil
}

// MessageStore holds ordered per-conversation logs. Append assigns Seq and
// CreatedAt under the store's commit order; entries are never mutated or
// removed afterwards.
type MessageStore interface {
	Append(ctx context.Context, msg *Message) error
	List(ctx context.Context, conversationID ConversationID) ([]Message, error)
}
