package chatlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ticketexchange/internal/app/dto"
	"ticketexchange/internal/app/fanout"
	"ticketexchange/internal/app/outbox"
	"ticketexchange/internal/app/retry"
	"ticketexchange/internal/domain/chat"
	"ticketexchange/internal/domain/identity"
	"ticketexchange/internal/domain/shared/events"
)

// Log is the append-only message log service. Appends for one conversation
// are serialized through a keyed mutex so the order published to
// subscribers is the order the store committed.
type Log struct {
	Conversations chat.ConversationRepository
	Messages      chat.MessageStore
	Broker        *fanout.Broker
	Outbox        outbox.Outbox
	Encoder       outbox.EventEncoder
	Backoff       []time.Duration
	Logger        *slog.Logger
	NewID         func() string

	mu    sync.Mutex
	locks map[chat.ConversationID]*sync.Mutex
}

func (l *Log) newID() string {
	if l.NewID != nil {
		return l.NewID()
	}
	return uuid.NewString()
}

func (l *Log) lockFor(id chat.ConversationID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[chat.ConversationID]*sync.Mutex)
	}
	lock, ok := l.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[id] = lock
	}
	return lock
}

// Append validates and commits one message. The store assigns the creation
// time and sequence, so the per-conversation order is total.
func (l *Log) Append(ctx context.Context, conversationID chat.ConversationID, sender identity.Identity, body string) (*chat.Message, error) {
	conv, err := l.Conversations.ByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	msg, err := chat.NewMessage(chat.MessageID(l.newID()), conv, sender, body)
	if err != nil {
		return nil, err
	}

	lock := l.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	if err := retry.Do(ctx, l.Backoff, func() error {
		return l.Messages.Append(ctx, msg)
	}); err != nil {
		return nil, err
	}

	ev := chat.MessageAppendedEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		At:             msg.CreatedAt,
	}
	if err := outbox.RecordDomainEvents(ctx, l.Outbox, l.Encoder, []events.DomainEvent{ev}); err != nil && l.Logger != nil {
		l.Logger.Error("outbox record failed", "conversation_id", conversationID, "error", err)
	}
	if l.Broker != nil {
		l.Broker.Publish(fanout.KindConversation, string(conversationID), ev.EventName(), false, dto.FromMessage(*msg))
	}
	return msg, nil
}

// List returns the full backlog in commit order, restricted to
// participants.
func (l *Log) List(ctx context.Context, conversationID chat.ConversationID, caller identity.UserID) ([]chat.Message, error) {
	conv, err := l.Conversations.ByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(caller) {
		return nil, chat.ErrNotParticipant
	}
	var out []chat.Message
	err = retry.Do(ctx, l.Backoff, func() error {
		items, err := l.Messages.List(ctx, conversationID)
		if err != nil {
			return err
		}
		out = items
		return nil
	})
	return out, err
}

// Stream delivers the backlog followed by live appends, never reordering or
// repeating what it already delivered. Sequences run dense per conversation,
// so any skip means the fan-out dropped deltas; the log itself is the
// authority and fills the hole. The returned cancel func detaches the stream
// with no residual effect; closing the context does the same.
func (l *Log) Stream(ctx context.Context, conversationID chat.ConversationID, caller identity.UserID) (<-chan dto.Message, func(), error) {
	conv, err := l.Conversations.ByID(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if !conv.HasParticipant(caller) {
		return nil, nil, chat.ErrNotParticipant
	}

	streamCtx, stop := context.WithCancel(ctx)
	var sub *fanout.Subscription
	if l.Broker != nil {
		// Attach before reading the backlog so nothing committed in between
		// is missed; the watermark below drops the overlap.
		sub = l.Broker.Subscribe(fanout.KindConversation, string(conversationID))
	}
	var backlog []chat.Message
	err = retry.Do(ctx, l.Backoff, func() error {
		items, err := l.Messages.List(ctx, conversationID)
		if err != nil {
			return err
		}
		backlog = items
		return nil
	})
	if err != nil {
		if sub != nil {
			sub.Close()
		}
		stop()
		return nil, nil, err
	}

	out := make(chan dto.Message, len(backlog)+16)
	go func() {
		defer close(out)
		defer func() {
			if sub != nil {
				sub.Close()
			}
		}()
		var last uint64
		for _, m := range backlog {
			if !l.deliver(streamCtx, out, dto.FromMessage(m), &last) {
				return
			}
		}
		if sub == nil {
			return
		}
		for {
			select {
			case <-streamCtx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					// The broker cuts subscribers it cannot keep fed. The
					// log has everything committed, so re-attach and replay
					// from the watermark.
					sub = l.Broker.Subscribe(fanout.KindConversation, string(conversationID))
					if !l.replay(streamCtx, conversationID, out, &last) {
						return
					}
					continue
				}
				msg, ok := ev.Payload.(dto.Message)
				if !ok || msg.Seq <= last {
					continue
				}
				if msg.Seq > last+1 {
					if !l.replay(streamCtx, conversationID, out, &last) {
						return
					}
					if msg.Seq <= last {
						continue
					}
				}
				if !l.deliver(streamCtx, out, msg, &last) {
					return
				}
			}
		}
	}()
	return out, stop, nil
}

func (l *Log) deliver(ctx context.Context, out chan<- dto.Message, msg dto.Message, last *uint64) bool {
	select {
	case out <- msg:
		*last = msg.Seq
		return true
	case <-ctx.Done():
		return false
	}
}

// replay re-reads the log and forwards everything past the watermark in
// order. A false return ends the stream; the client reconnects and gets a
// fresh backlog.
func (l *Log) replay(ctx context.Context, id chat.ConversationID, out chan<- dto.Message, last *uint64) bool {
	var items []chat.Message
	err := retry.Do(ctx, l.Backoff, func() error {
		got, err := l.Messages.List(ctx, id)
		if err != nil {
			return err
		}
		items = got
		return nil
	})
	if err != nil {
		if l.Logger != nil {
			l.Logger.Error("stream replay failed", "conversation_id", id, "error", err)
		}
		return false
	}
	for _, m := range items {
		if m.Seq <= *last {
			continue
		}
		if !l.deliver(ctx, out, dto.FromMessage(m), last) {
			return false
		}
	}
	return true
}
