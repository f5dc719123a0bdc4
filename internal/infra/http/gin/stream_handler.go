package ginserver

import (
	"context"
	"io"
	"log/slog"
	"strings"

	gin "github.com/gin-gonic/gin"

	"ticketexchange/internal/app/chatlog"
	"ticketexchange/internal/app/dto"
	"ticketexchange/internal/app/fanout"
	"ticketexchange/internal/app/ledger"
	"ticketexchange/internal/domain/chat"
	"ticketexchange/internal/domain/listings"
)

// StreamHandler pushes live updates over server-sent events.
type StreamHandler struct {
	Chat   *chatlog.Log
	Broker *fanout.Broker
	Ledger *ledger.Ledger
	Logger *slog.Logger
}

func sseHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
}

// ConversationStream replays the backlog of a thread and then follows it
// live until the client disconnects.
func (h StreamHandler) ConversationStream(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	messages, cancel, err := h.Chat.Stream(c.Request.Context(), chat.ConversationID(c.Param("id")), p.ID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	defer cancel()

	sseHeaders(c)
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, open := <-messages:
			if !open {
				return false
			}
			c.SSEvent("message", msg)
			return true
		}
	})
}

// ListingEvents streams state snapshots for one listing. The subscription is
// taken before the initial read so no transition is lost in between; every
// delivered event carries the full listing state.
func (h StreamHandler) ListingEvents(c *gin.Context) {
	listingID := listings.ListingID(c.Param("id"))
	sub := h.Broker.Subscribe(fanout.KindListing, string(listingID))
	defer sub.Close()

	initial, err := initialListingState(c.Request.Context(), sub, h.Ledger, listingID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}

	sseHeaders(c)
	c.SSEvent("snapshot", initial)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, open := <-sub.Events():
			if !open {
				return false
			}
			c.SSEvent(ev.Type, ev.Payload)
			return true
		}
	})
}

// initialListingState picks the first frame for a listing stream. A snapshot
// already queued on the subscription is older than anything still to come,
// so emitting it before a fresh read keeps the frames monotonic; the read is
// only needed when nothing was ever published.
func initialListingState(ctx context.Context, sub *fanout.Subscription, led *ledger.Ledger, id listings.ListingID) (any, error) {
	select {
	case ev, ok := <-sub.Events():
		if ok {
			return ev.Payload, nil
		}
	default:
	}
	listing, err := led.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.FromListing(listing), nil
}

// AvailableFeed streams the browsing feed: an initial snapshot of currently
// available listings followed by add and remove deltas.
func (h StreamHandler) AvailableFeed(c *gin.Context) {
	category := strings.TrimSpace(c.Query("category"))
	sub := h.Broker.Subscribe(fanout.KindListingFeed, fanout.FeedAvailable)
	defer sub.Close()

	items, err := h.Ledger.Available(c.Request.Context(), category)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}

	sseHeaders(c)
	c.SSEvent("snapshot", gin.H{"items": dto.FromListings(items)})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, open := <-sub.Events():
			if !open {
				return false
			}
			if category != "" {
				if item, ok := ev.Payload.(dto.Listing); ok && !strings.EqualFold(item.Category, category) {
					return true
				}
			}
			c.SSEvent(ev.Type, ev.Payload)
			return true
		}
	})
}
