package ginserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"ticketexchange/internal/app/dto"
	"ticketexchange/internal/app/interest"
	"ticketexchange/internal/app/ledger"
	"ticketexchange/internal/domain/chat"
	"ticketexchange/internal/domain/identity"
	"ticketexchange/internal/domain/listings"
	"ticketexchange/internal/domain/shared/money"
)

// ListingHandler exposes the listing lifecycle over HTTP.
type ListingHandler struct {
	Ledger   *ledger.Ledger
	Interest *interest.Aggregator
	Logger   *slog.Logger
}

type createListingRequest struct {
	Category string `json:"category"`
	Title    string `json:"title"`
	Schedule string `json:"schedule"`
	Price    string `json:"price"`
	Quantity int    `json:"quantity"`
	Section  string `json:"section"`
	Notes    string `json:"notes"`
}

func (h ListingHandler) Create(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	price, err := money.Parse(req.Price, "USD")
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	listing, err := h.Ledger.Create(c.Request.Context(), p.identity(), ledger.CreateInput{
		Category: req.Category,
		Title:    req.Title,
		Schedule: req.Schedule,
		Price:    price,
		Quantity: req.Quantity,
		Section:  req.Section,
		Notes:    req.Notes,
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.Header("Location", fmt.Sprintf("/api/v1/listings/%s", listing.ID))
	c.JSON(http.StatusCreated, dto.FromListing(listing))
}

func (h ListingHandler) Catalog(c *gin.Context) {
	category := strings.TrimSpace(c.Query("category"))
	items, err := h.Ledger.Available(c.Request.Context(), category)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": dto.FromListings(items)})
}

func (h ListingHandler) Get(c *gin.Context) {
	listing, err := h.Ledger.ByID(c.Request.Context(), listings.ListingID(c.Param("id")))
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromListing(listing))
}

func (h ListingHandler) MyListings(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	items, err := h.Ledger.BySeller(c.Request.Context(), p.ID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": dto.FromListings(items)})
}

func (h ListingHandler) Reserve(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	listing, conversation, err := h.Ledger.RequestReservation(c.Request.Context(), listings.ListingID(c.Param("id")), p.identity())
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	body := gin.H{"listing": dto.FromListing(listing)}
	if conversation != nil {
		body["conversation"] = dto.FromConversation(conversation)
	}
	c.JSON(http.StatusOK, body)
}

func (h ListingHandler) Reject(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	listing, err := h.Ledger.RejectReservation(c.Request.Context(), listings.ListingID(c.Param("id")), p.ID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromListing(listing))
}

type finalizeRequest struct {
	BuyerID string `json:"buyer_id"`
}

func (h ListingHandler) Finalize(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	var req finalizeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	listing, err := h.Ledger.Finalize(c.Request.Context(), listings.ListingID(c.Param("id")), p.ID, identity.UserID(req.BuyerID))
	if err != nil {
		// A sale to a buyer who never opened a conversation is rejected as
		// a state conflict rather than a missing resource.
		if errors.Is(err, chat.ErrConversationNotFound) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromListing(listing))
}

func (h ListingHandler) Delete(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	if err := h.Ledger.Delete(c.Request.Context(), listings.ListingID(c.Param("id")), p.ID); err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ListingHandler) InterestedBuyers(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	buyers, err := h.Interest.BuyersInterestedIn(c.Request.Context(), listings.ListingID(c.Param("id")), p.ID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": buyers})
}
