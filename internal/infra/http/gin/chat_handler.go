package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"ticketexchange/internal/app/chatlog"
	"ticketexchange/internal/app/dto"
	"ticketexchange/internal/app/ledger"
	"ticketexchange/internal/app/registry"
	"ticketexchange/internal/domain/chat"
	"ticketexchange/internal/domain/identity"
	"ticketexchange/internal/domain/listings"
)

// ChatHandler exposes conversations and their message logs.
type ChatHandler struct {
	Registry  *registry.Registry
	Chat      *chatlog.Log
	Ledger    *ledger.Ledger
	Directory identity.Directory
	Logger    *slog.Logger
}

type startConversationRequest struct {
	Message string `json:"message"`
}

// StartListingConversation opens (or returns) the thread between the caller
// and the listing's seller, optionally appending a first message.
func (h ChatHandler) StartListingConversation(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	var req startConversationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	listingID := listings.ListingID(c.Param("id"))
	listing, err := h.Ledger.ByID(c.Request.Context(), listingID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	conversation, err := h.Registry.GetOrCreate(c.Request.Context(), listingID, p.ID, listing.Seller.ID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	if body := strings.TrimSpace(req.Message); body != "" {
		if _, err := h.Chat.Append(c.Request.Context(), conversation.ID, p.identity(), body); err != nil {
			respondError(c, h.Logger, err)
			return
		}
	}
	c.JSON(http.StatusOK, dto.FromConversation(conversation))
}

type directConversationRequest struct {
	Email string `json:"email"`
}

// StartDirectConversation opens a listing-free thread with the user behind
// the given email address.
func (h ChatHandler) StartDirectConversation(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	var req directConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	counterparty, err := h.Directory.ByEmail(c.Request.Context(), req.Email)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	conversation, err := h.Registry.GetOrCreateDirect(c.Request.Context(), p.ID, counterparty.ID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromConversation(conversation))
}

func (h ChatHandler) ListMyConversations(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	conversations, err := h.Registry.ListFor(c.Request.Context(), p.ID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": dto.FromConversations(conversations)})
}

func (h ChatHandler) ListMessages(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	messages, err := h.Chat.List(c.Request.Context(), chat.ConversationID(c.Param("id")), p.ID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": dto.FromMessages(messages)})
}

type sendMessageRequest struct {
	Body string `json:"body"`
}

func (h ChatHandler) SendMessage(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	message, err := h.Chat.Append(c.Request.Context(), chat.ConversationID(c.Param("id")), p.identity(), req.Body)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, dto.FromMessage(*message))
}
