package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"ticketexchange/internal/infra/config"
	"ticketexchange/internal/infra/obs"
)

type ListingHTTP interface {
	Create(c *gin.Context)
	Catalog(c *gin.Context)
	Get(c *gin.Context)
	MyListings(c *gin.Context)
	Reserve(c *gin.Context)
	Reject(c *gin.Context)
	Finalize(c *gin.Context)
	Delete(c *gin.Context)
	InterestedBuyers(c *gin.Context)
}

type ChatHTTP interface {
	StartListingConversation(c *gin.Context)
	StartDirectConversation(c *gin.Context)
	ListMyConversations(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
}

type StreamHTTP interface {
	ConversationStream(c *gin.Context)
	ListingEvents(c *gin.Context)
	AvailableFeed(c *gin.Context)
}

type Handlers struct {
	Listing        ListingHTTP
	Chat           ChatHTTP
	Stream         StreamHTTP
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	if h.Listing != nil {
		api.GET("/listings", h.Listing.Catalog)
		api.POST("/listings", h.Listing.Create)
		api.GET("/listings/:id", h.Listing.Get)
		api.DELETE("/listings/:id", h.Listing.Delete)
		api.POST("/listings/:id/reserve", h.Listing.Reserve)
		api.POST("/listings/:id/reject", h.Listing.Reject)
		api.POST("/listings/:id/finalize", h.Listing.Finalize)
		api.GET("/listings/:id/interest", h.Listing.InterestedBuyers)
		api.GET("/me/listings", h.Listing.MyListings)
	}
	if h.Chat != nil {
		api.POST("/listings/:id/conversations", h.Chat.StartListingConversation)
		api.POST("/conversations/direct", h.Chat.StartDirectConversation)
		api.GET("/me/conversations", h.Chat.ListMyConversations)
		api.GET("/conversations/:id/messages", h.Chat.ListMessages)
		api.POST("/conversations/:id/messages", h.Chat.SendMessage)
	}
	if h.Stream != nil {
		api.GET("/conversations/:id/stream", h.Stream.ConversationStream)
		api.GET("/listings/:id/events", h.Stream.ListingEvents)
		api.GET("/listings/events/available", h.Stream.AvailableFeed)
	}

	return &http.Server{Addr: cfg.HTTPAddr, Handler: router}
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}

var (
	_ ListingHTTP = ListingHandler{}
	_ ChatHTTP    = ChatHandler{}
	_ StreamHTTP  = StreamHandler{}
)
