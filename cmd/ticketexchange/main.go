package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticketexchange/internal/app/chatlog"
	"ticketexchange/internal/app/fanout"
	"ticketexchange/internal/app/interest"
	"ticketexchange/internal/app/ledger"
	appoutbox "ticketexchange/internal/app/outbox"
	"ticketexchange/internal/app/registry"
	"ticketexchange/internal/domain/chat"
	"ticketexchange/internal/domain/identity"
	"ticketexchange/internal/domain/listings"
	"ticketexchange/internal/infra/broker/kafka"
	"ticketexchange/internal/infra/config"
	mongodb "ticketexchange/internal/infra/db/mongo"
	ginserver "ticketexchange/internal/infra/http/gin"
	"ticketexchange/internal/infra/obs"
	infraoutbox "ticketexchange/internal/infra/outbox"
	"ticketexchange/internal/infra/storage/memory"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	app, ready, err := buildApplication(cfg, logger)
	if err != nil {
		logger.Error("application build failed", "error", err)
		os.Exit(1)
	}

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Ready: ready}, app.handlers)

	if app.worker != nil {
		go func() {
			if err := app.worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox worker stopped", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "storage", cfg.StorageMode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

type application struct {
	handlers ginserver.Handlers
	worker   *infraoutbox.Worker
}

func buildApplication(cfg config.Config, logger *slog.Logger) (application, func() error, error) {
	var (
		listingsRepo  listings.Repository
		conversations chat.ConversationRepository
		messages      chat.MessageStore
		directory     identity.Directory
		verifier      identity.TokenVerifier
		outboxStore   appoutbox.Outbox
		queue         appoutbox.Queue
		ready         = func() error { return nil }
	)

	switch cfg.StorageMode {
	case "mongo":
		client, err := mongodb.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return application{}, nil, err
		}
		listingsRepo = mongodb.NewListingRepository(client.DB)
		conversations = mongodb.NewConversationRepository(client.DB)
		messages = mongodb.NewMessageStore(client.DB)
		dir := mongodb.NewDirectory(client.DB)
		directory = dir
		verifier = dir
		store := mongodb.NewOutboxStore(client.DB)
		outboxStore = store
		queue = store
		ready = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return client.Ping(pingCtx)
		}
	default:
		listingsRepo = memory.NewListingRepository()
		conversations = memory.NewConversationRepository()
		messages = memory.NewMessageStore()
		dir := memory.NewDirectory()
		if cfg.SeedDemoUsers {
			seedDemoUsers(dir, logger)
		}
		directory = dir
		verifier = dir
		store := memory.NewOutbox()
		outboxStore = store
		queue = store
	}

	broker := fanout.NewBroker(logger)
	encoder := appoutbox.JSONEventEncoder{}

	chatLog := &chatlog.Log{
		Conversations: conversations,
		Messages:      messages,
		Broker:        broker,
		Outbox:        outboxStore,
		Encoder:       encoder,
		Backoff:       cfg.StoreRetryBackoff,
		Logger:        logger,
	}
	conversationRegistry := &registry.Registry{
		Conversations: conversations,
		Listings:      listingsRepo,
		Broker:        broker,
		Outbox:        outboxStore,
		Encoder:       encoder,
		Backoff:       cfg.StoreRetryBackoff,
		Logger:        logger,
	}
	listingLedger := &ledger.Ledger{
		Listings:      listingsRepo,
		Conversations: conversations,
		Chat:          chatLog,
		Registry:      conversationRegistry,
		Directory:     directory,
		Broker:        broker,
		Outbox:        outboxStore,
		Encoder:       encoder,
		Backoff:       cfg.StoreRetryBackoff,
		Logger:        logger,
	}
	interestAggregator := &interest.Aggregator{
		Registry:  conversationRegistry,
		Directory: directory,
	}

	var worker *infraoutbox.Worker
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			return application{}, nil, err
		}
		worker = &infraoutbox.Worker{
			Queue:       queue,
			Producer:    producer,
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Backoff:     cfg.RetryBackoff,
		}
	} else {
		logger.Info("no kafka brokers configured, events stay in the outbox")
	}

	authMiddleware := ginserver.AuthMiddleware{Verifier: verifier, Logger: logger}
	handlers := ginserver.Handlers{
		Listing: ginserver.ListingHandler{
			Ledger:   listingLedger,
			Interest: interestAggregator,
			Logger:   logger,
		},
		Chat: ginserver.ChatHandler{
			Registry:  conversationRegistry,
			Chat:      chatLog,
			Ledger:    listingLedger,
			Directory: directory,
			Logger:    logger,
		},
		Stream: ginserver.StreamHandler{
			Chat:   chatLog,
			Broker: broker,
			Ledger: listingLedger,
			Logger: logger,
		},
		AuthMiddleware: authMiddleware.Handle,
	}

	return application{handlers: handlers, worker: worker}, ready, nil
}

func seedDemoUsers(dir *memory.Directory, logger *slog.Logger) {
	demo := []struct {
		id    identity.Identity
		token string
	}{
		{identity.Identity{ID: "u-alice", DisplayName: "Alice Chen", Email: "alice@example.com"}, "dev-token-alice"},
		{identity.Identity{ID: "u-bob", DisplayName: "Bob Okafor", Email: "bob@example.com"}, "dev-token-bob"},
		{identity.Identity{ID: "u-carol", DisplayName: "Carol Reyes", Email: "carol@example.com"}, "dev-token-carol"},
	}
	for _, u := range demo {
		dir.Seed(u.id, u.token)
	}
	logger.Info("seeded demo users", "count", len(demo))
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
