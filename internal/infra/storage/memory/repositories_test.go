package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ticketexchange/internal/domain/chat"
	"ticketexchange/internal/domain/listings"
	"ticketexchange/internal/domain/shared/money"
)

func seedListing(t *testing.T, repo *ListingRepository, id string, created time.Time) *listings.Listing {
	t.Helper()
	l, err := listings.NewListing(listings.CreateParams{
		ID:       listings.ListingID(id),
		Category: "Concerts",
		Title:    "Arena Tour",
		Schedule: "Fri Oct 10",
		Price:    money.Must(6500, "USD"),
		Quantity: 1,
		Seller:   listings.Party{ID: "u-seller", Name: "Sam"},
		Now:      created,
	})
	if err != nil {
		t.Fatalf("NewListing: %v", err)
	}
	if err := repo.Save(context.Background(), l); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return l
}

func TestSaveVersionConflict(t *testing.T) {
	repo := NewListingRepository()
	ctx := context.Background()
	seedListing(t, repo, "lst-1", time.Now())

	first, err := repo.ByID(ctx, "lst-1")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	second, err := repo.ByID(ctx, "lst-1")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}

	if err := first.Reserve(listings.Party{ID: "u-one"}, time.Now()); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	if err := second.Reserve(listings.Party{ID: "u-two"}, time.Now()); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := repo.Save(ctx, second); !errors.Is(err, listings.ErrVersionConflict) {
		t.Fatalf("stale Save error = %v, want ErrVersionConflict", err)
	}

	stored, err := repo.ByID(ctx, "lst-1")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if stored.ReservedBuyer == nil || stored.ReservedBuyer.ID != "u-one" {
		t.Fatalf("winner overwritten: %+v", stored.ReservedBuyer)
	}
}

func TestConcurrentConditionalSaves(t *testing.T) {
	repo := NewListingRepository()
	ctx := context.Background()
	seedListing(t, repo, "lst-1", time.Now())

	const writers = 16
	var committed atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			l, err := repo.ByID(ctx, "lst-1")
			if err != nil {
				t.Errorf("ByID: %v", err)
				return
			}
			if err := l.Reserve(listings.Party{ID: "u-w"}, time.Now()); err != nil {
				return
			}
			if err := repo.Save(ctx, l); err == nil {
				committed.Add(1)
			} else if !errors.Is(err, listings.ErrVersionConflict) {
				t.Errorf("Save: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if committed.Load() != 1 {
		t.Fatalf("committed writers = %d, want exactly 1", committed.Load())
	}
}

func TestByIDReturnsCopy(t *testing.T) {
	repo := NewListingRepository()
	ctx := context.Background()
	seedListing(t, repo, "lst-1", time.Now())

	loaded, err := repo.ByID(ctx, "lst-1")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	loaded.Title = "mutated"

	again, err := repo.ByID(ctx, "lst-1")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if again.Title != "Arena Tour" {
		t.Fatal("repository state mutated through a loaded copy")
	}
}

func TestListAvailableNewestFirst(t *testing.T) {
	repo := NewListingRepository()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seedListing(t, repo, "lst-old", base)
	seedListing(t, repo, "lst-new", base.Add(time.Hour))

	items, err := repo.ListAvailable(ctx, "")
	if err != nil {
		t.Fatalf("ListAvailable: %v", err)
	}
	if len(items) != 2 || items[0].ID != "lst-new" || items[1].ID != "lst-old" {
		t.Fatalf("order = %v", []listings.ListingID{items[0].ID, items[1].ID})
	}
}

func TestConversationUniqueKey(t *testing.T) {
	repo := NewConversationRepository()
	ctx := context.Background()

	a, err := chat.NewConversation("c-1", "lst-1", "u-amy", "u-zoe", time.Now())
	if err != nil {
		t.Fatalf("NewConversation: %v", err)
	}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dup, err := chat.NewConversation("c-2", "lst-1", "u-zoe", "u-amy", time.Now())
	if err != nil {
		t.Fatalf("NewConversation: %v", err)
	}
	if err := repo.Create(ctx, dup); !errors.Is(err, chat.ErrConversationExists) {
		t.Fatalf("duplicate Create error = %v, want ErrConversationExists", err)
	}

	found, err := repo.ByKey(ctx, a.Key())
	if err != nil {
		t.Fatalf("ByKey: %v", err)
	}
	if found.ID != "c-1" {
		t.Fatalf("ByKey = %v, want c-1", found.ID)
	}
}

func TestMessageStoreAssignsSeq(t *testing.T) {
	store := NewMessageStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := &chat.Message{ID: chat.MessageID(string(rune('a' + i))), ConversationID: "c-1", SenderID: "u-amy", Body: "hi"}
		if err := store.Append(ctx, msg); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if msg.Seq != uint64(i+1) {
			t.Fatalf("Seq = %d, want %d", msg.Seq, i+1)
		}
		if msg.CreatedAt.IsZero() {
			t.Fatal("CreatedAt not assigned")
		}
	}

	other := &chat.Message{ID: "x", ConversationID: "c-2", SenderID: "u-amy", Body: "hi"}
	if err := store.Append(ctx, other); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if other.Seq != 1 {
		t.Fatalf("per-conversation Seq = %d, want 1", other.Seq)
	}
}
