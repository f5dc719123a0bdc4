package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"ticketexchange/internal/app/chatlog"
	"ticketexchange/internal/app/fanout"
	"ticketexchange/internal/app/interest"
	"ticketexchange/internal/app/registry"
	"ticketexchange/internal/domain/chat"
	"ticketexchange/internal/domain/identity"
	"ticketexchange/internal/domain/listings"
	"ticketexchange/internal/domain/shared/money"
	"ticketexchange/internal/infra/storage/memory"
)

type fixture struct {
	ledger   *Ledger
	registry *registry.Registry
	chat     *chatlog.Log
	interest *interest.Aggregator
	dir      *memory.Directory
}

var (
	seller = identity.Identity{ID: "u-seller", DisplayName: "Sam Seller", Email: "sam@example.com"}
	buyer  = identity.Identity{ID: "u-buyer", DisplayName: "Bea Buyer", Email: "bea@example.com"}
	rival  = identity.Identity{ID: "u-rival", DisplayName: "Rex Rival", Email: "rex@example.com"}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	listingsRepo := memory.NewListingRepository()
	conversations := memory.NewConversationRepository()
	messages := memory.NewMessageStore()
	dir := memory.NewDirectory()
	for _, id := range []identity.Identity{seller, buyer, rival} {
		dir.Seed(id, "")
	}
	broker := fanout.NewBroker(nil)

	chatLog := &chatlog.Log{
		Conversations: conversations,
		Messages:      messages,
		Broker:        broker,
	}
	reg := &registry.Registry{
		Conversations: conversations,
		Listings:      listingsRepo,
		Broker:        broker,
	}
	led := &Ledger{
		Listings:      listingsRepo,
		Conversations: conversations,
		Chat:          chatLog,
		Registry:      reg,
		Directory:     dir,
		Broker:        broker,
	}
	return &fixture{
		ledger:   led,
		registry: reg,
		chat:     chatLog,
		interest: &interest.Aggregator{Registry: reg, Directory: dir},
		dir:      dir,
	}
}

func (f *fixture) createListing(t *testing.T) *listings.Listing {
	t.Helper()
	l, err := f.ledger.Create(context.Background(), seller, CreateInput{
		Category: "Concerts",
		Title:    "Arena Tour",
		Schedule: "Fri Oct 10, 8:00 PM",
		Price:    money.Must(6500, "USD"),
		Quantity: 2,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return l
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Create(context.Background(), seller, CreateInput{
		Schedule: "Fri",
		Price:    money.Must(100, "USD"),
		Quantity: 1,
	})
	if !errors.Is(err, listings.ErrTitleRequired) {
		t.Fatalf("error = %v, want ErrTitleRequired", err)
	}
}

func TestConcurrentReservationSingleWinner(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t)
	ctx := context.Background()

	const contenders = 32
	var (
		wins   atomic.Int64
		losses atomic.Int64
		wg     sync.WaitGroup
	)
	start := make(chan struct{})
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		b := identity.Identity{ID: identity.UserID("u-buyer-" + string(rune('a'+i%26)) + string(rune('a'+i/26))), DisplayName: "Buyer"}
		go func() {
			defer wg.Done()
			<-start
			_, _, err := f.ledger.RequestReservation(ctx, l.ID, b)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, listings.ErrNotAvailable):
				losses.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins.Load())
	}
	if losses.Load() != contenders-1 {
		t.Fatalf("losers = %d, want %d", losses.Load(), contenders-1)
	}

	stored, err := f.ledger.ByID(ctx, l.ID)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if stored.Status != listings.StatusReserved || stored.ReservedBuyer == nil {
		t.Fatalf("final state = %v / %+v", stored.Status, stored.ReservedBuyer)
	}
}

func TestReservationOpensConversation(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t)
	ctx := context.Background()

	_, conv, err := f.ledger.RequestReservation(ctx, l.ID, buyer)
	if err != nil {
		t.Fatalf("RequestReservation: %v", err)
	}
	if conv == nil {
		t.Fatal("no conversation returned")
	}
	if !conv.HasParticipant(buyer.ID) || !conv.HasParticipant(seller.ID) {
		t.Fatalf("participants = %v", conv.Participants)
	}
	if conv.ListingID != l.ID {
		t.Fatalf("listing scope = %v, want %v", conv.ListingID, l.ID)
	}
}

func TestSelfReservationForbidden(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t)
	if _, _, err := f.ledger.RequestReservation(context.Background(), l.ID, seller); !errors.Is(err, listings.ErrForbidden) {
		t.Fatalf("error = %v, want ErrForbidden", err)
	}
}

func TestRejectThenReReserve(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t)
	ctx := context.Background()

	if _, _, err := f.ledger.RequestReservation(ctx, l.ID, buyer); err != nil {
		t.Fatalf("RequestReservation: %v", err)
	}

	if _, err := f.ledger.RejectReservation(ctx, l.ID, buyer.ID); !errors.Is(err, listings.ErrForbidden) {
		t.Fatalf("buyer reject error = %v, want ErrForbidden", err)
	}

	rolled, err := f.ledger.RejectReservation(ctx, l.ID, seller.ID)
	if err != nil {
		t.Fatalf("RejectReservation: %v", err)
	}
	if rolled.Status != listings.StatusAvailable || rolled.ReservedBuyer != nil {
		t.Fatalf("state after reject = %v / %+v", rolled.Status, rolled.ReservedBuyer)
	}

	if _, _, err := f.ledger.RequestReservation(ctx, l.ID, rival); err != nil {
		t.Fatalf("re-reserve after reject: %v", err)
	}
}

func TestFinalizeReservedDefaultsToHolder(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t)
	ctx := context.Background()

	if _, _, err := f.ledger.RequestReservation(ctx, l.ID, buyer); err != nil {
		t.Fatalf("RequestReservation: %v", err)
	}

	sold, err := f.ledger.Finalize(ctx, l.ID, seller.ID, "")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if sold.Status != listings.StatusFinalized || sold.FinalBuyer == nil || sold.FinalBuyer.ID != buyer.ID {
		t.Fatalf("state after finalize = %v / %+v", sold.Status, sold.FinalBuyer)
	}

	// the confirmation line lands in the buyer's thread
	conv, err := f.registry.GetOrCreate(ctx, l.ID, buyer.ID, seller.ID)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	messages, err := f.chat.List(ctx, conv.ID, buyer.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	found := false
	for _, m := range messages {
		if m.Body == "Ticket marked as sold." && m.SenderID == seller.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("sold notice missing from thread, messages = %+v", messages)
	}
}

func TestFinalizeFromAvailableRequiresConversation(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t)
	ctx := context.Background()

	_, err := f.ledger.Finalize(ctx, l.ID, seller.ID, buyer.ID)
	if !errors.Is(err, chat.ErrConversationNotFound) {
		t.Fatalf("error = %v, want ErrConversationNotFound", err)
	}

	if _, err := f.registry.GetOrCreate(ctx, l.ID, buyer.ID, seller.ID); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	sold, err := f.ledger.Finalize(ctx, l.ID, seller.ID, buyer.ID)
	if err != nil {
		t.Fatalf("Finalize after conversation: %v", err)
	}
	if sold.FinalBuyer == nil || sold.FinalBuyer.ID != buyer.ID {
		t.Fatalf("FinalBuyer = %+v, want %v", sold.FinalBuyer, buyer.ID)
	}
}

func TestFinalizeCallerMustBeSeller(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t)
	ctx := context.Background()

	if _, _, err := f.ledger.RequestReservation(ctx, l.ID, buyer); err != nil {
		t.Fatalf("RequestReservation: %v", err)
	}
	if _, err := f.ledger.Finalize(ctx, l.ID, buyer.ID, buyer.ID); !errors.Is(err, listings.ErrForbidden) {
		t.Fatalf("error = %v, want ErrForbidden", err)
	}
}

func TestFinalizeIsTerminal(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t)
	ctx := context.Background()

	if _, _, err := f.ledger.RequestReservation(ctx, l.ID, buyer); err != nil {
		t.Fatalf("RequestReservation: %v", err)
	}
	if _, err := f.ledger.Finalize(ctx, l.ID, seller.ID, buyer.ID); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if _, err := f.ledger.Finalize(ctx, l.ID, seller.ID, rival.ID); !errors.Is(err, listings.ErrAlreadyFinalized) {
		t.Errorf("re-finalize error = %v, want ErrAlreadyFinalized", err)
	}
	if _, _, err := f.ledger.RequestReservation(ctx, l.ID, rival); !errors.Is(err, listings.ErrNotAvailable) {
		t.Errorf("reserve after sale error = %v, want ErrNotAvailable", err)
	}
	if _, err := f.ledger.RejectReservation(ctx, l.ID, seller.ID); !errors.Is(err, listings.ErrAlreadyFinalized) {
		t.Errorf("reject after sale error = %v, want ErrAlreadyFinalized", err)
	}
}

func TestDeleteCascadeKeepsHistory(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t)
	ctx := context.Background()

	conv, err := f.registry.GetOrCreate(ctx, l.ID, buyer.ID, seller.ID)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := f.chat.Append(ctx, conv.ID, buyer, "is this still available?"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := f.ledger.Delete(ctx, l.ID, buyer.ID); !errors.Is(err, listings.ErrForbidden) {
		t.Fatalf("buyer delete error = %v, want ErrForbidden", err)
	}
	if err := f.ledger.Delete(ctx, l.ID, seller.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	available, err := f.ledger.Available(ctx, "")
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	for _, item := range available {
		if item.ID == l.ID {
			t.Fatal("deleted listing still browsable")
		}
	}

	reloaded, err := f.registry.ByID(ctx, conv.ID, buyer.ID)
	if err != nil {
		t.Fatalf("conversation gone after delete: %v", err)
	}
	if !reloaded.Invalidated {
		t.Fatal("conversation not invalidated")
	}
	messages, err := f.chat.List(ctx, conv.ID, buyer.ID)
	if err != nil {
		t.Fatalf("List after delete: %v", err)
	}
	if len(messages) != 1 || messages[0].Body != "is this still available?" {
		t.Fatalf("history lost: %+v", messages)
	}

	if _, _, err := f.ledger.RequestReservation(ctx, l.ID, buyer); !errors.Is(err, listings.ErrNotAvailable) {
		t.Fatalf("reserve deleted error = %v, want ErrNotAvailable", err)
	}
}

func TestDeleteStagesConversationInvalidation(t *testing.T) {
	f := newFixture(t)
	box := memory.NewOutbox()
	f.ledger.Outbox = box
	l := f.createListing(t)
	ctx := context.Background()

	if _, _, err := f.ledger.RequestReservation(ctx, l.ID, buyer); err != nil {
		t.Fatalf("RequestReservation: %v", err)
	}
	if err := f.ledger.Delete(ctx, l.ID, seller.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	names := make(map[string]int)
	for {
		claimed, err := box.Claim(ctx, "w-test")
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if claimed == nil {
			break
		}
		names[claimed.Name]++
		if err := box.MarkSent(ctx, claimed.ID); err != nil {
			t.Fatalf("MarkSent: %v", err)
		}
	}
	if names["conversation.invalidated"] != 1 {
		t.Fatalf("invalidation events staged = %d, want 1 (%v)", names["conversation.invalidated"], names)
	}
	if names["listing.deleted"] != 1 {
		t.Fatalf("deletion events staged = %d, want 1 (%v)", names["listing.deleted"], names)
	}
}

func TestAvailableCategoryFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ledger.Create(ctx, seller, CreateInput{
		Category: "Concerts",
		Title:    "Arena Tour",
		Schedule: "Fri Oct 10",
		Price:    money.Must(6500, "USD"),
		Quantity: 1,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.ledger.Create(ctx, seller, CreateInput{
		Category: "Sports",
		Title:    "Derby Tickets",
		Schedule: "Sat Oct 11",
		Price:    money.Must(3000, "USD"),
		Quantity: 2,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	concerts, err := f.ledger.Available(ctx, "Concerts")
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if len(concerts) != 1 || concerts[0].Category != "Concerts" {
		t.Fatalf("filtered feed = %+v", concerts)
	}
	all, err := f.ledger.Available(ctx, "")
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered feed size = %d, want 2", len(all))
	}
}

func TestInterestAggregation(t *testing.T) {
	f := newFixture(t)
	l := f.createListing(t)
	ctx := context.Background()

	if _, err := f.registry.GetOrCreate(ctx, l.ID, buyer.ID, seller.ID); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := f.registry.GetOrCreate(ctx, l.ID, rival.ID, seller.ID); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if _, err := f.interest.BuyersInterestedIn(ctx, l.ID, buyer.ID); !errors.Is(err, chat.ErrForbidden) {
		t.Fatalf("non-seller error = %v, want ErrForbidden", err)
	}

	buyers, err := f.interest.BuyersInterestedIn(ctx, l.ID, seller.ID)
	if err != nil {
		t.Fatalf("BuyersInterestedIn: %v", err)
	}
	if len(buyers) != 2 {
		t.Fatalf("interested buyers = %d, want 2", len(buyers))
	}
	if buyers[0].BuyerID > buyers[1].BuyerID {
		t.Fatalf("buyers not sorted: %+v", buyers)
	}
}
