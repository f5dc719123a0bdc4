package chatlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ticketexchange/internal/app/fanout"
	"ticketexchange/internal/domain/chat"
	"ticketexchange/internal/domain/identity"
	"ticketexchange/internal/infra/storage/memory"
)

var (
	amy = identity.Identity{ID: "u-amy", DisplayName: "Amy"}
	zoe = identity.Identity{ID: "u-zoe", DisplayName: "Zoe"}
)

func newLog(t *testing.T) (*Log, chat.ConversationID) {
	t.Helper()
	conversations := memory.NewConversationRepository()
	conv, err := chat.NewConversation("c-1", "lst-1", amy.ID, zoe.ID, time.Now())
	if err != nil {
		t.Fatalf("NewConversation: %v", err)
	}
	if err := conversations.Create(context.Background(), conv); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return &Log{
		Conversations: conversations,
		Messages:      memory.NewMessageStore(),
		Broker:        fanout.NewBroker(nil),
	}, conv.ID
}

func TestAppendValidation(t *testing.T) {
	log, convID := newLog(t)
	ctx := context.Background()

	if _, err := log.Append(ctx, convID, amy, "   "); !errors.Is(err, chat.ErrEmptyBody) {
		t.Errorf("blank body error = %v, want ErrEmptyBody", err)
	}
	outsider := identity.Identity{ID: "u-other"}
	if _, err := log.Append(ctx, convID, outsider, "hi"); !errors.Is(err, chat.ErrNotParticipant) {
		t.Errorf("outsider error = %v, want ErrNotParticipant", err)
	}
	if _, err := log.Append(ctx, "c-missing", amy, "hi"); !errors.Is(err, chat.ErrConversationNotFound) {
		t.Errorf("missing conversation error = %v, want ErrConversationNotFound", err)
	}
}

func TestAppendAssignsDenseOrder(t *testing.T) {
	log, convID := newLog(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		msg, err := log.Append(ctx, convID, amy, fmt.Sprintf("message %d", i))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if msg.Seq != uint64(i) {
			t.Fatalf("Seq = %d, want %d", msg.Seq, i)
		}
	}

	messages, err := log.List(ctx, convID, zoe.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(messages))
	}
	for i, m := range messages {
		if m.Seq != uint64(i+1) {
			t.Fatalf("order broken at %d: %+v", i, messages)
		}
	}
}

func TestConcurrentAppendsAllPreserved(t *testing.T) {
	log, convID := newLog(t)
	ctx := context.Background()

	const perSender = 10
	var wg sync.WaitGroup
	for _, sender := range []identity.Identity{amy, zoe} {
		wg.Add(1)
		s := sender
		go func() {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if _, err := log.Append(ctx, convID, s, fmt.Sprintf("%s %d", s.DisplayName, i)); err != nil {
					t.Errorf("Append: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	messages, err := log.List(ctx, convID, amy.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(messages) != 2*perSender {
		t.Fatalf("messages = %d, want %d", len(messages), 2*perSender)
	}
	seen := make(map[uint64]bool)
	for i, m := range messages {
		if m.Seq != uint64(i+1) || seen[m.Seq] {
			t.Fatalf("sequence not dense at %d: %+v", i, m)
		}
		seen[m.Seq] = true
	}
}

func TestListRequiresParticipant(t *testing.T) {
	log, convID := newLog(t)
	if _, err := log.List(context.Background(), convID, "u-other"); !errors.Is(err, chat.ErrNotParticipant) {
		t.Fatalf("error = %v, want ErrNotParticipant", err)
	}
}

func TestStreamBacklogThenLive(t *testing.T) {
	log, convID := newLog(t)
	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	if _, err := log.Append(ctx, convID, amy, "first"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := log.Append(ctx, convID, zoe, "second"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	stream, cancel, err := log.Stream(ctx, convID, amy.ID)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer cancel()

	recv := func() string {
		select {
		case msg := <-stream:
			return msg.Body
		case <-ctx.Done():
			t.Fatal("timed out waiting for message")
			return ""
		}
	}

	if got := recv(); got != "first" {
		t.Fatalf("backlog[0] = %q", got)
	}
	if got := recv(); got != "second" {
		t.Fatalf("backlog[1] = %q", got)
	}

	if _, err := log.Append(ctx, convID, zoe, "third"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := recv(); got != "third" {
		t.Fatalf("live message = %q", got)
	}
}

func TestStreamSurvivesFanoutOverflow(t *testing.T) {
	log, convID := newLog(t)
	ctx, cancelCtx := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCtx()

	stream, cancel, err := log.Stream(ctx, convID, amy.ID)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer cancel()

	// Far more appends than the fan-out buffers while the reader is idle,
	// so the broker drops the subscription mid-stream.
	const total = 200
	for i := 0; i < total; i++ {
		if _, err := log.Append(ctx, convID, amy, fmt.Sprintf("note %d", i+1)); err != nil {
			t.Fatalf("Append %d: %v", i+1, err)
		}
	}

	var last uint64
	for last < total {
		select {
		case msg := <-stream:
			if msg.Seq != last+1 {
				t.Fatalf("sequence skipped: got %d after %d", msg.Seq, last)
			}
			last = msg.Seq
		case <-ctx.Done():
			t.Fatalf("delivered %d of %d messages", last, total)
		}
	}
}

func TestStreamRequiresParticipant(t *testing.T) {
	log, convID := newLog(t)
	if _, _, err := log.Stream(context.Background(), convID, "u-other"); !errors.Is(err, chat.ErrNotParticipant) {
		t.Fatalf("error = %v, want ErrNotParticipant", err)
	}
}
