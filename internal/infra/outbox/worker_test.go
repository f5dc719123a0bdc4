package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	appoutbox "ticketexchange/internal/app/outbox"
	"ticketexchange/internal/infra/storage/memory"
)

type capturingProducer struct {
	topics   []string
	keys     []string
	payloads [][]byte
	fail     bool
}

func (p *capturingProducer) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	if p.fail {
		return context.DeadlineExceeded
	}
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	p.payloads = append(p.payloads, payload)
	return nil
}

func stageEvent(t *testing.T, box *memory.Outbox, name, aggregate string) {
	t.Helper()
	err := box.Add(context.Background(), appoutbox.EventRecord{
		ID:         "evt-" + name,
		Name:       name,
		Payload:    []byte(`{"listing_id":"lst-1"}`),
		OccurredAt: time.Now().UTC(),
		Aggregate:  aggregate,
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
}

func TestWorkerPublishesCloudEvent(t *testing.T) {
	box := memory.NewOutbox()
	stageEvent(t, box, "listing.reserved", "lst-1")
	producer := &capturingProducer{}
	w := &Worker{Queue: box, Producer: producer, ID: "w-1", TopicPrefix: "test."}

	if err := w.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce: %v", err)
	}
	if box.Unsent() != 0 {
		t.Fatalf("unsent = %d, want 0", box.Unsent())
	}
	if len(producer.topics) != 1 || producer.topics[0] != "test.listing.events.v1" {
		t.Fatalf("topics = %v", producer.topics)
	}
	if producer.keys[0] != "lst-1" {
		t.Fatalf("key = %q, want aggregate id", producer.keys[0])
	}

	var envelope struct {
		SpecVersion string         `json:"specversion"`
		Type        string         `json:"type"`
		Data        map[string]any `json:"data"`
	}
	if err := json.Unmarshal(producer.payloads[0], &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.SpecVersion != "1.0" || envelope.Type != "listing.reserved.v1" {
		t.Fatalf("envelope = %+v", envelope)
	}
	if envelope.Data["listing_id"] != "lst-1" {
		t.Fatalf("data = %v", envelope.Data)
	}
}

func TestWorkerReschedulesFailures(t *testing.T) {
	box := memory.NewOutbox()
	stageEvent(t, box, "conversation.started", "c-1")
	producer := &capturingProducer{fail: true}
	w := &Worker{Queue: box, Producer: producer, ID: "w-1", Backoff: []time.Duration{time.Hour}}

	if err := w.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce: %v", err)
	}
	if box.Unsent() != 1 {
		t.Fatalf("unsent = %d, want 1 after failure", box.Unsent())
	}

	// rescheduled an hour out, so an immediate claim finds nothing
	claimed, err := box.Claim(context.Background(), "w-1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed != nil {
		t.Fatalf("claimed = %+v, want nil before retry time", claimed)
	}
}

func TestWorkerIdleWhenQueueEmpty(t *testing.T) {
	box := memory.NewOutbox()
	w := &Worker{Queue: box, Producer: &capturingProducer{}, ID: "w-1"}
	if err := w.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce on empty queue: %v", err)
	}
}
