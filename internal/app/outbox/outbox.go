package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"ticketexchange/internal/domain/shared/events"
)

// EventRecord is a committed domain event staged for broker publication.
type EventRecord struct {
	ID         string
	Name       string
	Payload    []byte
	OccurredAt time.Time
	Aggregate  string
	Headers    map[string]string
}

// Outbox stages event records next to the mutation that produced them.
type Outbox interface {
	Add(ctx context.Context, record EventRecord) error
}

// ClaimedEvent is a staged record handed to exactly one worker, with the
// delivery attempt count the worker needs to schedule retries.
type ClaimedEvent struct {
	EventRecord
	Attempts int
}

// Queue is the worker-facing side of an outbox store. Claim returns nil when
// nothing is due.
type Queue interface {
	Claim(ctx context.Context, workerID string) (*ClaimedEvent, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, retryAt time.Time, reason string) error
}

// EventEncoder turns a domain event into a transportable record.
type EventEncoder interface {
	Encode(ev events.DomainEvent) (EventRecord, error)
}

type JSONEventEncoder struct {
	IDGenerator func() string
}

func (e JSONEventEncoder) Encode(ev events.DomainEvent) (EventRecord, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return EventRecord{}, err
	}
	idGen := e.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}
	return EventRecord{
		ID:         idGen(),
		Name:       ev.EventName(),
		Payload:    payload,
		OccurredAt: ev.OccurredAt(),
		Aggregate:  ev.AggregateID(),
		Headers:    map[string]string{},
	}, nil
}

// RecordDomainEvents encodes and stages every pending event. A nil box is a
// no-op so services can run without a broker attached.
func RecordDomainEvents(ctx context.Context, box Outbox, encoder EventEncoder, evs []events.DomainEvent) error {
	if box == nil || len(evs) == 0 {
		return nil
	}
	if encoder == nil {
		encoder = JSONEventEncoder{}
	}
	for _, ev := range evs {
		rec, err := encoder.Encode(ev)
		if err != nil {
			return err
		}
		if err := box.Add(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
