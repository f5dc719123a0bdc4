package memory

import (
	"context"
	"sync"
	"time"

	appoutbox "ticketexchange/internal/app/outbox"
)

const (
	outboxStateNew     = "NEW"
	outboxStateClaimed = "CLAIMED"
	outboxStateSent    = "SENT"
	outboxStateFailed  = "FAILED"
)

type outboxEntry struct {
	record      appoutbox.EventRecord
	state       string
	attempts    int
	nextAttempt time.Time
	claimedBy   string
	lastError   string
}

// Outbox stages event records in memory and serves them to the worker in
// insertion order. Useful for local runs and tests without a broker.
type Outbox struct {
	mu      sync.Mutex
	entries []*outboxEntry
	now     func() time.Time
}

func NewOutbox() *Outbox {
	return &Outbox{now: time.Now}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, &outboxEntry{
		record:      record,
		state:       outboxStateNew,
		nextAttempt: o.now().UTC(),
	})
	return nil
}

func (o *Outbox) Claim(ctx context.Context, workerID string) (*appoutbox.ClaimedEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now().UTC()
	for _, entry := range o.entries {
		if entry.state != outboxStateNew && entry.state != outboxStateFailed {
			continue
		}
		if entry.nextAttempt.After(now) {
			continue
		}
		entry.state = outboxStateClaimed
		entry.claimedBy = workerID
		return &appoutbox.ClaimedEvent{EventRecord: entry.record, Attempts: entry.attempts}, nil
	}
	return nil, nil
}

func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry := o.find(id); entry != nil {
		entry.state = outboxStateSent
	}
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, retryAt time.Time, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry := o.find(id); entry != nil {
		entry.state = outboxStateFailed
		entry.attempts++
		entry.nextAttempt = retryAt
		entry.lastError = reason
	}
	return nil
}

// Unsent reports how many records still await delivery.
func (o *Outbox) Unsent() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, entry := range o.entries {
		if entry.state != outboxStateSent {
			n++
		}
	}
	return n
}

func (o *Outbox) find(id string) *outboxEntry {
	for _, entry := range o.entries {
		if entry.record.ID == id {
			return entry
		}
	}
	return nil
}

var (
	_ appoutbox.Outbox = (*Outbox)(nil)
	_ appoutbox.Queue  = (*Outbox)(nil)
)
