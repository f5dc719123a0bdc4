package fanout

import (
	"log/slog"
	"sync"
	"time"
)

type EntityKind string

const (
	KindListing      EntityKind = "listing"
	KindConversation EntityKind = "conversation"
	KindListingFeed  EntityKind = "listing-feed"
)

// FeedAvailable is the entity id of the shared available-listings feed.
const FeedAvailable = "available"

// Event is one snapshot-or-delta notification for a single entity. Seq is
// assigned per entity at publish time and is strictly increasing.
type Event struct {
	Kind     EntityKind
	EntityID string
	Type     string
	Seq      uint64
	Snapshot bool
	Payload  any
	At       time.Time
}

const defaultBuffer = 64

// Broker fans committed mutations out to live subscribers. Delivery is
// ordered per entity and at-least-once: a subscriber that cannot keep up
// loses intermediate deltas and is re-seeded with the latest snapshot. On
// entities that never publish snapshots there is nothing to reseed from, so
// a slow subscriber is cut loose instead; its closed channel tells the
// consumer to re-attach and replay from its own watermark.
type Broker struct {
	mu       sync.Mutex
	entities map[entityKey]*entityState
	logger   *slog.Logger
	buffer   int
}

type entityKey struct {
	kind EntityKind
	id   string
}

type entityState struct {
	seq    uint64
	latest *Event
	subs   map[*Subscription]struct{}
}

func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		entities: make(map[entityKey]*entityState),
		logger:   logger,
		buffer:   defaultBuffer,
	}
}

// Subscribe registers interest in one entity. If a snapshot was published
// before the subscription started it is delivered first, so late joiners
// catch up on state instead of missing it.
func (b *Broker) Subscribe(kind EntityKind, entityID string) *Subscription {
	key := entityKey{kind: kind, id: entityID}
	sub := &Subscription{broker: b, key: key, ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state(key)
	st.subs[sub] = struct{}{}
	if st.latest != nil {
		sub.ch <- *st.latest
	}
	return sub
}

// Publish pushes an event to every live subscriber of the entity. Snapshot
// events replace the retained state handed to late joiners.
func (b *Broker) Publish(kind EntityKind, entityID, eventType string, snapshot bool, payload any) {
	key := entityKey{kind: kind, id: entityID}

	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state(key)
	st.seq++
	ev := Event{
		Kind:     kind,
		EntityID: entityID,
		Type:     eventType,
		Seq:      st.seq,
		Snapshot: snapshot,
		Payload:  payload,
		At:       time.Now().UTC(),
	}
	if snapshot {
		retained := ev
		st.latest = &retained
	}
	for sub := range st.subs {
		if sub.lagged {
			if st.latest == nil {
				sub.lagged = false
			} else if sub.trySend(*st.latest) {
				sub.lagged = false
				if snapshot {
					continue // the snapshot just sent is this event
				}
			} else {
				continue
			}
		}
		if !sub.trySend(ev) {
			if st.latest == nil {
				delete(st.subs, sub)
				sub.drop()
				if b.logger != nil {
					b.logger.Debug("fanout subscriber dropped", "kind", kind, "entity_id", entityID, "seq", ev.Seq)
				}
				continue
			}
			sub.lagged = true
			if b.logger != nil {
				b.logger.Debug("fanout subscriber lagged", "kind", kind, "entity_id", entityID, "seq", ev.Seq)
			}
		}
	}
}

func (b *Broker) state(key entityKey) *entityState {
	st, ok := b.entities[key]
	if !ok {
		st = &entityState{subs: make(map[*Subscription]struct{})}
		b.entities[key] = st
	}
	return st
}

func (b *Broker) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.entities[sub.key]
	if !ok {
		return
	}
	delete(st.subs, sub)
	if len(st.subs) == 0 && st.latest == nil {
		delete(b.entities, sub.key)
	}
}

// Subscription is one live feed over a single entity. Close is idempotent
// and leaves no residue in the broker.
type Subscription struct {
	broker *Broker
	key    entityKey
	ch     chan Event
	lagged bool
	once   sync.Once
}

func (s *Subscription) Events() <-chan Event {
	return s.ch
}

func (s *Subscription) Close() {
	s.broker.unsubscribe(s)
	s.once.Do(func() {
		close(s.ch)
	})
}

// drop closes the channel without touching broker state. Only Publish calls
// it, with the broker lock held and the subscription already removed.
func (s *Subscription) drop() {
	s.once.Do(func() {
		close(s.ch)
	})
}

func (s *Subscription) trySend(ev Event) bool {
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}
