package workflow

import (
	"sync"
	"time"
)

// Event is one committed change delivered to in-process subscribers.
type Event struct {
	ID            int       `json:"id"`
	BusinessId    string    `json:"business_id"`
	ReferenceType string    `json:"reference_type"`
	ReferenceId   int       `json:"reference_id"`
	Action        string    `json:"action"`
	Payload       []byte    `json:"payload"`
	Actor         string    `json:"actor"`
	CorrelationId string    `json:"correlation_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// EventFilter selects events by tenant and/or entity type. Zero values match
// everything.
type EventFilter struct {
	BusinessId    string
	ReferenceType string
}

func (f EventFilter) matches(e Event) bool {
	if f.BusinessId != "" && f.BusinessId != e.BusinessId {
		return false
	}
	if f.ReferenceType != "" && f.ReferenceType != e.ReferenceType {
		return false
	}
	return true
}

type subscriber struct {
	filter EventFilter
	ch     chan Event
}

// Changefeed fans committed outbox events out to in-process subscribers.
// Delivery is best-effort: a subscriber that stops draining loses events
// rather than blocking the dispatcher.
type Changefeed struct {
	mu     sync.RWMutex
	nextId int
	subs   map[int]*subscriber
}

func NewChangefeed() *Changefeed {
	return &Changefeed{subs: make(map[int]*subscriber)}
}

const subscriberBuffer = 64

// Subscribe registers a filtered subscription. The returned cancel func
// closes the channel and must be called exactly once.
func (c *Changefeed) Subscribe(filter EventFilter) (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextId
	c.nextId++
	sub := &subscriber{
		filter: filter,
		ch:     make(chan Event, subscriberBuffer),
	}
	c.subs[id] = sub

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if s, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

func (c *Changefeed) Publish(e Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, sub := range c.subs {
		if !sub.filter.matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// subscriber is not draining; drop instead of stalling dispatch
		}
	}
}
