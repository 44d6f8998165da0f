// bus.go
package bus

import (
	"sync"
)

// -----------------------------------------------------------------------------
// Topics
// -----------------------------------------------------------------------------

// Topic is a path of string levels, e.g. {"component", "aht20", "status"}.
// In a subscription, a level of "+" matches any single level.
type Topic []string

// Wildcard matches any single topic level in a subscription.
const Wildcard = "+"

// T is a convenience constructor: bus.T("component", name, "status").
func T(levels ...string) Topic { return Topic(levels) }

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

// Message carries one payload on one topic. Retained messages are stored and
// replayed to later subscribers, so a subscriber always sees the latest
// status without waiting for the next change.
type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	topic Topic
	ch    chan *Message
	bus   *Bus
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.bus.unsubscribe(s) }

// matches reports whether the subscription topic matches a concrete topic.
func (s *Subscription) matches(t Topic) bool {
	if len(s.topic) != len(t) {
		return false
	}
	for i, level := range s.topic {
		if level != Wildcard && level != t[i] {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

// Bus is a small retained-message pub/sub hub used for component status and
// measurement distribution. Publishing never blocks: when a subscriber's
// queue is full the oldest message is dropped to make room.
type Bus struct {
	mu       sync.RWMutex
	subs     []*Subscription
	retained map[string]*Message // joined topic -> latest retained message
	qLen     int
}

// New creates a bus with the given per-subscription queue length.
func New(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8 // safe default
	}
	return &Bus{
		retained: map[string]*Message{},
		qLen:     queueLen,
	}
}

// NewMessage builds a message for Publish.
func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// Subscribe registers a subscription. Retained messages matching the topic
// are delivered immediately.
func (b *Bus) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan *Message, b.qLen),
		bus:   b,
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	for _, msg := range b.retained {
		if sub.matches(msg.Topic) {
			deliver(sub, msg)
		}
	}
	b.mu.Unlock()
	return sub
}

// Publish delivers a message to every matching subscriber and updates the
// retained store when the message is retained. A retained message with a nil
// payload clears the stored entry.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	for _, sub := range b.subs {
		if sub.matches(msg.Topic) {
			deliver(sub, msg)
		}
	}
	if msg.Retained {
		key := msg.Topic.join()
		if msg.Payload == nil {
			delete(b.retained, key)
		} else {
			b.retained[key] = msg
		}
	}
	b.mu.Unlock()
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	close(sub.ch)
}

// deliver enqueues without blocking, dropping the oldest message if full.
// Caller holds b.mu.
func deliver(sub *Subscription, msg *Message) {
	select {
	case sub.ch <- msg:
	default:
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- msg
	}
}

func (t Topic) join() string {
	s := ""
	for i, level := range t {
		if i > 0 {
			s += "/"
		}
		s += level
	}
	return s
}

// String renders the topic as a slash-joined path for diagnostics.
func (t Topic) String() string { return t.join() }
