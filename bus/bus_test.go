// bus/bus_test.go
package bus

import (
	"testing"
	"time"
)

func expectPayload(t *testing.T, sub *Subscription, want any) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		if got.Payload != want {
			t.Errorf("expected payload %v, got %v", want, got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timeout waiting for %v on %s", want, sub.Topic())
	}
}

func expectNoMessage(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		t.Errorf("unexpected message %v on %s", got.Payload, sub.Topic())
	default:
	}
}

func TestBasicPubSub(t *testing.T) {
	b := New(4)
	sub := b.Subscribe(T("component", "uptime", "status"))

	b.Publish(b.NewMessage(T("component", "uptime", "status"), "hello", false))
	expectPayload(t, sub, "hello")
}

func TestRetainedMessage(t *testing.T) {
	b := New(2)
	b.Publish(b.NewMessage(T("component", "aht20", "status"), "persist", true))

	// Subscriber arrives after the publish and still sees the latest value.
	sub := b.Subscribe(T("component", "aht20", "status"))
	expectPayload(t, sub, "persist")
}

func TestRetainedClear(t *testing.T) {
	b := New(2)
	b.Publish(b.NewMessage(T("a", "b"), "v", true))
	b.Publish(b.NewMessage(T("a", "b"), nil, true))

	sub := b.Subscribe(T("a", "b"))
	expectNoMessage(t, sub)
}

// -----------------------------------------------------------------------------
// Wildcards
// -----------------------------------------------------------------------------

func TestWildcard_SingleLevel(t *testing.T) {
	b := New(16)

	s1 := b.Subscribe(T("component", Wildcard, "status"))
	s2 := b.Subscribe(T("component", Wildcard, Wildcard))
	sNo := b.Subscribe(T("component", Wildcard, "value"))

	b.Publish(b.NewMessage(T("component", "button", "status"), "m1", false))

	expectPayload(t, s1, "m1")
	expectPayload(t, s2, "m1")
	expectNoMessage(t, sNo)
}

func TestWildcard_LengthMustMatch(t *testing.T) {
	b := New(4)
	s := b.Subscribe(T("component", Wildcard))
	b.Publish(b.NewMessage(T("component", "uptime", "status"), "m", false))
	expectNoMessage(t, s)
}

// -----------------------------------------------------------------------------
// Queue behaviour
// -----------------------------------------------------------------------------

func TestDropOldestWhenFull(t *testing.T) {
	b := New(2)
	sub := b.Subscribe(T("x"))

	b.Publish(b.NewMessage(T("x"), 1, false))
	b.Publish(b.NewMessage(T("x"), 2, false))
	b.Publish(b.NewMessage(T("x"), 3, false)) // displaces 1

	expectPayload(t, sub, 2)
	expectPayload(t, sub, 3)
	expectNoMessage(t, sub)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(2)
	sub := b.Subscribe(T("x"))
	sub.Unsubscribe()

	if _, ok := <-sub.Channel(); ok {
		t.Fatal("expected closed channel after unsubscribe")
	}

	// Publishing after unsubscribe must not panic or deliver.
	b.Publish(b.NewMessage(T("x"), "late", false))
}
