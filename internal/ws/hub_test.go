package ws

import (
	"errors"
	"testing"
	"time"
)

func TestBroadcastReachesOwnSubscribersOnly(t *testing.T) {
	h := NewHub()
	first := newFakeSubscriber(nil)
	second := newFakeSubscriber(nil)
	other := newFakeSubscriber(nil)
	h.Subscribe("user-1", first)
	h.Subscribe("user-1", second)
	h.Subscribe("user-2", other)

	h.Broadcast("user-1", []byte(`{"name":"device.registered"}`))

	for _, sub := range []*fakeSubscriber{first, second} {
		if got := sub.await(t); string(got) != `{"name":"device.registered"}` {
			t.Fatalf("unexpected payload: %s", got)
		}
	}
	select {
	case payload := <-other.received:
		t.Fatalf("subscriber of another user received %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub()
	sub := newFakeSubscriber(nil)
	h.Subscribe("user-1", sub)
	h.Unsubscribe("user-1", sub)

	h.Broadcast("user-1", []byte("payload"))

	select {
	case payload := <-sub.received:
		t.Fatalf("unsubscribed client received %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFailedSubscriberIsDropped(t *testing.T) {
	h := NewHub()
	broken := newFakeSubscriber(errors.New("connection gone"))
	healthy := newFakeSubscriber(nil)
	h.Subscribe("user-1", broken)
	h.Subscribe("user-1", healthy)

	h.Broadcast("user-1", []byte("one"))
	healthy.await(t)
	broken.await(t)

	h.Broadcast("user-1", []byte("two"))
	healthy.await(t)

	select {
	case payload := <-broken.received:
		t.Fatalf("dropped subscriber received %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeSubscriber struct {
	received chan []byte
	sendErr  error
}

func newFakeSubscriber(sendErr error) *fakeSubscriber {
	return &fakeSubscriber{received: make(chan []byte, 8), sendErr: sendErr}
}

func (f *fakeSubscriber) Send(payload []byte) error {
	f.received <- payload
	return f.sendErr
}

func (f *fakeSubscriber) Close() {}

func (f *fakeSubscriber) await(t *testing.T) []byte {
	t.Helper()
	select {
	case payload := <-f.received:
		return payload
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for delivery")
		return nil
	}
}
