package eventbus

import "testing"

func TestOverflowDropsOldest(t *testing.T) {
	b := New()
	sub := b.Subscribe(3)
	defer b.Unsubscribe(sub)

	for i := 1; i <= 5; i++ {
		b.Publish(Event{Kind: "n", Data: map[string]any{"n": i}})
	}

	var got []int
	for len(got) < 3 {
		e := <-sub
		got = append(got, e.Data["n"].(int))
	}
	want := []int{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe(1)
	b.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("expected channel to be closed")
	}
	// Unsubscribing twice must not panic.
	b.Unsubscribe(sub)
}

func TestSubscriberCount(t *testing.T) {
	b := New()
	if b.SubscriberCount() != 0 {
		t.Fatal("expected 0 subscribers")
	}
	sub := b.Subscribe(1)
	if b.SubscriberCount() != 1 {
		t.Fatal("expected 1 subscriber")
	}
	b.Unsubscribe(sub)
	if b.SubscriberCount() != 0 {
		t.Fatal("expected 0 subscribers after unsubscribe")
	}
}

func TestPublishDeliversInOrderWhenNotFull(t *testing.T) {
	b := New()
	sub := b.Subscribe(10)
	defer b.Unsubscribe(sub)
	for i := 1; i <= 3; i++ {
		b.Publish(Event{Kind: "n", Data: map[string]any{"n": i}})
	}
	for i := 1; i <= 3; i++ {
		e := <-sub
		if e.Data["n"].(int) != i {
			t.Fatalf("got %v, want %d", e.Data["n"], i)
		}
	}
}
