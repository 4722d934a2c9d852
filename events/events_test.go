package events

import "testing"

func TestBus_PublishSubscribe(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(4)
	defer cancel()

	b.Publish(Event{Type: MetadataUpdated, Path: "a.md"})
	e := <-ch
	if e.Type != MetadataUpdated || e.Path != "a.md" {
		t.Fatalf("event: got %+v", e)
	}
	if e.Time.IsZero() {
		t.Fatal("time not stamped")
	}
}

func TestBus_SlowSubscriberDrops(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(Event{Type: ChunkRendered})
	b.Publish(Event{Type: Restored}) // buffer full, dropped

	if e := <-ch; e.Type != ChunkRendered {
		t.Fatalf("got %q, want %q", e.Type, ChunkRendered)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %q", e.Type)
	default:
	}
}

func TestBus_Cancel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	if b.Subscribers() != 1 {
		t.Fatalf("Subscribers: got %d", b.Subscribers())
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("Subscribers after cancel: got %d", b.Subscribers())
	}
	b.Publish(Event{Type: AnnotationAdded})
}

func TestBus_Nil(t *testing.T) {
	var b *Bus
	b.Publish(Event{Type: AnnotationDeleted})
	if b.Subscribers() != 0 {
		t.Fatal("nil bus has no subscribers")
	}
}
