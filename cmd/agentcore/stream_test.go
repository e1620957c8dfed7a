package main

import "testing"

func TestSSEStreamBuffersEventsBeforeSubscribe(t *testing.T) {
	s := newSSEStream()
	s.publish(sseEvent{name: "text", data: map[string]string{"delta": "hi"}})

	buffered, ch := s.subscribe()
	defer s.unsubscribe(ch)

	if len(buffered) != 1 || buffered[0].name != "text" {
		t.Fatalf("expected buffered event to be flushed on subscribe, got %+v", buffered)
	}
}

func TestSSEStreamFansOutLiveEvents(t *testing.T) {
	s := newSSEStream()
	_, ch := s.subscribe()
	defer s.unsubscribe(ch)

	s.publish(sseEvent{name: "done", data: map[string]string{"text": "ok"}})

	select {
	case ev := <-ch:
		if ev.name != "done" {
			t.Fatalf("expected done event, got %q", ev.name)
		}
	default:
		t.Fatalf("expected live event to be delivered to subscriber")
	}
}

func TestSSEStreamCloseClosesSubscriberChannels(t *testing.T) {
	s := newSSEStream()
	_, ch := s.subscribe()
	s.close()

	if _, ok := <-ch; ok {
		t.Fatalf("expected subscriber channel to be closed")
	}
}

func TestStreamRegistryCreateGetRemove(t *testing.T) {
	r := newStreamRegistry()
	r.create("stream-1", "web:42")

	if _, ok := r.get("stream-1"); !ok {
		t.Fatalf("expected stream to be registered")
	}
	if pk, ok := r.platformKeyFor("stream-1"); !ok || pk != "web:42" {
		t.Fatalf("expected platformKey web:42, got %q ok=%v", pk, ok)
	}

	r.remove("stream-1")
	if _, ok := r.get("stream-1"); ok {
		t.Fatalf("expected stream to be removed")
	}
}
