package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	b := NewBroker()
	id1, ch1 := b.Subscribe()
	id2, ch2 := b.Subscribe()
	defer b.Unsubscribe(id1)
	defer b.Unsubscribe(id2)

	b.PublishJSON(TypeStatus, map[string]string{"message": "hello"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Type != TypeStatus {
				t.Fatalf("type = %q, want %q", evt.Type, TypeStatus)
			}
			var payload map[string]string
			if err := json.Unmarshal(evt.Payload, &payload); err != nil {
				t.Fatalf("unmarshal payload: %v", err)
			}
			if payload["message"] != "hello" {
				t.Fatalf("unexpected payload %v", payload)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	id, ch := b.Subscribe()
	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	if b.ClientCount() != 0 {
		t.Fatalf("ClientCount = %d, want 0", b.ClientCount())
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroker()
	id, _ := b.Subscribe()
	defer b.Unsubscribe(id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBufSize*2; i++ {
			b.PublishJSON(TypeSeries, map[string]int{"i": i})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestSSEHandlerStreamsAndFilters(t *testing.T) {
	b := NewBroker()

	req := httptest.NewRequest("GET", "/api/v1/events?types=status", nil)
	w := httptest.NewRecorder()

	handlerDone := make(chan struct{})
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	go func() {
		defer close(handlerDone)
		SSEHandler(b)(w, req)
	}()

	// Wait for the subscriber to register before publishing.
	deadline := time.Now().Add(time.Second)
	for b.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.PublishJSON(TypeTracker, map[string]string{"id": "slot-1"})
	b.PublishJSON(TypeStatus, map[string]string{"message": "bought AAPL"})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-handlerDone

	body := w.Body.String()
	if !strings.Contains(body, "event: status") {
		t.Fatalf("status event missing from stream:\n%s", body)
	}
	if strings.Contains(body, "event: tracker") {
		t.Fatalf("filtered tracker event leaked into stream:\n%s", body)
	}
}
