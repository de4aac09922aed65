package stream

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewEvent(t *testing.T) {
	t.Parallel()

	evt := NewEvent("board.refresh", "tenant-a", map[string]string{"application_id": "app-1"})
	if evt.Type != "board.refresh" {
		t.Fatalf("expected type board.refresh, got %q", evt.Type)
	}
	if evt.Tenant != "tenant-a" {
		t.Fatalf("expected tenant-a, got %q", evt.Tenant)
	}
	if evt.At == "" {
		t.Fatal("expected timestamp")
	}
	var payload map[string]string
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["application_id"] != "app-1" {
		t.Fatalf("expected application_id=app-1, got %q", payload["application_id"])
	}
}

func TestPublishScopesToTenant(t *testing.T) {
	t.Parallel()

	h := NewHub()
	a := h.Subscribe("tenant-a", 1)
	b := h.Subscribe("tenant-b", 1)
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	h.Publish(NewEvent("board.refresh", "tenant-a", nil))

	select {
	case evt := <-a:
		if evt.Tenant != "tenant-a" {
			t.Fatalf("unexpected tenant: %q", evt.Tenant)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for tenant-a event")
	}

	select {
	case evt := <-b:
		t.Fatalf("tenant-b must not receive tenant-a events, got %q", evt.Type)
	default:
	}
}

func TestPublishReachesCrossTenantSubscribers(t *testing.T) {
	t.Parallel()

	h := NewHub()
	admin := h.Subscribe("", 2)
	defer h.Unsubscribe(admin)

	h.Publish(NewEvent("lead.created", "tenant-a", nil))
	h.Publish(NewEvent("shift.booked", "tenant-b", nil))

	for _, want := range []string{"tenant-a", "tenant-b"} {
		select {
		case evt := <-admin:
			if evt.Tenant != want {
				t.Fatalf("expected %s event, got %q", want, evt.Tenant)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s event on admin feed", want)
		}
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch := h.Subscribe("tenant-a", 1)
	h.Unsubscribe(ch)
	// Must not panic on repeated calls.
	h.Unsubscribe(ch)
	if n := h.Subscribers("tenant-a"); n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch := h.Subscribe("tenant-a", 1)
	defer h.Unsubscribe(ch)

	h.Publish(NewEvent("first", "tenant-a", nil))
	h.Publish(NewEvent("second", "tenant-a", nil))

	select {
	case evt := <-ch:
		if evt.Type != "first" {
			t.Fatalf("expected first event to remain in buffer, got %q", evt.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for first event")
	}

	select {
	case evt := <-ch:
		t.Fatalf("did not expect second buffered event, got %q", evt.Type)
	default:
	}
}

func TestSubscribeUsesDefaultBuffer(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch := h.Subscribe("tenant-a", 0)
	defer h.Unsubscribe(ch)
	if cap(ch) != 32 {
		t.Fatalf("expected default buffer 32, got %d", cap(ch))
	}
}

func TestPresenceTouchAndViewers(t *testing.T) {
	t.Parallel()

	p := NewPresence(30 * time.Second)
	p.Touch("tenant-a/pipeline", "user-2")
	p.Touch("tenant-a/pipeline", "user-1")
	p.Touch("tenant-b/pipeline", "user-3")

	got := p.Viewers("tenant-a/pipeline")
	if len(got) != 2 || got[0] != "user-1" || got[1] != "user-2" {
		t.Fatalf("unexpected viewers: %v", got)
	}
	if got := p.Viewers("tenant-b/pipeline"); len(got) != 1 || got[0] != "user-3" {
		t.Fatalf("unexpected tenant-b viewers: %v", got)
	}
}

func TestPresenceExpiry(t *testing.T) {
	t.Parallel()

	p := NewPresence(30 * time.Second)
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return current }

	p.Touch("board", "user-1")
	current = current.Add(10 * time.Second)
	p.Touch("board", "user-2")
	current = current.Add(25 * time.Second)

	got := p.Viewers("board")
	if len(got) != 1 || got[0] != "user-2" {
		t.Fatalf("expected only user-2 after expiry, got %v", got)
	}
}

func TestPresenceLeaveAndSweep(t *testing.T) {
	t.Parallel()

	p := NewPresence(30 * time.Second)
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return current }

	p.Touch("board", "user-1")
	p.Leave("board", "user-1")
	if got := p.Viewers("board"); len(got) != 0 {
		t.Fatalf("expected empty board after leave, got %v", got)
	}

	p.Touch("board", "user-1")
	current = current.Add(time.Minute)
	p.Sweep()
	if len(p.boards) != 0 {
		t.Fatalf("expected sweep to drop empty boards, got %v", p.boards)
	}
}
