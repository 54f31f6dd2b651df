package realtime

import (
	"io"
	"log/slog"
	"testing"

	v1 "pulse/shared/contracts/realtime/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherSendToConnectedPrincipal(t *testing.T) {
	d := NewDispatcher(testLogger(), NewRegistry())

	c := NewClient("p1", "c1", 8)
	if displaced := d.Attach(c); displaced != nil {
		t.Fatalf("unexpected displaced client: %v", displaced.ConnectionID)
	}

	if !d.Send("p1", v1.TypeMessageNew, v1.MessageNewPayload{From: "p2", Text: "hi"}) {
		t.Fatalf("Send to connected principal returned false")
	}

	select {
	case env := <-c.Send:
		if env.Type != v1.TypeMessageNew {
			t.Fatalf("type = %q", env.Type)
		}
		if env.V != v1.Version || env.ID == "" {
			t.Fatalf("malformed envelope: %+v", env)
		}
	default:
		t.Fatalf("nothing enqueued")
	}
}

func TestDispatcherSendToOfflinePrincipal(t *testing.T) {
	d := NewDispatcher(testLogger(), NewRegistry())

	if d.Send("ghost", v1.TypeMessageNew, v1.MessageNewPayload{Text: "hi"}) {
		t.Fatalf("Send to offline principal returned true")
	}

	// A detached client is offline again.
	c := NewClient("p1", "c1", 8)
	d.Attach(c)
	d.Detach(c)
	if d.Send("p1", v1.TypeMessageNew, v1.MessageNewPayload{Text: "hi"}) {
		t.Fatalf("Send after detach returned true")
	}
}

func TestDispatcherDropsOnFullQueue(t *testing.T) {
	d := NewDispatcher(testLogger(), NewRegistry())

	c := NewClient("p1", "c1", 1)
	d.Attach(c)

	if !d.Send("p1", v1.TypePong, v1.PongPayload{}) {
		t.Fatalf("first send must fill the queue")
	}
	if d.Send("p1", v1.TypePong, v1.PongPayload{}) {
		t.Fatalf("second send must drop, not block")
	}
}

func TestDispatcherSkipsClosingClient(t *testing.T) {
	d := NewDispatcher(testLogger(), NewRegistry())

	c := NewClient("p1", "c1", 8)
	d.Attach(c)
	c.Close()

	if d.Send("p1", v1.TypePong, v1.PongPayload{}) {
		t.Fatalf("Send to a closing client returned true")
	}
}

func TestDispatcherSendManyCountsPartialDelivery(t *testing.T) {
	d := NewDispatcher(testLogger(), NewRegistry())

	online1 := NewClient("p1", "c1", 8)
	online2 := NewClient("p2", "c2", 8)
	full := NewClient("p3", "c3", 1)
	d.Attach(online1)
	d.Attach(online2)
	d.Attach(full)

	// Saturate p3's queue so its delivery is dropped.
	if !d.Send("p3", v1.TypePong, v1.PongPayload{}) {
		t.Fatalf("priming p3 failed")
	}

	n := d.SendMany([]string{"p1", "p2", "p3", "offline"}, v1.TypeMessageNew, v1.MessageNewPayload{Text: "fanout"})
	if n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
}

func TestDispatcherReconnectDisplacesOldClient(t *testing.T) {
	d := NewDispatcher(testLogger(), NewRegistry())

	old := NewClient("p1", "c-old", 8)
	if displaced := d.Attach(old); displaced != nil {
		t.Fatalf("unexpected displaced: %v", displaced.ConnectionID)
	}

	cur := NewClient("p1", "c-new", 8)
	displaced := d.Attach(cur)
	if displaced != old {
		t.Fatalf("displaced = %v, want the old client", displaced)
	}

	// Envelopes route to the new connection only.
	if !d.Send("p1", v1.TypePong, v1.PongPayload{}) {
		t.Fatalf("Send after reconnect failed")
	}
	select {
	case <-cur.Send:
	default:
		t.Fatalf("new client got nothing")
	}
	select {
	case env := <-old.Send:
		t.Fatalf("old client received %q after displacement", env.Type)
	default:
	}

	// The old client's own late detach must not disturb the new mapping.
	d.Detach(old)
	if !d.Send("p1", v1.TypePong, v1.PongPayload{}) {
		t.Fatalf("stale detach broke the live mapping")
	}
}

func TestDispatcherBroadcast(t *testing.T) {
	d := NewDispatcher(testLogger(), NewRegistry())

	a := NewClient("p1", "c1", 8)
	b := NewClient("p2", "c2", 8)
	d.Attach(a)
	d.Attach(b)

	if n := d.Broadcast(v1.TypeMessageNew, v1.MessageNewPayload{Text: "all"}); n != 2 {
		t.Fatalf("Broadcast delivered %d, want 2", n)
	}
	for _, c := range []*Client{a, b} {
		select {
		case <-c.Send:
		default:
			t.Fatalf("client %s got nothing", c.ConnectionID)
		}
	}
}
