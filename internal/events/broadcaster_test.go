package events

import (
	"context"
	"testing"
	"time"

	"github.com/delaneyj/toolbelt/embeddednats"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/vdmkenny/rpg-engine-sub003/internal/protocol"
)

// newTestBroadcaster boots an in-process embedded NATS server, the same
// way cmd/server/main.go does, and connects a client to it over
// nats.InProcessServer so no TCP port is ever bound.
func newTestBroadcaster(t *testing.T) (*Broadcaster, *nats.Conn) {
	ctx := context.Background()
	ns, err := embeddednats.New(ctx,
		embeddednats.WithDirectory(t.TempDir()),
		embeddednats.WithNATSServerOptions(&server.Options{}),
	)
	if err != nil {
		t.Fatalf("embeddednats.New: %v", err)
	}
	ns.NatsServer.Start()
	ns.WaitForServer()
	t.Cleanup(ns.NatsServer.Shutdown)

	nc, err := nats.Connect(ns.NatsServer.ClientURL(),
		nats.Name("test"),
		nats.InProcessServer(ns.NatsServer),
	)
	if err != nil {
		t.Fatalf("nats.Connect: %v", err)
	}
	t.Cleanup(nc.Close)

	return New(nc), nc
}

func awaitEnvelope(t *testing.T, ch <-chan protocol.Envelope) protocol.Envelope {
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope delivery")
		return protocol.Envelope{}
	}
}

func TestPublishToMapDeliversToSubscribedSession(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	ctx := context.Background()

	received := make(chan protocol.Envelope, 1)
	sub, err := b.SubscribeSession(ctx, 1, "overworld", func(env protocol.Envelope) {
		received <- env
	})
	if err != nil {
		t.Fatalf("SubscribeSession: %v", err)
	}
	defer sub.Close()

	want := protocol.Event("e1", protocol.EventStateUpdate, map[string]any{"x": int64(5)})
	if err := b.PublishToMap("overworld", want); err != nil {
		t.Fatalf("PublishToMap: %v", err)
	}

	got := awaitEnvelope(t, received)
	if got.ID != want.ID || got.Type != want.Type {
		t.Fatalf("delivered envelope = %+v, want %+v", got, want)
	}
}

func TestPublishToMapDoesNotReachASessionOnAnotherMap(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	ctx := context.Background()

	received := make(chan protocol.Envelope, 1)
	sub, err := b.SubscribeSession(ctx, 1, "dungeon", func(env protocol.Envelope) {
		received <- env
	})
	if err != nil {
		t.Fatalf("SubscribeSession: %v", err)
	}
	defer sub.Close()

	if err := b.PublishToMap("overworld", protocol.Event("e1", protocol.EventStateUpdate, nil)); err != nil {
		t.Fatalf("PublishToMap: %v", err)
	}

	select {
	case env := <-received:
		t.Fatalf("unexpected delivery to a session on a different map: %+v", env)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPublishToPlayerReachesOnlyThatPlayersSubject(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	ctx := context.Background()

	receivedA := make(chan protocol.Envelope, 1)
	receivedB := make(chan protocol.Envelope, 1)
	subA, err := b.SubscribeSession(ctx, 1, "overworld", func(env protocol.Envelope) { receivedA <- env })
	if err != nil {
		t.Fatalf("SubscribeSession A: %v", err)
	}
	defer subA.Close()
	subB, err := b.SubscribeSession(ctx, 2, "overworld", func(env protocol.Envelope) { receivedB <- env })
	if err != nil {
		t.Fatalf("SubscribeSession B: %v", err)
	}
	defer subB.Close()

	want := protocol.Event("dm-1", protocol.EventStateUpdate, map[string]any{"whisper": "hi"})
	if err := b.PublishToPlayer(1, want); err != nil {
		t.Fatalf("PublishToPlayer: %v", err)
	}

	got := awaitEnvelope(t, receivedA)
	if got.ID != want.ID {
		t.Fatalf("player A envelope = %+v, want %+v", got, want)
	}
	select {
	case env := <-receivedB:
		t.Fatalf("unexpected delivery to player B: %+v", env)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPublishGlobalReachesEverySession(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	ctx := context.Background()

	receivedA := make(chan protocol.Envelope, 1)
	receivedB := make(chan protocol.Envelope, 1)
	subA, err := b.SubscribeSession(ctx, 1, "overworld", func(env protocol.Envelope) { receivedA <- env })
	if err != nil {
		t.Fatalf("SubscribeSession A: %v", err)
	}
	defer subA.Close()
	subB, err := b.SubscribeSession(ctx, 2, "dungeon", func(env protocol.Envelope) { receivedB <- env })
	if err != nil {
		t.Fatalf("SubscribeSession B: %v", err)
	}
	defer subB.Close()

	want := protocol.Event("shutdown-1", protocol.EventStateUpdate, nil)
	if err := b.PublishGlobal(want); err != nil {
		t.Fatalf("PublishGlobal: %v", err)
	}

	if got := awaitEnvelope(t, receivedA); got.ID != want.ID {
		t.Fatalf("player A envelope = %+v, want %+v", got, want)
	}
	if got := awaitEnvelope(t, receivedB); got.ID != want.ID {
		t.Fatalf("player B envelope = %+v, want %+v", got, want)
	}
}

func TestRebindMovesMapSubscription(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	ctx := context.Background()

	received := make(chan protocol.Envelope, 1)
	handler := func(env protocol.Envelope) { received <- env }
	sub, err := b.SubscribeSession(ctx, 1, "overworld", handler)
	if err != nil {
		t.Fatalf("SubscribeSession: %v", err)
	}
	defer sub.Close()

	if err := b.Rebind(sub, 1, "dungeon", handler); err != nil {
		t.Fatalf("Rebind: %v", err)
	}

	// The old map no longer reaches this session.
	if err := b.PublishToMap("overworld", protocol.Event("stale", protocol.EventStateUpdate, nil)); err != nil {
		t.Fatalf("PublishToMap(overworld): %v", err)
	}
	select {
	case env := <-received:
		t.Fatalf("unexpected delivery on the old map after rebind: %+v", env)
	case <-time.After(200 * time.Millisecond):
	}

	// The new map does.
	want := protocol.Event("fresh", protocol.EventStateUpdate, nil)
	if err := b.PublishToMap("dungeon", want); err != nil {
		t.Fatalf("PublishToMap(dungeon): %v", err)
	}
	got := awaitEnvelope(t, received)
	if got.ID != want.ID {
		t.Fatalf("envelope after rebind = %+v, want %+v", got, want)
	}
}

