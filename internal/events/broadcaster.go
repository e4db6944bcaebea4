// Package events is the Event Broadcaster (spec.md §4.8, C10): observes
// manager mutations and synthesizes envelopes for nearby/relevant sessions.
// Grounded in ezynda3-shell-shock-showdown's main.go, which boots an
// embedded nats-server and publishes game events over NATS core pub/sub;
// repurposed here from "snapshot the whole game into JetStream KV" (now
// Redis's job) to a pure internal fan-out bus that the connection manager
// subscribes to.
package events

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/vdmkenny/rpg-engine-sub003/internal/protocol"
)

// Broadcaster publishes envelopes onto internal NATS subjects; the
// connection manager (transport package) subscribes and fans them out to
// sessions. Delivery is best-effort per spec.md §4.8.
type Broadcaster struct {
	nc *nats.Conn
}

// New wraps an already-connected NATS client.
func New(nc *nats.Conn) *Broadcaster {
	return &Broadcaster{nc: nc}
}

// subjectForMap scopes map-local broadcasts (state updates, chat) to the
// map they belong to, so a session only subscribes to the maps it cares
// about.
func subjectForMap(mapID string) string { return "world.map." + mapID }

// subjectForPlayer scopes direct-to-session delivery (welcome, dm chat).
func subjectForPlayer(playerID int64) string { return fmt.Sprintf("world.player.%d", playerID) }

// subjectGlobal scopes broadcasts meant for every connected session.
const subjectGlobal = "world.global"

// PublishToMap emits an envelope to every session subscribed to a map.
func (b *Broadcaster) PublishToMap(mapID string, env protocol.Envelope) error {
	body, err := protocol.MarshalFrame(env)
	if err != nil {
		return err
	}
	return b.nc.Publish(subjectForMap(mapID), body)
}

// PublishToPlayer emits an envelope to one specific session.
func (b *Broadcaster) PublishToPlayer(playerID int64, env protocol.Envelope) error {
	body, err := protocol.MarshalFrame(env)
	if err != nil {
		return err
	}
	return b.nc.Publish(subjectForPlayer(playerID), body)
}

// PublishGlobal emits an envelope to every connected session, used for
// event_server_shutdown and global chat.
func (b *Broadcaster) PublishGlobal(env protocol.Envelope) error {
	body, err := protocol.MarshalFrame(env)
	if err != nil {
		return err
	}
	return b.nc.Publish(subjectGlobal, body)
}

// Subscription is a handle the connection manager holds per session so it
// can unsubscribe on disconnect.
type Subscription struct {
	mapSub    *nats.Subscription
	playerSub *nats.Subscription
	globalSub *nats.Subscription
}

// Handler receives a decoded envelope already bound for one session.
type Handler func(protocol.Envelope)

// SubscribeSession wires a session's delivery: its current map's broadcasts,
// its own direct subject, and the global subject. Called once per session
// at registration; call Subscription.Close on disconnect.
func (b *Broadcaster) SubscribeSession(ctx context.Context, playerID int64, mapID string, handler Handler) (*Subscription, error) {
	deliver := func(msg *nats.Msg) {
		env, err := protocol.UnmarshalFrame(msg.Data)
		if err != nil {
			return
		}
		handler(env)
	}

	mapSub, err := b.nc.Subscribe(subjectForMap(mapID), deliver)
	if err != nil {
		return nil, err
	}
	playerSub, err := b.nc.Subscribe(subjectForPlayer(playerID), deliver)
	if err != nil {
		mapSub.Unsubscribe()
		return nil, err
	}
	globalSub, err := b.nc.Subscribe(subjectGlobal, deliver)
	if err != nil {
		mapSub.Unsubscribe()
		playerSub.Unsubscribe()
		return nil, err
	}
	return &Subscription{mapSub: mapSub, playerSub: playerSub, globalSub: globalSub}, nil
}

// Close unsubscribes every subject this session was listening on.
func (s *Subscription) Close() {
	if s.mapSub != nil {
		s.mapSub.Unsubscribe()
	}
	if s.playerSub != nil {
		s.playerSub.Unsubscribe()
	}
	if s.globalSub != nil {
		s.globalSub.Unsubscribe()
	}
}

// Rebind moves a session's map subscription when it changes maps (e.g. a
// teleport crossing a map boundary).
func (b *Broadcaster) Rebind(sub *Subscription, playerID int64, newMapID string, handler Handler) error {
	if sub.mapSub != nil {
		if err := sub.mapSub.Unsubscribe(); err != nil {
			return err
		}
	}
	deliver := func(msg *nats.Msg) {
		env, err := protocol.UnmarshalFrame(msg.Data)
		if err != nil {
			return
		}
		handler(env)
	}
	mapSub, err := b.nc.Subscribe(subjectForMap(newMapID), deliver)
	if err != nil {
		return err
	}
	sub.mapSub = mapSub
	return nil
}
