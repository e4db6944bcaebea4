package transport

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"

	"github.com/vdmkenny/rpg-engine-sub003/internal/combat"
	"github.com/vdmkenny/rpg-engine-sub003/internal/events"
	"github.com/vdmkenny/rpg-engine-sub003/internal/gamestate"
	"github.com/vdmkenny/rpg-engine-sub003/internal/movement"
	"github.com/vdmkenny/rpg-engine-sub003/internal/protocol"
	"github.com/vdmkenny/rpg-engine-sub003/internal/refdata"
	"github.com/vdmkenny/rpg-engine-sub003/internal/store"
)

// Dispatcher is the Command Dispatcher (spec.md §4.7, C9): envelope decode
// already happened in Session.ReadLoop; this is "route to service". Holds
// one-way references to every collaborator it calls, never the reverse.
type Dispatcher struct {
	world   *gamestate.World
	store   *store.Store
	catalog *refdata.Catalog
	moves   *movement.Service
	fights  *combat.Service
	conns   *ConnectionManager
	bus     *events.Broadcaster
	tokens  TokenVerifier
	logger  *charmlog.Logger
}

// New constructs a command dispatcher.
func New(world *gamestate.World, st *store.Store, catalog *refdata.Catalog, moves *movement.Service, fights *combat.Service, conns *ConnectionManager, bus *events.Broadcaster, tokens TokenVerifier, logger *charmlog.Logger) *Dispatcher {
	return &Dispatcher{world: world, store: st, catalog: catalog, moves: moves, fights: fights, conns: conns, bus: bus, tokens: tokens, logger: logger}
}

// Handle is the dispatcher's entry point, called directly from the reader
// goroutine per spec.md §9 ("the dispatcher is a plain function called from
// the reader").
func (d *Dispatcher) Handle(s *Session, env protocol.Envelope) {
	ctx := context.Background()

	if s.PlayerID == 0 {
		if env.Type != protocol.CmdAuthenticate {
			_ = s.Send(protocol.Error(env.ID, protocol.ReasonNotAuthenticated, "authenticate first"))
			s.Close()
			return
		}
		d.handleAuthenticate(ctx, s, env)
		return
	}

	switch env.Type {
	case protocol.CmdMove:
		d.handleMove(ctx, s, env)
	case protocol.CmdAttack:
		d.handleAttack(ctx, s, env)
	case protocol.CmdChunkRequest:
		d.handleChunkRequest(ctx, s, env)
	case protocol.CmdMoveInventoryItem:
		d.handleMoveInventoryItem(ctx, s, env)
	case protocol.CmdSortInventory:
		d.handleSortInventory(ctx, s, env)
	case protocol.CmdDropItem:
		d.handleDropItem(ctx, s, env)
	case protocol.CmdPickupItem:
		d.handlePickupItem(ctx, s, env)
	case protocol.CmdEquipItem:
		d.handleEquipItem(ctx, s, env)
	case protocol.CmdUnequipItem:
		d.handleUnequipItem(ctx, s, env)
	case protocol.CmdSendChatMessage:
		d.handleChatMessage(ctx, s, env)
	default:
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonNotImplemented, "unknown command"))
	}
}

func payloadString(env protocol.Envelope, field string) string {
	v, _ := env.Payload[field].(string)
	return v
}

func payloadInt(env protocol.Envelope, field string) int {
	switch v := env.Payload[field].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (d *Dispatcher) handleAuthenticate(ctx context.Context, s *Session, env protocol.Envelope) {
	token := payloadString(env, "token")
	username, err := d.tokens.Verify(ctx, token)
	if err != nil {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInvalidToken, "invalid token"))
		s.Close()
		return
	}

	row, err := d.store.GetPlayerByUsername(ctx, username)
	if err != nil {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInternal, "lookup failed"))
		s.Close()
		return
	}

	status := CheckAccountStatus(row, d.world.Players.Now())
	if !status.Allowed {
		_ = s.Send(protocol.Error(env.ID, status.Reason, "account unavailable"))
		s.Close()
		return
	}

	s.PlayerID = row.ID
	s.Username = row.Username
	s.MapID = row.MapID

	if err := d.world.Players.RegisterOnline(ctx, row.ID, row.Username); err != nil {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInternal, "register failed"))
		s.Close()
		return
	}
	if err := d.world.Skills.GrantAll(ctx, row.ID); err != nil {
		d.logger.Warn("grant_all failed", "player_id", row.ID, "err", err)
	}
	d.conns.Register(s)

	pos, _ := d.world.Players.GetPosition(ctx, row.ID)
	hp, _ := d.world.Players.GetHP(ctx, row.ID)

	_ = s.Send(protocol.Success(env.ID, map[string]any{
		"player_id": row.ID,
		"username":  row.Username,
	}))
	_ = s.Send(protocol.Event(newEventID(), protocol.EventWelcome, map[string]any{
		"player_id": row.ID,
		"position":  pos,
		"hp":        hp,
	}))
}

func (d *Dispatcher) handleMove(ctx context.Context, s *Session, env protocol.Envelope) {
	direction := payloadString(env, "direction")
	res, err := d.moves.Execute(ctx, s.PlayerID, direction)
	if err != nil {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInternal, err.Error()))
		return
	}
	if !res.Success {
		payload := map[string]any{"reason": res.Reason, "message": "move rejected"}
		if res.Reason == protocol.ReasonRateLimited {
			payload["cooldown_remaining_ms"] = res.CooldownRemaining.Milliseconds()
		}
		if res.Reason == protocol.ReasonBlocked {
			payload["collision"] = true
		}
		_ = s.Send(protocol.Envelope{ID: env.ID, Type: protocol.RespError, Payload: payload})
		return
	}

	_ = s.Send(protocol.Success(env.ID, map[string]any{"new_position": res.NewPosition}))
	if res.NewPosition.MapID != s.MapID {
		d.conns.Move(s, res.NewPosition.MapID)
	}
	d.conns.Fanout(res.NewPosition.MapID, ExceptPlayer(s.PlayerID), protocol.Event(newEventID(), protocol.EventStateUpdate, map[string]any{
		"player_id": s.PlayerID,
		"position":  res.NewPosition,
	}))
}

func (d *Dispatcher) handleAttack(ctx context.Context, s *Session, env protocol.Envelope) {
	targetType := payloadString(env, "target_type")
	targetID := payloadString(env, "target_id")

	if targetType != string(combat.TargetEntity) {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonNotImplemented, "pvp not implemented"))
		return
	}

	res, err := d.fights.AttackEntity(ctx, s.PlayerID, targetID)
	if err != nil {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInternal, err.Error()))
		return
	}
	if res.Reason != "" {
		payload := map[string]any{"reason": res.Reason, "message": "attack rejected"}
		if res.Reason == protocol.ReasonRateLimited {
			payload["cooldown_remaining_ms"] = res.CooldownRemaining.Milliseconds()
		}
		_ = s.Send(protocol.Envelope{ID: env.ID, Type: protocol.RespError, Payload: payload})
		return
	}

	_ = s.Send(protocol.Success(env.ID, map[string]any{
		"hit":            res.Hit,
		"damage":         res.Damage,
		"defender_hp":    res.DefenderHP,
		"defender_died":  res.DefenderDied,
		"xp_gained":      res.XPGained,
	}))

	if res.DefenderDied {
		d.conns.Fanout(s.MapID, AllSessions, protocol.Event(newEventID(), protocol.EventEntityDied, map[string]any{
			"target_type": targetType,
			"target_id":   targetID,
		}))
	}
}

func (d *Dispatcher) handleChunkRequest(ctx context.Context, s *Session, env protocol.Envelope) {
	mapID := payloadString(env, "map")
	cx := payloadInt(env, "cx")
	cy := payloadInt(env, "cy")

	entities, err := d.world.Entities.ListByMap(ctx, mapID)
	if err != nil {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInternal, err.Error()))
		return
	}
	ground, err := d.world.Ground.ListByMap(ctx, mapID)
	if err != nil {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInternal, err.Error()))
		return
	}

	_ = s.Send(protocol.Event(env.ID, protocol.EventChunkData, map[string]any{
		"map":      mapID,
		"cx":       cx,
		"cy":       cy,
		"entities": entities,
		"ground":   ground,
	}))
}

func (d *Dispatcher) handleMoveInventoryItem(ctx context.Context, s *Session, env protocol.Envelope) {
	from := payloadInt(env, "from_slot")
	to := payloadInt(env, "to_slot")

	inv, err := d.world.Inventory.GetInventory(ctx, s.PlayerID)
	if err != nil {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInternal, err.Error()))
		return
	}
	item, ok := inv[from]
	if !ok {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInvalidSlot, "source slot empty"))
		return
	}

	if dest, occupied := inv[to]; occupied {
		inv[from] = dest
	} else {
		delete(inv, from)
	}
	inv[to] = item

	if err := d.world.Inventory.ReplaceAll(ctx, s.PlayerID, inv); err != nil {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInternal, err.Error()))
		return
	}
	_ = s.Send(protocol.Success(env.ID, map[string]any{"from_slot": from, "to_slot": to}))
	d.notifyInventory(s)
}

// handleSortInventory compacts every stack to the lowest slots, keeping the
// stacks in their current slot order (it does not group by item name); see DESIGN.md for the open-question decision on whether
// same-item stacks preserve relative order (they do: this is a stable sort).
func (d *Dispatcher) handleSortInventory(ctx context.Context, s *Session, env protocol.Envelope) {
	inv, err := d.world.Inventory.GetInventory(ctx, s.PlayerID)
	if err != nil {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInternal, err.Error()))
		return
	}

	slots := make([]int, 0, len(inv))
	for slot := range inv {
		slots = append(slots, slot)
	}
	for i := 1; i < len(slots); i++ {
		for j := i; j > 0 && slots[j-1] > slots[j]; j-- {
			slots[j-1], slots[j] = slots[j], slots[j-1]
		}
	}

	sorted := make(map[int]gamestate.InventorySlot, len(inv))
	next := 0
	for _, slot := range slots {
		sorted[next] = inv[slot]
		next++
	}

	if err := d.world.Inventory.ReplaceAll(ctx, s.PlayerID, sorted); err != nil {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInternal, err.Error()))
		return
	}
	_ = s.Send(protocol.Success(env.ID, nil))
	d.notifyInventory(s)
}

func (d *Dispatcher) handleDropItem(ctx context.Context, s *Session, env protocol.Envelope) {
	slot := payloadInt(env, "slot")
	qty := payloadInt(env, "quantity")

	inv, err := d.world.Inventory.GetInventory(ctx, s.PlayerID)
	if err != nil {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInternal, err.Error()))
		return
	}
	item, ok := inv[slot]
	if !ok {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInvalidSlot, "empty slot"))
		return
	}
	if qty <= 0 || qty > item.Quantity {
		qty = item.Quantity
	}

	pos, err := d.world.Players.GetPosition(ctx, s.PlayerID)
	if err != nil {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInternal, err.Error()))
		return
	}
	playerID := s.PlayerID
	g, err := d.world.Ground.Create(ctx, pos.MapID, pos.X, pos.Y, item.ItemName, qty, item.Durability, &playerID)
	if err != nil {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInternal, err.Error()))
		return
	}

	if qty == item.Quantity {
		err = d.world.Inventory.DeleteSlot(ctx, s.PlayerID, slot)
	} else {
		item.Quantity -= qty
		err = d.world.Inventory.SetSlot(ctx, s.PlayerID, slot, item)
	}
	if err != nil {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInternal, err.Error()))
		return
	}

	_ = s.Send(protocol.Success(env.ID, map[string]any{"ground_id": g.ID}))
	d.notifyInventory(s)
	d.conns.Fanout(pos.MapID, AllSessions, protocol.Event(newEventID(), protocol.EventGroundItemSpawn, map[string]any{"ground_item": g}))
}

func (d *Dispatcher) handlePickupItem(ctx context.Context, s *Session, env protocol.Envelope) {
	groundID := payloadString(env, "ground_id")
	g, err := d.world.Ground.PickUp(ctx, s.PlayerID, groundID)
	if err != nil {
		reason := protocol.ReasonNotFound
		if err == gamestate.ErrInventoryFull {
			reason = protocol.ReasonInventoryFull
		}
		_ = s.Send(protocol.Error(env.ID, reason, err.Error()))
		return
	}
	_ = s.Send(protocol.Success(env.ID, map[string]any{"item_name": g.ItemName, "quantity": g.Quantity}))
	d.notifyInventory(s)
	d.conns.Fanout(g.MapID, AllSessions, protocol.Event(newEventID(), protocol.EventGroundItemDespawn, map[string]any{"ground_id": g.ID}))
}

func (d *Dispatcher) handleEquipItem(ctx context.Context, s *Session, env protocol.Envelope) {
	invSlot := payloadInt(env, "inv_slot")
	if err := d.world.Equipment.Equip(ctx, s.PlayerID, invSlot); err != nil {
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInvalidSlot, err.Error()))
		return
	}
	_ = s.Send(protocol.Success(env.ID, nil))
	d.notifyInventory(s)
	d.notifyEquipment(s)
}

func (d *Dispatcher) handleUnequipItem(ctx context.Context, s *Session, env protocol.Envelope) {
	eqSlot := payloadString(env, "eq_slot")
	if err := d.world.Equipment.Unequip(ctx, s.PlayerID, eqSlot); err != nil {
		reason := protocol.ReasonInvalidSlot
		if err == gamestate.ErrNoFreeSlot {
			reason = protocol.ReasonInventoryFull
		}
		_ = s.Send(protocol.Error(env.ID, reason, err.Error()))
		return
	}
	_ = s.Send(protocol.Success(env.ID, nil))
	d.notifyInventory(s)
	d.notifyEquipment(s)
}

// handleChatMessage relays chat, a supplemented feature (spec.md §1 treats
// chat channels as an external collaborator, but names the command surface
// in §6; the relay here is the minimum viable implementation of that
// surface: global/local fanout plus direct messages, no moderation).
func (d *Dispatcher) handleChatMessage(ctx context.Context, s *Session, env protocol.Envelope) {
	channel := payloadString(env, "channel")
	text := payloadString(env, "text")

	chatEvent := protocol.Event(newEventID(), protocol.EventChatMessage, map[string]any{
		"from_username": s.Username,
		"channel":       channel,
		"text":          text,
	})

	switch {
	case channel == protocol.ChatChannelGlobal:
		d.conns.Fanout(s.MapID, AllSessions, chatEvent)
		_ = d.bus.PublishGlobal(chatEvent)
	case channel == protocol.ChatChannelLocal:
		d.conns.Fanout(s.MapID, AllSessions, chatEvent)
	case strings.HasPrefix(channel, "dm:"):
		target := strings.TrimPrefix(channel, "dm:")
		row, err := d.store.GetPlayerByUsername(ctx, target)
		if err != nil {
			_ = s.Send(protocol.Error(env.ID, protocol.ReasonNotFound, "unknown recipient"))
			return
		}
		if targetSession, ok := d.conns.SessionFor(row.ID); ok {
			_ = targetSession.Send(chatEvent)
		}
	default:
		_ = s.Send(protocol.Error(env.ID, protocol.ReasonInvalidSlot, "unknown channel"))
		return
	}

	_ = s.Send(protocol.Success(env.ID, nil))
}

func (d *Dispatcher) notifyInventory(s *Session) {
	inv, err := d.world.Inventory.GetInventory(context.Background(), s.PlayerID)
	if err != nil {
		return
	}
	_ = s.Send(protocol.Event(newEventID(), protocol.EventInventoryUpdate, map[string]any{"inventory": inv}))
}

func (d *Dispatcher) notifyEquipment(s *Session) {
	eq, err := d.world.Equipment.GetEquipment(context.Background(), s.PlayerID)
	if err != nil {
		return
	}
	_ = s.Send(protocol.Event(newEventID(), protocol.EventEquipmentUpdate, map[string]any{"equipment": eq}))
}

// Disconnect runs the disconnect-time housekeeping: combat state clear,
// unregister, notify the map.
func (d *Dispatcher) Disconnect(s *Session) {
	ctx := context.Background()
	if s.PlayerID == 0 {
		return
	}
	_ = d.world.Players.ClearCombatState(ctx, s.PlayerID)
	_ = d.world.Players.UnregisterOnline(ctx, s.PlayerID, s.Username)
	d.conns.Unregister(s)
	d.conns.Fanout(s.MapID, AllSessions, protocol.Event(newEventID(), protocol.EventPlayerDisconnect, map[string]any{
		"player_id": s.PlayerID,
	}))
}

var eventIDCounter atomic.Uint64

// newEventID mints a fresh event id. Server-pushed events get a fresh id
// per spec.md §4.7 ("events pushed by the server have a fresh id"); this
// does not need to be globally unique, only distinguishable within one
// session's FIFO stream, so a monotonic counter is enough.
func newEventID() string {
	return fmt.Sprintf("evt-%d", eventIDCounter.Add(1))
}
