package ai

import (
	"context"
	"io"
	"testing"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/vdmkenny/rpg-engine-sub003/internal/cache"
	"github.com/vdmkenny/rpg-engine-sub003/internal/clock"
	"github.com/vdmkenny/rpg-engine-sub003/internal/combat"
	"github.com/vdmkenny/rpg-engine-sub003/internal/gamestate"
	"github.com/vdmkenny/rpg-engine-sub003/internal/refdata"
	"github.com/vdmkenny/rpg-engine-sub003/internal/rng"
	"github.com/vdmkenny/rpg-engine-sub003/internal/transport"
)

// newTestTicker builds a ticker over an in-memory cache and the real
// reference data, with no durable store backing it and a real, empty
// connection manager as the broadcaster (Fanout over zero registered
// sessions is a safe no-op).
func newTestTicker(t *testing.T, clk clock.Clock, src rng.Source, spawnPoints []SpawnPoint) (*Ticker, *gamestate.World) {
	catalog, err := refdata.Load()
	if err != nil {
		t.Fatalf("refdata.Load: %v", err)
	}
	c := cache.NewMemory()
	inv := gamestate.NewInventoryManager(c, nil, catalog)
	equip := gamestate.NewEquipmentManager(c, nil, catalog, inv)
	skills := gamestate.NewSkillsManager(c, nil, catalog)
	players := gamestate.NewPlayerStateManager(c, nil, clk)
	entities := gamestate.NewEntityManager(c, clk)
	ground := gamestate.NewGroundItemManager(c, nil, clk, 60*time.Second, 300*time.Second, inv)

	world := &gamestate.World{
		Players: players, Inventory: inv, Equipment: equip,
		Skills: skills, Ground: ground, Entities: entities, Catalog: catalog,
	}
	fights := combat.New(world, catalog, clk, src, "overworld", 0, 0)
	conns := transport.NewConnectionManager()
	logger := charmlog.NewWithOptions(io.Discard, charmlog.Options{})
	tk := New(world, catalog, fights, clk, src, conns, logger, 5, 8, 0.5, spawnPoints)
	return tk, world
}

// seedInventory keeps a player's inventory cache non-empty so the death
// sequence's inventory read, on a lethal NPC hit, never falls through to the
// (nil, in these tests) store.
func seedInventory(ctx context.Context, t *testing.T, world *gamestate.World, playerID int64) {
	if err := world.Inventory.SetSlot(ctx, playerID, gamestate.MaxInventorySlots-1, gamestate.InventorySlot{ItemName: "goblin_ear", Quantity: 1}); err != nil {
		t.Fatalf("seedInventory: %v", err)
	}
}

func TestSpawnInitialCreatesOneInstancePerSpawnPoint(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())
	tk, world := newTestTicker(t, clk, rng.NewScripted(0.0), []SpawnPoint{
		{ID: "sp-1", EntityDefName: "goblin", MapID: "overworld", X: 5, Y: 5},
		{ID: "sp-2", EntityDefName: "rat", MapID: "overworld", X: 1, Y: 1},
	})

	if err := tk.SpawnInitial(ctx); err != nil {
		t.Fatalf("SpawnInitial: %v", err)
	}

	listed, err := world.Entities.ListByMap(ctx, "overworld")
	if err != nil || len(listed) != 2 {
		t.Fatalf("ListByMap = (%v, %v), want 2 instances", listed, err)
	}
}

func TestIdleAggressiveEntityEngagesNearbyPlayer(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())
	tk, world := newTestTicker(t, clk, rng.NewScripted(0.99), nil)

	const playerID = int64(1)
	if err := world.Players.RegisterOnline(ctx, playerID, "p"); err != nil {
		t.Fatalf("RegisterOnline: %v", err)
	}
	if err := world.Players.SetPosition(ctx, playerID, gamestate.Position{MapID: "overworld", X: 2, Y: 2}); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}

	inst, err := world.Entities.Spawn(ctx, "goblin", "overworld", 0, 0, 10, 4, "sp-1", 30)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := tk.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	after, ok, err := world.Entities.Get(ctx, inst.InstanceID)
	if err != nil || !ok {
		t.Fatalf("Get after tick = (_, %v, %v)", ok, err)
	}
	if after.State != gamestate.EntityWalk {
		t.Fatalf("state after aggro tick = %q, want walk", after.State)
	}
	if after.TargetPlayerID == nil || *after.TargetPlayerID != playerID {
		t.Fatalf("target after aggro tick = %v, want %d", after.TargetPlayerID, playerID)
	}
}

func TestIdleWithNoAggroTargetMayWander(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())
	// wanderChance draw (0.0) clears the threshold; the step direction draw
	// (IntN(4) on 0.0) picks "up".
	tk, world := newTestTicker(t, clk, rng.NewScripted(0.0, 0.0), nil)

	inst, err := world.Entities.Spawn(ctx, "goblin", "overworld", 2, 2, 10, 4, "sp-1", 30)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := tk.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	after, ok, err := world.Entities.Get(ctx, inst.InstanceID)
	if err != nil || !ok {
		t.Fatalf("Get after tick = (_, %v, %v)", ok, err)
	}
	if after.X != 2 || after.Y != 1 {
		t.Fatalf("position after wander tick = (%d,%d), want (2,1)", after.X, after.Y)
	}
}

func TestWalkSwitchesToAttackWhenTargetInRange(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())
	tk, world := newTestTicker(t, clk, rng.NewScripted(0.0), nil)

	const playerID = int64(1)
	_ = world.Players.RegisterOnline(ctx, playerID, "p")
	_ = world.Players.SetPosition(ctx, playerID, gamestate.Position{MapID: "overworld", X: 1, Y: 0})

	inst, err := world.Entities.Spawn(ctx, "goblin", "overworld", 0, 0, 10, 4, "sp-1", 30)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	inst.State = gamestate.EntityWalk
	inst.TargetPlayerID = &playerID
	if err := world.Entities.Update(ctx, inst); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := tk.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	after, ok, err := world.Entities.Get(ctx, inst.InstanceID)
	if err != nil || !ok {
		t.Fatalf("Get after tick = (_, %v, %v)", ok, err)
	}
	if after.State != gamestate.EntityAttack {
		t.Fatalf("state after adjacent walk tick = %q, want attack", after.State)
	}
}

func TestWalkDisengagesBeyondDisengageRadius(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())
	tk, world := newTestTicker(t, clk, rng.NewScripted(0.0), nil)

	const playerID = int64(1)
	_ = world.Players.RegisterOnline(ctx, playerID, "p")
	_ = world.Players.SetPosition(ctx, playerID, gamestate.Position{MapID: "overworld", X: 50, Y: 50})

	// Spawned at (0,0); the entity's own SpawnX/SpawnY are fixed there, so
	// moving it to (20,0) puts it 20 tiles from its leash point, past the
	// disengageRadius of 8 configured in newTestTicker.
	inst, err := world.Entities.Spawn(ctx, "goblin", "overworld", 0, 0, 10, 4, "sp-1", 30)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	inst.X = 20
	inst.State = gamestate.EntityWalk
	inst.TargetPlayerID = &playerID
	if err := world.Entities.Update(ctx, inst); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := tk.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	after, ok, err := world.Entities.Get(ctx, inst.InstanceID)
	if err != nil || !ok {
		t.Fatalf("Get after tick = (_, %v, %v)", ok, err)
	}
	if after.TargetPlayerID != nil {
		t.Fatalf("target after disengage = %v, want nil", after.TargetPlayerID)
	}
	if after.X != 19 {
		t.Fatalf("position after disengage step = %d, want stepping back toward spawn (19)", after.X)
	}
}

func TestAttackDealsDamageOnCooldownElapsed(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	// goblin's attack_bonus is 3; IntN(3/2+2) = IntN(3); 0.5 -> int(1.5) = 1 dmg.
	tk, world := newTestTicker(t, clk, rng.NewScripted(0.5), nil)

	const playerID = int64(1)
	_ = world.Players.RegisterOnline(ctx, playerID, "p")
	_ = world.Players.SetPosition(ctx, playerID, gamestate.Position{MapID: "overworld", X: 0, Y: 1})
	if err := world.Players.SetHP(ctx, playerID, gamestate.HP{Current: 20, Max: 20}); err != nil {
		t.Fatalf("SetHP: %v", err)
	}
	seedInventory(ctx, t, world, playerID)

	inst, err := world.Entities.Spawn(ctx, "goblin", "overworld", 0, 0, 10, 4, "sp-1", 30)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	inst.State = gamestate.EntityAttack
	inst.TargetPlayerID = &playerID
	if err := world.Entities.Update(ctx, inst); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := tk.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	hp, err := world.Players.GetHP(ctx, playerID)
	if err != nil {
		t.Fatalf("GetHP: %v", err)
	}
	if hp.Current != 19 {
		t.Fatalf("HP after attack tick = %d, want 19", hp.Current)
	}
}

func TestAttackWithheldUntilCooldownElapses(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	tk, world := newTestTicker(t, clk, rng.NewScripted(0.5), nil)

	const playerID = int64(1)
	_ = world.Players.RegisterOnline(ctx, playerID, "p")
	_ = world.Players.SetPosition(ctx, playerID, gamestate.Position{MapID: "overworld", X: 0, Y: 1})
	if err := world.Players.SetHP(ctx, playerID, gamestate.HP{Current: 20, Max: 20}); err != nil {
		t.Fatalf("SetHP: %v", err)
	}
	seedInventory(ctx, t, world, playerID)

	inst, err := world.Entities.Spawn(ctx, "goblin", "overworld", 0, 0, 10, 4, "sp-1", 30)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	inst.State = gamestate.EntityAttack
	inst.TargetPlayerID = &playerID
	inst.LastAttackTickUnix = float64(start.UnixNano()) / 1e9
	if err := world.Entities.Update(ctx, inst); err != nil {
		t.Fatalf("Update: %v", err)
	}

	clk.Advance(1 * time.Second)
	if err := tk.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	hp, err := world.Players.GetHP(ctx, playerID)
	if err != nil {
		t.Fatalf("GetHP: %v", err)
	}
	if hp.Current != 20 {
		t.Fatalf("HP after withheld attack = %d, want unchanged 20 (goblin's attack_speed_ticks is 3)", hp.Current)
	}
}

func TestDyingEntityIsRemovedAfterWindow(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	tk, world := newTestTicker(t, clk, rng.NewScripted(0.0), nil)

	inst, err := world.Entities.Spawn(ctx, "goblin", "overworld", 0, 0, 10, 4, "sp-1", 30)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	inst.State = gamestate.EntityDying
	inst.DyingAtUnix = float64(start.UnixNano()) / 1e9
	if err := world.Entities.Update(ctx, inst); err != nil {
		t.Fatalf("Update: %v", err)
	}

	clk.Advance(1 * time.Second)
	if err := tk.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if _, ok, _ := world.Entities.Get(ctx, inst.InstanceID); !ok {
		t.Fatal("dying entity removed before its window elapsed")
	}

	clk.Advance(2 * time.Second)
	if err := tk.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if _, ok, _ := world.Entities.Get(ctx, inst.InstanceID); ok {
		t.Fatal("dying entity still present after its window elapsed")
	}
}

func TestSweepRespawnsRecreatesAtSpawnPoint(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tk, world := newTestTicker(t, clk, rng.NewScripted(0.0), []SpawnPoint{
		{ID: "sp-1", EntityDefName: "goblin", MapID: "overworld", X: 5, Y: 5},
	})

	if err := world.Entities.ScheduleRespawn(ctx, "sp-1", float64(clk.Now().UnixNano())/1e9); err != nil {
		t.Fatalf("ScheduleRespawn: %v", err)
	}

	if err := tk.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	listed, err := world.Entities.ListByMap(ctx, "overworld")
	if err != nil || len(listed) != 1 {
		t.Fatalf("ListByMap after respawn sweep = (%v, %v), want 1 instance", listed, err)
	}
	if listed[0].X != 5 || listed[0].Y != 5 || listed[0].EntityDefName != "goblin" {
		t.Fatalf("respawned instance = %+v, want a goblin at (5,5)", listed[0])
	}
}
