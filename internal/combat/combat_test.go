package combat

import (
	"context"
	"testing"
	"time"

	"github.com/vdmkenny/rpg-engine-sub003/internal/cache"
	"github.com/vdmkenny/rpg-engine-sub003/internal/clock"
	"github.com/vdmkenny/rpg-engine-sub003/internal/gamestate"
	"github.com/vdmkenny/rpg-engine-sub003/internal/protocol"
	"github.com/vdmkenny/rpg-engine-sub003/internal/refdata"
	"github.com/vdmkenny/rpg-engine-sub003/internal/rng"
)

const attackerID = int64(1)

// newTestService builds a combat service over an in-memory cache and the
// real reference data, with no durable store backing it; every test seeds
// whatever state it reads so no code path falls through to the (nil) store.
func newTestService(t *testing.T, clk clock.Clock, src rng.Source) (*Service, *gamestate.World) {
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
		Players:   players,
		Inventory: inv,
		Equipment: equip,
		Skills:    skills,
		Ground:    ground,
		Entities:  entities,
		Catalog:   catalog,
	}
	return New(world, catalog, clk, src, "overworld", 0, 0), world
}

// unarmedAttacker positions the attacker and gives them an equipped item
// with no combat bonuses, so GetEquipment's cache hits without needing the
// inventory or store to be populated beyond this seed.
func unarmedAttacker(t *testing.T, ctx context.Context, world *gamestate.World, playerID int64, x, y int) {
	if err := world.Players.SetPosition(ctx, playerID, gamestate.Position{MapID: "overworld", X: x, Y: y}); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	if err := world.Skills.GrantAll(ctx, playerID); err != nil {
		t.Fatalf("GrantAll: %v", err)
	}
	seedInventory(t, ctx, world, playerID)
	if err := world.Inventory.AddItem(ctx, playerID, "arrow", 1); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := world.Equipment.Equip(ctx, playerID, 0); err != nil {
		t.Fatalf("Equip: %v", err)
	}
}

// seedInventory gives a player one indestructible placeholder slot so later
// GetInventory calls hit the cache instead of falling through to the (nil,
// in these tests) durable store.
func seedInventory(t *testing.T, ctx context.Context, world *gamestate.World, playerID int64) {
	if err := world.Inventory.SetSlot(ctx, playerID, gamestate.MaxInventorySlots-1, gamestate.InventorySlot{ItemName: "goblin_ear", Quantity: 1}); err != nil {
		t.Fatalf("seedInventory: %v", err)
	}
}

func TestLethalAttackOnGoblinGrantsExactXP(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	// Scripted: first draw clears the hit-chance threshold, second yields
	// damage=1 against an unarmed attacker's maxHit of 1.
	src := rng.NewScripted(0.1, 0.9)
	svc, world := newTestService(t, clk, src)

	unarmedAttacker(t, ctx, world, attackerID, 0, 0)

	inst, err := world.Entities.Spawn(ctx, "goblin", "overworld", 0, 0, 10, 4, "spawn-1", 30)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	inst.CurrentHP = 1
	if err := world.Entities.Update(ctx, inst); err != nil {
		t.Fatalf("Update: %v", err)
	}

	res, err := svc.AttackEntity(ctx, attackerID, inst.InstanceID)
	if err != nil {
		t.Fatalf("AttackEntity: %v", err)
	}
	if !res.Hit || res.Damage != 1 {
		t.Fatalf("AttackEntity result = %+v, want a 1-damage hit", res)
	}
	if res.DefenderHP != 0 || !res.DefenderDied {
		t.Fatalf("AttackEntity result = %+v, want defender at 0 hp, died", res)
	}

	want := map[string]int64{"attack": 4, "strength": 4, "hitpoints": 1}
	for skill, xp := range want {
		if got := res.XPGained[skill]; got != xp {
			t.Fatalf("XPGained[%q] = %d, want %d", skill, got, xp)
		}
	}

	after, ok, err := world.Entities.Get(ctx, inst.InstanceID)
	if err != nil || !ok {
		t.Fatalf("Get after attack = (_, %v, %v)", ok, err)
	}
	if after.State != gamestate.EntityDying {
		t.Fatalf("entity state after death = %q, want dying", after.State)
	}
}

func TestAttackingADeadEntityFails(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())
	svc, world := newTestService(t, clk, rng.NewScripted(0.01, 0.0))

	unarmedAttacker(t, ctx, world, attackerID, 0, 0)

	inst, err := world.Entities.Spawn(ctx, "goblin", "overworld", 0, 0, 10, 4, "spawn-1", 30)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	inst.State = gamestate.EntityDying
	if err := world.Entities.Update(ctx, inst); err != nil {
		t.Fatalf("Update: %v", err)
	}

	res, err := svc.AttackEntity(ctx, attackerID, inst.InstanceID)
	if err != nil {
		t.Fatalf("AttackEntity: %v", err)
	}
	if res.Reason != protocol.ReasonDead {
		t.Fatalf("AttackEntity on dying entity = %+v, want reason dead", res)
	}
}

func TestOutOfRangeAttackFails(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())
	svc, world := newTestService(t, clk, rng.NewScripted(0.01, 0.0))

	unarmedAttacker(t, ctx, world, attackerID, 10, 10)

	inst, err := world.Entities.Spawn(ctx, "goblin", "overworld", 30, 30, 10, 4, "spawn-1", 30)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	res, err := svc.AttackEntity(ctx, attackerID, inst.InstanceID)
	if err != nil {
		t.Fatalf("AttackEntity: %v", err)
	}
	if res.Reason != protocol.ReasonTooFar {
		t.Fatalf("AttackEntity out of range = %+v, want reason too_far", res)
	}
}

func TestAttackOnUnknownInstanceReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())
	svc, world := newTestService(t, clk, rng.NewScripted(0.01, 0.0))

	unarmedAttacker(t, ctx, world, attackerID, 0, 0)

	res, err := svc.AttackEntity(ctx, attackerID, "does-not-exist")
	if err != nil {
		t.Fatalf("AttackEntity: %v", err)
	}
	if res.Reason != protocol.ReasonNotFound {
		t.Fatalf("AttackEntity on unknown instance = %+v, want reason not_found", res)
	}
}

func TestMissedAttackGrantsNoXP(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())
	// A hit-chance draw of 0.99 misses against any plausible attack/defence
	// ratio in these fixtures.
	src := rng.NewScripted(0.99)
	svc, world := newTestService(t, clk, src)

	unarmedAttacker(t, ctx, world, attackerID, 0, 0)

	inst, err := world.Entities.Spawn(ctx, "goblin", "overworld", 0, 0, 10, 4, "spawn-1", 30)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	res, err := svc.AttackEntity(ctx, attackerID, inst.InstanceID)
	if err != nil {
		t.Fatalf("AttackEntity: %v", err)
	}
	if res.Hit {
		t.Fatalf("AttackEntity result = %+v, want a miss", res)
	}
	if len(res.XPGained) != 0 {
		t.Fatalf("XPGained on a miss = %+v, want empty", res.XPGained)
	}
}

func TestDealDamageClampsAtZeroAndTriggersDeathSequence(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())
	svc, world := newTestService(t, clk, rng.NewScripted(0.01, 0.0))

	const victim = int64(2)
	if err := world.Players.SetPosition(ctx, victim, gamestate.Position{MapID: "dungeon", X: 7, Y: 7}); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	if err := world.Players.SetHP(ctx, victim, gamestate.HP{Current: 5, Max: 20}); err != nil {
		t.Fatalf("SetHP: %v", err)
	}
	seedInventory(t, ctx, world, victim)
	if err := world.Inventory.AddItem(ctx, victim, "bronze_sword", 1); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	hp, err := svc.DealDamage(ctx, victim, 9999)
	if err != nil {
		t.Fatalf("DealDamage: %v", err)
	}
	if hp.Current != hp.Max {
		t.Fatalf("HP after death+respawn = %+v, want full HP (death sequence restores it)", hp)
	}

	pos, err := world.Players.GetPosition(ctx, victim)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos.MapID != "overworld" || pos.X != 0 || pos.Y != 0 {
		t.Fatalf("position after respawn = %+v, want the configured spawn point", pos)
	}

	dropped, err := world.Ground.ListByMap(ctx, "dungeon")
	if err != nil {
		t.Fatalf("ListByMap: %v", err)
	}
	if len(dropped) != 1 || dropped[0].ItemName != "bronze_sword" {
		t.Fatalf("dropped ground items = %+v, want one bronze_sword at the death location", dropped)
	}
}
