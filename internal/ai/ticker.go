// Package ai is the Entity AI Tick (spec.md §4.9, C11): aggro, wander,
// attack, death, and the respawn sweeper, running on a single ticker.
// Grounded in ezynda3-shell-shock-showdown's npc.go tick-driven state
// machine (it already ticks tanks through idle/patrol/engage states on a
// timer) and in main.go's pattern of spinning up a dedicated ticker
// goroutine at startup; the five states here (idle/walk/attack/dying/dead)
// are spec.md §3's entity instance state machine rather than the teacher's
// 3D patrol states.
package ai

import (
	"context"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/vdmkenny/rpg-engine-sub003/internal/clock"
	"github.com/vdmkenny/rpg-engine-sub003/internal/combat"
	"github.com/vdmkenny/rpg-engine-sub003/internal/gamestate"
	"github.com/vdmkenny/rpg-engine-sub003/internal/namegen"
	"github.com/vdmkenny/rpg-engine-sub003/internal/protocol"
	"github.com/vdmkenny/rpg-engine-sub003/internal/refdata"
	"github.com/vdmkenny/rpg-engine-sub003/internal/rng"
	"github.com/vdmkenny/rpg-engine-sub003/internal/transport"
)

// Broadcaster is the subset of the connection manager the ticker needs to
// announce state changes; kept narrow so the coupling to transport is a
// single method.
type Broadcaster interface {
	Fanout(mapID string, predicate transport.Predicate, env protocol.Envelope)
}

// SpawnPoint is a static (map, x, y) with a referenced entity definition
// and a stable id, spec.md §GLOSSARY. Out of scope collaborators (the TMX
// map parser) would normally produce this list; here it's seeded directly.
type SpawnPoint struct {
	ID            string
	EntityDefName string
	MapID         string
	X, Y          int
}

// Ticker drives every live entity instance's state machine and the respawn
// sweeper.
type Ticker struct {
	world   *gamestate.World
	catalog *refdata.Catalog
	fights  *combat.Service
	clk     clock.Clock
	src     rng.Source
	conns   Broadcaster
	logger  *charmlog.Logger

	aggroRadius     int
	disengageRadius int
	wanderChance    float64

	spawnPoints map[string]SpawnPoint
	maps        []string
}

// New constructs an AI ticker over a fixed set of spawn points.
func New(world *gamestate.World, catalog *refdata.Catalog, fights *combat.Service, clk clock.Clock, src rng.Source, conns Broadcaster, logger *charmlog.Logger, aggroRadius, disengageRadius int, wanderChance float64, spawnPoints []SpawnPoint) *Ticker {
	t := &Ticker{
		world: world, catalog: catalog, fights: fights, clk: clk, src: src, conns: conns, logger: logger,
		aggroRadius: aggroRadius, disengageRadius: disengageRadius, wanderChance: wanderChance,
		spawnPoints: make(map[string]SpawnPoint, len(spawnPoints)),
	}
	mapSet := map[string]struct{}{}
	for _, sp := range spawnPoints {
		t.spawnPoints[sp.ID] = sp
		mapSet[sp.MapID] = struct{}{}
	}
	for mapID := range mapSet {
		t.maps = append(t.maps, mapID)
	}
	return t
}

// SpawnInitial spawns one live instance per configured spawn point, for
// server startup.
func (t *Ticker) SpawnInitial(ctx context.Context) error {
	for id, sp := range t.spawnPoints {
		def, ok := t.catalog.Entity(sp.EntityDefName)
		if !ok {
			continue
		}
		inst, err := t.world.Entities.Spawn(ctx, sp.EntityDefName, sp.MapID, sp.X, sp.Y, def.MaxHP, def.WanderRadius, id, def.RespawnDelaySeconds)
		if err != nil {
			return err
		}
		if err := t.nameInstance(ctx, inst, def); err != nil {
			return err
		}
	}
	return nil
}

// nameInstance assigns a flavor-adjective display name with a disambiguating
// numeric suffix, so two goblins from the same spawn point read as distinct
// in logs and chunk payloads.
func (t *Ticker) nameInstance(ctx context.Context, inst gamestate.EntityInstance, def refdata.EntityDef) error {
	inst.DisplayName = namegen.Flavor(t.src) + " " + def.DisplayName + " " + namegen.Suffix(t.src)
	return t.world.Entities.Update(ctx, inst)
}

// Run drives the ticker until ctx is canceled, firing every interval.
func (t *Ticker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Tick(ctx); err != nil {
				t.logger.Warn("ai tick failed", "err", err)
			}
		}
	}
}

// Tick advances every live entity instance one step and sweeps due
// respawns, per spec.md §4.9.
func (t *Ticker) Tick(ctx context.Context) error {
	for _, mapID := range t.maps {
		instances, err := t.world.Entities.ListByMap(ctx, mapID)
		if err != nil {
			return err
		}
		for _, inst := range instances {
			if err := t.step(ctx, inst); err != nil {
				t.logger.Warn("entity step failed", "instance_id", inst.InstanceID, "err", err)
			}
		}
	}
	return t.sweepRespawns(ctx)
}

func (t *Ticker) step(ctx context.Context, inst gamestate.EntityInstance) error {
	switch inst.State {
	case gamestate.EntityIdle:
		return t.stepIdle(ctx, inst)
	case gamestate.EntityWalk:
		return t.stepWalk(ctx, inst)
	case gamestate.EntityAttack:
		return t.stepAttack(ctx, inst)
	case gamestate.EntityDying:
		return t.stepDying(ctx, inst)
	}
	return nil
}

func (t *Ticker) stepIdle(ctx context.Context, inst gamestate.EntityInstance) error {
	def, ok := t.catalog.Entity(inst.EntityDefName)
	if !ok {
		return nil
	}

	if def.Behavior == "aggressive" {
		nearby, err := t.world.Players.GetNearbyPlayerIDs(ctx, gamestate.Position{MapID: inst.MapID, X: inst.X, Y: inst.Y}, inst.MapID, t.aggroRadius, 0)
		if err != nil {
			return err
		}
		if len(nearby) > 0 {
			target := nearby[0]
			inst.TargetPlayerID = &target
			inst.State = gamestate.EntityWalk
			return t.world.Entities.Update(ctx, inst)
		}
	}

	if t.src.Float64() < t.wanderChance {
		dx, dy := t.randomStep()
		newX, newY := inst.X+dx, inst.Y+dy
		if chebyshev(newX, newY, inst.SpawnX, inst.SpawnY) <= inst.WanderRadius {
			inst.X, inst.Y = newX, newY
			return t.world.Entities.Update(ctx, inst)
		}
	}
	return nil
}

func (t *Ticker) stepWalk(ctx context.Context, inst gamestate.EntityInstance) error {
	if inst.TargetPlayerID == nil {
		return t.walkToSpawn(ctx, inst)
	}
	targetID := *inst.TargetPlayerID

	if chebyshev(inst.X, inst.Y, inst.SpawnX, inst.SpawnY) > t.disengageRadius {
		inst.TargetPlayerID = nil
		return t.walkToSpawn(ctx, inst)
	}

	pos, err := t.world.Players.GetPosition(ctx, targetID)
	if err != nil {
		return err
	}
	if pos.MapID != inst.MapID {
		inst.TargetPlayerID = nil
		inst.State = gamestate.EntityIdle
		return t.world.Entities.Update(ctx, inst)
	}

	if chebyshev(inst.X, inst.Y, pos.X, pos.Y) <= 1 {
		inst.State = gamestate.EntityAttack
		return t.world.Entities.Update(ctx, inst)
	}

	dx, dy := stepToward(inst.X, inst.Y, pos.X, pos.Y)
	inst.X += dx
	inst.Y += dy
	return t.world.Entities.Update(ctx, inst)
}

func (t *Ticker) walkToSpawn(ctx context.Context, inst gamestate.EntityInstance) error {
	if inst.X == inst.SpawnX && inst.Y == inst.SpawnY {
		inst.State = gamestate.EntityIdle
		return t.world.Entities.Update(ctx, inst)
	}
	dx, dy := stepToward(inst.X, inst.Y, inst.SpawnX, inst.SpawnY)
	inst.X += dx
	inst.Y += dy
	return t.world.Entities.Update(ctx, inst)
}

func (t *Ticker) stepAttack(ctx context.Context, inst gamestate.EntityInstance) error {
	if inst.TargetPlayerID == nil {
		inst.State = gamestate.EntityIdle
		return t.world.Entities.Update(ctx, inst)
	}
	targetID := *inst.TargetPlayerID

	def, _ := t.catalog.Entity(inst.EntityDefName)
	now := unixFloat(t.clk)
	if now-inst.LastAttackTickUnix < float64(def.AttackSpeedTicks) {
		return nil
	}

	pos, err := t.world.Players.GetPosition(ctx, targetID)
	if err != nil {
		return err
	}
	if chebyshev(inst.X, inst.Y, pos.X, pos.Y) > 1 {
		inst.State = gamestate.EntityWalk
		return t.world.Entities.Update(ctx, inst)
	}

	hp, err := t.world.Players.GetHP(ctx, targetID)
	if err != nil {
		return err
	}
	if hp.Current <= 0 {
		inst.TargetPlayerID = nil
		inst.State = gamestate.EntityIdle
		return t.world.Entities.Update(ctx, inst)
	}

	// DealDamage's own death sequence (killPlayer/Respawn) leaves the player
	// back at full HP at the spawn point by the time it returns, so death is
	// read off the pre-attack HP here rather than off the returned value.
	damage := t.src.IntN(def.AttackBonus/2 + 2)
	killingBlow := damage >= hp.Current
	newHP, err := t.fights.DealDamage(ctx, targetID, damage)
	if err != nil {
		return err
	}

	inst.LastAttackTickUnix = now
	if killingBlow {
		inst.TargetPlayerID = nil
		inst.State = gamestate.EntityIdle
	}
	if err := t.world.Entities.Update(ctx, inst); err != nil {
		return err
	}

	if !killingBlow {
		t.conns.Fanout(inst.MapID, transport.AllSessions, protocol.Event("", protocol.EventStateUpdate, map[string]any{
			"player_id": targetID,
			"hp":        newHP.Current,
			"max_hp":    newHP.Max,
		}))
		return nil
	}

	respawnPos, err := t.world.Players.GetPosition(ctx, targetID)
	if err != nil {
		return err
	}
	t.conns.Fanout(inst.MapID, transport.AllSessions, protocol.Event("", protocol.EventPlayerDied, map[string]any{
		"player_id": targetID,
	}))
	t.conns.Fanout(inst.MapID, transport.AllSessions, protocol.Event("", protocol.EventPlayerRespawn, map[string]any{
		"player_id": targetID,
		"position":  respawnPos,
		"hp":        newHP.Current,
		"max_hp":    newHP.Max,
	}))
	return nil
}

func (t *Ticker) stepDying(ctx context.Context, inst gamestate.EntityInstance) error {
	const dyingWindowSeconds = 2.0
	if unixFloat(t.clk)-inst.DyingAtUnix < dyingWindowSeconds {
		return nil
	}
	return t.world.Entities.Remove(ctx, inst)
}

func (t *Ticker) sweepRespawns(ctx context.Context) error {
	due, err := t.world.Entities.DueRespawns(ctx, unixFloat(t.clk))
	if err != nil {
		return err
	}
	for _, spawnPointID := range due {
		sp, ok := t.spawnPoints[spawnPointID]
		if !ok {
			continue
		}
		def, ok := t.catalog.Entity(sp.EntityDefName)
		if !ok {
			continue
		}
		inst, err := t.world.Entities.Spawn(ctx, sp.EntityDefName, sp.MapID, sp.X, sp.Y, def.MaxHP, def.WanderRadius, spawnPointID, def.RespawnDelaySeconds)
		if err != nil {
			return err
		}
		if err := t.nameInstance(ctx, inst, def); err != nil {
			return err
		}
	}
	return nil
}

func (t *Ticker) randomStep() (int, int) {
	switch t.src.IntN(4) {
	case 0:
		return 0, -1
	case 1:
		return 0, 1
	case 2:
		return -1, 0
	default:
		return 1, 0
	}
}

func stepToward(x, y, tx, ty int) (dx, dy int) {
	if x < tx {
		dx = 1
	} else if x > tx {
		dx = -1
	}
	if dx == 0 {
		if y < ty {
			dy = 1
		} else if y > ty {
			dy = -1
		}
	}
	return dx, dy
}

func chebyshev(x1, y1, x2, y2 int) int {
	dx := x1 - x2
	if dx < 0 {
		dx = -dx
	}
	dy := y1 - y2
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

func unixFloat(clk clock.Clock) float64 {
	return float64(clk.Now().UnixNano()) / 1e9
}
