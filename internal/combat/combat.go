// Package combat is the Combat / HP Service (spec.md §4.6, C7): hit/damage
// resolution, death, respawn, and XP award. Grounded in
// ezynda3-shell-shock-showdown's game.Manager.ProcessTankHit/RespawnTank,
// generalized from a fixed splash-damage tank hit into the attacker/target
// bonus-vs-defence roll spec.md §4.6 describes, with the weapon range and
// hit formula inputs read from reference data rather than hardcoded, per
// spec.md §9.
package combat

import (
	"context"
	"errors"
	"time"

	"github.com/vdmkenny/rpg-engine-sub003/internal/clock"
	"github.com/vdmkenny/rpg-engine-sub003/internal/gamestate"
	"github.com/vdmkenny/rpg-engine-sub003/internal/protocol"
	"github.com/vdmkenny/rpg-engine-sub003/internal/refdata"
	"github.com/vdmkenny/rpg-engine-sub003/internal/rng"
)

// ErrNotImplemented is returned for player-vs-player attacks, spec.md §4.6.
var ErrNotImplemented = errors.New(protocol.ReasonNotImplemented)

// TargetType distinguishes entities from players as attack targets.
type TargetType string

const (
	TargetEntity TargetType = "entity"
	TargetPlayer TargetType = "player"
)

// AttackResult mirrors spec.md §4.6's attack() return contract.
type AttackResult struct {
	Hit               bool
	Damage            int
	DefenderHP        int
	DefenderDied      bool
	XPGained          map[string]int64
	Reason            string
	CooldownRemaining time.Duration
}

// Service is the Combat / HP Service.
type Service struct {
	world   *gamestate.World
	catalog *refdata.Catalog
	clk     clock.Clock
	src     rng.Source
	spawnX, spawnY int
	spawnMap       string
}

// New constructs a combat service. spawnMap/spawnX/spawnY is the map-defined
// respawn point used by the player death sequence (spec.md §4.6); a real
// deployment would read this per-map from the map loader, out of scope here.
func New(world *gamestate.World, catalog *refdata.Catalog, clk clock.Clock, src rng.Source, spawnMap string, spawnX, spawnY int) *Service {
	return &Service{world: world, catalog: catalog, clk: clk, src: src, spawnMap: spawnMap, spawnX: spawnX, spawnY: spawnY}
}

// AmmoConsumedOnMissToo records the decision for spec.md §9's open question:
// ammunition is consumed on every ranged attack attempt, hit or miss — this
// matches how quivers behave in the genre this reference data is modeled
// on (you nock an arrow whether or not it lands) and keeps ammo accounting
// a pure function of attack count rather than of a still-pending roll.
const AmmoConsumedOnMissToo = true

// AttackEntity resolves a player attacking a live entity instance.
func (s *Service) AttackEntity(ctx context.Context, attackerID int64, instanceID string) (AttackResult, error) {
	inst, ok, err := s.world.Entities.Get(ctx, instanceID)
	if err != nil {
		return AttackResult{}, err
	}
	if !ok {
		return AttackResult{Reason: protocol.ReasonNotFound}, nil
	}
	if inst.State == gamestate.EntityDying || inst.State == gamestate.EntityDead {
		return AttackResult{Reason: protocol.ReasonDead}, nil
	}

	pos, err := s.world.Players.GetPosition(ctx, attackerID)
	if err != nil {
		return AttackResult{}, err
	}
	weaponRange, err := s.world.Equipment.WeaponRange(ctx, attackerID)
	if err != nil {
		return AttackResult{}, err
	}
	if chebyshev(pos.X, pos.Y, inst.X, inst.Y) > weaponRange {
		return AttackResult{Reason: protocol.ReasonTooFar}, nil
	}

	attackSpeedTicks, err := s.world.Equipment.WeaponAttackSpeedTicks(ctx, attackerID)
	if err != nil {
		return AttackResult{}, err
	}
	attackSpeed := time.Duration(attackSpeedTicks) * time.Second
	now := unixFloat(s.clk)
	cs, hasCombatState, err := s.world.Players.GetCombatState(ctx, attackerID)
	if err != nil {
		return AttackResult{}, err
	}
	if hasCombatState {
		if elapsed := now - cs.LastAttackUnix; elapsed < float64(attackSpeedTicks) {
			return AttackResult{Reason: protocol.ReasonRateLimited, CooldownRemaining: attackSpeed - time.Duration(elapsed*float64(time.Second))}, nil
		}
	}

	def, _ := s.catalog.Entity(inst.EntityDefName)

	if err := s.consumeAmmoIfRanged(ctx, attackerID); err != nil {
		return AttackResult{}, err
	}

	if err := s.world.Players.SetCombatState(ctx, attackerID, gamestate.CombatState{
		TargetType:     string(TargetEntity),
		TargetID:       instanceID,
		LastAttackUnix: now,
		AttackSpeed:    float64(attackSpeedTicks),
	}); err != nil {
		return AttackResult{}, err
	}

	hit, damage, err := s.rollAttack(ctx, attackerID, 1, def.DefenceBonus)
	if err != nil {
		return AttackResult{}, err
	}
	if damage > inst.CurrentHP {
		damage = inst.CurrentHP
	}

	res := AttackResult{Hit: hit, Damage: damage, XPGained: map[string]int64{}}

	if hit && damage > 0 {
		inst.CurrentHP -= damage
		xp := damage * 4
		hpXP := (damage * 4) / 3

		if _, err := s.world.Skills.AddExperience(ctx, attackerID, "attack", int64(xp)); err != nil {
			return AttackResult{}, err
		}
		if _, err := s.world.Skills.AddExperience(ctx, attackerID, "strength", int64(xp)); err != nil {
			return AttackResult{}, err
		}
		if _, err := s.world.Skills.AddExperience(ctx, attackerID, "hitpoints", int64(hpXP)); err != nil {
			return AttackResult{}, err
		}
		res.XPGained["attack"] = int64(xp)
		res.XPGained["strength"] = int64(xp)
		res.XPGained["hitpoints"] = int64(hpXP)
	}

	res.DefenderHP = inst.CurrentHP

	if inst.CurrentHP <= 0 {
		inst.State = gamestate.EntityDying
		inst.DyingAtUnix = now
		inst.TargetPlayerID = nil
		res.DefenderDied = true
		if err := s.world.Entities.ScheduleRespawn(ctx, inst.SpawnPointID, now+float64(inst.RespawnDelaySeconds)); err != nil {
			return AttackResult{}, err
		}
	}
	if err := s.world.Entities.Update(ctx, inst); err != nil {
		return AttackResult{}, err
	}

	return res, nil
}

// AttackPlayer is a stub for the out-of-scope PvP path, spec.md §4.6.
func (s *Service) AttackPlayer(context.Context, int64, int64) (AttackResult, error) {
	return AttackResult{Reason: protocol.ReasonNotImplemented}, ErrNotImplemented
}

func (s *Service) consumeAmmoIfRanged(ctx context.Context, attackerID int64) error {
	_, needsAmmo, err := s.world.Equipment.WeaponAmmoType(ctx, attackerID)
	if err != nil || !needsAmmo {
		return err
	}
	return s.world.Equipment.ConsumeAmmo(ctx, attackerID)
}

// rollAttack resolves accuracy and damage for one attack, drawing from the
// service's seedable RNG source so tests are deterministic (spec.md §9).
func (s *Service) rollAttack(ctx context.Context, attackerID int64, targetBaseDefenceLevel, targetDefenceBonus int) (hit bool, damage int, err error) {
	bonuses, err := s.world.Equipment.GetEffectiveBonuses(ctx, attackerID)
	if err != nil {
		return false, 0, err
	}
	skills, err := s.world.Skills.GetSkills(ctx, attackerID)
	if err != nil {
		return false, 0, err
	}

	attackLevel := 1
	strengthLevel := 1
	if s, ok := skills["attack"]; ok {
		attackLevel = s.Level
	}
	if s, ok := skills["strength"]; ok {
		strengthLevel = s.Level
	}

	effectiveAttack := float64(attackLevel + bonuses.Attack)
	effectiveDefence := float64(targetBaseDefenceLevel + targetDefenceBonus)
	hitChance := effectiveAttack / (effectiveAttack + effectiveDefence)

	hit = s.src.Float64() < hitChance
	if !hit {
		return false, 0, nil
	}

	maxHit := (strengthLevel+bonuses.Strength)/10 + 1
	damage = s.src.IntN(maxHit + 1)
	if damage < 0 {
		damage = 0
	}
	return true, damage, nil
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

// DealDamage applies raw damage to a player, clamped at 0 (spec.md §4.6's
// HP service contract).
func (s *Service) DealDamage(ctx context.Context, playerID int64, amount int) (gamestate.HP, error) {
	hp, err := s.world.Players.GetHP(ctx, playerID)
	if err != nil {
		return gamestate.HP{}, err
	}
	hp.Current -= amount
	if hp.Current < 0 {
		hp.Current = 0
	}

	if hp.Current == 0 {
		// HP reaching zero and combat state clearing must land in the same
		// write: spec.md's death invariant forbids current_hp == 0 being
		// observable with combat state still non-null in between.
		if err := s.world.Players.SetFullState(ctx, playerID, gamestate.FullState{HP: &hp, ClearCombat: true}); err != nil {
			return gamestate.HP{}, err
		}
		if err := s.killPlayer(ctx, playerID); err != nil {
			return gamestate.HP{}, err
		}
		// killPlayer runs the full respawn, so the HP a caller reads back
		// here is the post-respawn HP, not the momentary zero.
		return s.world.Players.GetHP(ctx, playerID)
	}

	if err := s.world.Players.SetHP(ctx, playerID, hp); err != nil {
		return gamestate.HP{}, err
	}
	return hp, nil
}

// Heal restores HP capped at max.
func (s *Service) Heal(ctx context.Context, playerID int64, amount int) (gamestate.HP, error) {
	hp, err := s.world.Players.GetHP(ctx, playerID)
	if err != nil {
		return gamestate.HP{}, err
	}
	hp.Current += amount
	if hp.Current > hp.Max {
		hp.Current = hp.Max
	}
	if err := s.world.Players.SetHP(ctx, playerID, hp); err != nil {
		return gamestate.HP{}, err
	}
	return hp, nil
}

// killPlayer runs the death sequence from spec.md §4.6: HP to 0 and combat
// state cleared (both already true, landed atomically by the caller),
// non-indestructible inventory dropped as ground items owned by the dying
// player, position reset to spawn, HP restored, combat state remains
// cleared.
func (s *Service) killPlayer(ctx context.Context, playerID int64) error {
	inv, err := s.world.Inventory.GetInventory(ctx, playerID)
	if err != nil {
		return err
	}
	pos, err := s.world.Players.GetPosition(ctx, playerID)
	if err != nil {
		return err
	}
	dropped := playerID
	for slot, item := range inv {
		def, ok := s.catalog.Item(item.ItemName)
		if ok && def.IsIndestructible {
			continue
		}
		if _, err := s.world.Ground.Create(ctx, pos.MapID, pos.X, pos.Y, item.ItemName, item.Quantity, item.Durability, &dropped); err != nil {
			return err
		}
		if err := s.world.Inventory.DeleteSlot(ctx, playerID, slot); err != nil {
			return err
		}
	}

	return s.Respawn(ctx, playerID)
}

// Respawn restores a player to full HP at the map spawn and clears combat
// state, spec.md §4.6.
func (s *Service) Respawn(ctx context.Context, playerID int64) error {
	hp, err := s.world.Players.GetHP(ctx, playerID)
	if err != nil {
		return err
	}
	hp.Current = hp.Max

	newPos := gamestate.Position{MapID: s.spawnMap, X: s.spawnX, Y: s.spawnY, Facing: "down", LastMoveUnix: unixFloat(s.clk)}
	return s.world.Players.SetFullState(ctx, playerID, gamestate.FullState{Position: &newPos, HP: &hp, ClearCombat: true})
}
