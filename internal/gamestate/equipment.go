package gamestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/vdmkenny/rpg-engine-sub003/internal/cache"
	"github.com/vdmkenny/rpg-engine-sub003/internal/refdata"
	"github.com/vdmkenny/rpg-engine-sub003/internal/store"
)

// EquipmentSlots enumerates the named equipment slots, spec.md §3.
var EquipmentSlots = []string{"head", "body", "legs", "boots", "gloves", "weapon", "shield", "ammo", "cape", "ring", "amulet"}

// ErrNoFreeSlot is returned when unequip has nowhere to put the item.
var ErrNoFreeSlot = errors.New("no_free_slot")

// ErrWrongSlot is returned when an item has no equipment slot or the caller
// targeted the wrong one.
var ErrWrongSlot = errors.New("wrong_slot")

// EquippedItem is one occupied equipment slot.
type EquippedItem struct {
	ItemName   string `json:"item_name"`
	Quantity   int    `json:"quantity"`
	Durability *int   `json:"durability,omitempty"`
}

// EquipmentManager is the façade over C1 for per-player equipment, spec.md
// §4.3.
type EquipmentManager struct {
	c       cache.Cache
	store   *store.Store
	catalog *refdata.Catalog
	inv     *InventoryManager
}

// NewEquipmentManager constructs an equipment manager.
func NewEquipmentManager(c cache.Cache, st *store.Store, catalog *refdata.Catalog, inv *InventoryManager) *EquipmentManager {
	return &EquipmentManager{c: c, store: st, catalog: catalog, inv: inv}
}

// GetEquipment reads every equipped slot, hydrating from the durable store
// on cache miss. A manager built without a store treats a miss as no
// equipment.
func (m *EquipmentManager) GetEquipment(ctx context.Context, playerID int64) (map[string]EquippedItem, error) {
	raw, err := m.c.HGetAll(ctx, equipKey(playerID))
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		return decodeEquipment(raw)
	}
	if m.store == nil {
		return map[string]EquippedItem{}, nil
	}

	rows, err := m.store.GetEquipment(ctx, playerID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]EquippedItem, len(rows))
	for _, r := range rows {
		e := EquippedItem{ItemName: r.ItemName, Quantity: r.Quantity, Durability: r.CurrentDurability}
		out[r.EquipmentSlot] = e
		if err := m.writeSlot(ctx, playerID, r.EquipmentSlot, e); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeEquipment(raw map[string]string) (map[string]EquippedItem, error) {
	out := make(map[string]EquippedItem, len(raw))
	for slot, v := range raw {
		var e EquippedItem
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, err
		}
		out[slot] = e
	}
	return out, nil
}

func (m *EquipmentManager) writeSlot(ctx context.Context, playerID int64, slot string, e EquippedItem) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return m.c.HSet(ctx, equipKey(playerID), slot, string(b))
}

func (m *EquipmentManager) markDirty(ctx context.Context, playerID int64) error {
	return m.c.SAdd(ctx, dirtyKey(CategoryEquipment), fmt.Sprint(playerID))
}

// Equip moves an item from an inventory slot into its resolved equipment
// slot. Equipping a two-hander unequips the shield first (back to
// inventory, spec.md §3); ammo quiver-stacks onto any ammo already
// equipped of the same type.
func (m *EquipmentManager) Equip(ctx context.Context, playerID int64, invSlot int) error {
	inv, err := m.inv.GetInventory(ctx, playerID)
	if err != nil {
		return err
	}
	item, ok := inv[invSlot]
	if !ok {
		return ErrWrongSlot
	}
	def, ok := m.catalog.Item(item.ItemName)
	if !ok || def.EquipmentSlot == nil {
		return ErrWrongSlot
	}
	eqSlot := *def.EquipmentSlot

	equipment, err := m.GetEquipment(ctx, playerID)
	if err != nil {
		return err
	}

	if eqSlot == "ammo" {
		if existing, ok := equipment["ammo"]; ok && existing.ItemName == item.ItemName {
			existing.Quantity += item.Quantity
			if err := m.writeSlot(ctx, playerID, "ammo", existing); err != nil {
				return err
			}
			if err := m.markDirty(ctx, playerID); err != nil {
				return err
			}
			return m.inv.DeleteSlot(ctx, playerID, invSlot)
		}
	}

	if def.IsTwoHanded {
		if _, hasShield := equipment["shield"]; hasShield {
			if err := m.unequipInto(ctx, playerID, "shield", inv); err != nil {
				return err
			}
		}
	} else if eqSlot == "shield" {
		if existingWeapon, hasWeapon := equipment["weapon"]; hasWeapon {
			if wdef, ok := m.catalog.Item(existingWeapon.ItemName); ok && wdef.IsTwoHanded {
				return fmt.Errorf("two_handed_weapon_equipped")
			}
		}
	}

	// Displaced current occupant of eqSlot (if any, and not the ammo
	// quiver-stack case already handled above) goes back to inventory.
	if existing, ok := equipment[eqSlot]; ok {
		if err := m.unequipInto(ctx, playerID, eqSlot, inv); err != nil {
			return err
		}
		_ = existing
	}

	newEquip := EquippedItem{ItemName: item.ItemName, Quantity: item.Quantity, Durability: item.Durability}
	newEquipJSON, err := json.Marshal(newEquip)
	if err != nil {
		return err
	}
	invField := strconv.Itoa(invSlot)
	invRaw, err := json.Marshal(item)
	if err != nil {
		return err
	}
	ok, err = m.c.CompareAndSwap(ctx,
		[]cache.CASCheck{{Key: invKey(playerID), Field: invField, Exists: true, Expect: string(invRaw)}},
		[]cache.HSetOp{{Key: equipKey(playerID), Field: eqSlot, Value: string(newEquipJSON)}},
		[]cache.HDelOp{{Key: invKey(playerID), Field: invField}},
	)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWrongSlot
	}
	if err := m.c.SAdd(ctx, dirtyKey(CategoryInventories), fmt.Sprint(playerID)); err != nil {
		return err
	}
	return m.markDirty(ctx, playerID)
}

// Unequip moves an equipped item back to the lowest free inventory slot.
// Fails with ErrNoFreeSlot if inventory has no room (spec.md §4.3).
func (m *EquipmentManager) Unequip(ctx context.Context, playerID int64, eqSlot string) error {
	inv, err := m.inv.GetInventory(ctx, playerID)
	if err != nil {
		return err
	}
	return m.unequipInto(ctx, playerID, eqSlot, inv)
}

func (m *EquipmentManager) unequipInto(ctx context.Context, playerID int64, eqSlot string, inv map[int]InventorySlot) error {
	equipment, err := m.GetEquipment(ctx, playerID)
	if err != nil {
		return err
	}
	item, ok := equipment[eqSlot]
	if !ok {
		return nil
	}

	freeSlot := -1
	for slot := 0; slot < MaxInventorySlots; slot++ {
		if _, occupied := inv[slot]; !occupied {
			freeSlot = slot
			break
		}
	}
	if freeSlot == -1 {
		return ErrNoFreeSlot
	}

	invSlotValue := InventorySlot{ItemName: item.ItemName, Quantity: item.Quantity, Durability: item.Durability}
	invJSON, err := json.Marshal(invSlotValue)
	if err != nil {
		return err
	}
	equipRaw, err := json.Marshal(item)
	if err != nil {
		return err
	}
	ok, err = m.c.CompareAndSwap(ctx,
		[]cache.CASCheck{{Key: equipKey(playerID), Field: eqSlot, Exists: true, Expect: string(equipRaw)}},
		[]cache.HSetOp{{Key: invKey(playerID), Field: strconv.Itoa(freeSlot), Value: string(invJSON)}},
		[]cache.HDelOp{{Key: equipKey(playerID), Field: eqSlot}},
	)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWrongSlot
	}
	inv[freeSlot] = invSlotValue

	if err := m.c.SAdd(ctx, dirtyKey(CategoryInventories), fmt.Sprint(playerID)); err != nil {
		return err
	}
	return m.markDirty(ctx, playerID)
}

// EffectiveBonuses sums combat-relevant bonuses across every equipped item,
// for the combat service's hit/damage formula (spec.md §4.6).
type EffectiveBonuses struct {
	Attack, Strength, RangedAttack, RangedStrength int
	MagicAttack, MagicDamage                       int
	PhysicalDefence, MagicDefence                  int
	Health, Speed                                  int
}

// GetEffectiveBonuses sums the combat bonuses of every equipped item.
func (m *EquipmentManager) GetEffectiveBonuses(ctx context.Context, playerID int64) (EffectiveBonuses, error) {
	equipment, err := m.GetEquipment(ctx, playerID)
	if err != nil {
		return EffectiveBonuses{}, err
	}
	var b EffectiveBonuses
	for _, e := range equipment {
		def, ok := m.catalog.Item(e.ItemName)
		if !ok {
			continue
		}
		b.Attack += def.AttackBonus
		b.Strength += def.StrengthBonus
		b.RangedAttack += def.RangedAttackBonus
		b.RangedStrength += def.RangedStrengthBonus
		b.MagicAttack += def.MagicAttackBonus
		b.MagicDamage += def.MagicDamageBonus
		b.PhysicalDefence += def.PhysicalDefenceBonus
		b.MagicDefence += def.MagicDefenceBonus
		b.Health += def.HealthBonus
		b.Speed += def.SpeedBonus
	}
	return b, nil
}

// WeaponRange returns the attack range of the currently equipped weapon, or
// 1 (unarmed melee) if nothing is equipped. Spec.md §9 leaves the exact
// range table data-driven; this reads it from reference data rather than a
// hardcoded constant.
func (m *EquipmentManager) WeaponRange(ctx context.Context, playerID int64) (int, error) {
	equipment, err := m.GetEquipment(ctx, playerID)
	if err != nil {
		return 0, err
	}
	weapon, ok := equipment["weapon"]
	if !ok {
		return 1, nil
	}
	def, ok := m.catalog.Item(weapon.ItemName)
	if !ok {
		return 1, nil
	}
	if def.AttackRange < 1 {
		return 1, nil
	}
	return def.AttackRange, nil
}

// DefaultUnarmedAttackSpeedTicks paces attacks for a player with no weapon
// equipped, matching the slowest weapon in the catalog rather than inventing
// a faster unarmed speed.
const DefaultUnarmedAttackSpeedTicks = 4

// WeaponAttackSpeedTicks returns the minimum tick interval between attacks
// for the currently equipped weapon, falling back to
// DefaultUnarmedAttackSpeedTicks bare-handed or for weapons with no
// attack_speed_ticks in reference data.
func (m *EquipmentManager) WeaponAttackSpeedTicks(ctx context.Context, playerID int64) (int, error) {
	equipment, err := m.GetEquipment(ctx, playerID)
	if err != nil {
		return 0, err
	}
	weapon, ok := equipment["weapon"]
	if !ok {
		return DefaultUnarmedAttackSpeedTicks, nil
	}
	def, ok := m.catalog.Item(weapon.ItemName)
	if !ok || def.AttackSpeedTicks < 1 {
		return DefaultUnarmedAttackSpeedTicks, nil
	}
	return def.AttackSpeedTicks, nil
}

// WeaponAmmoType returns the ammo type the equipped weapon requires, if any.
func (m *EquipmentManager) WeaponAmmoType(ctx context.Context, playerID int64) (string, bool, error) {
	equipment, err := m.GetEquipment(ctx, playerID)
	if err != nil {
		return "", false, err
	}
	weapon, ok := equipment["weapon"]
	if !ok {
		return "", false, nil
	}
	def, ok := m.catalog.Item(weapon.ItemName)
	if !ok || def.AmmoType == nil {
		return "", false, nil
	}
	return *def.AmmoType, true, nil
}

// ConsumeAmmo removes one unit of equipped ammo, used by the combat service
// per the ammo-consumption policy decided in DESIGN.md.
func (m *EquipmentManager) ConsumeAmmo(ctx context.Context, playerID int64) error {
	equipment, err := m.GetEquipment(ctx, playerID)
	if err != nil {
		return err
	}
	ammo, ok := equipment["ammo"]
	if !ok || ammo.Quantity <= 0 {
		return nil
	}
	ammo.Quantity--
	if ammo.Quantity == 0 {
		if err := m.c.HDel(ctx, equipKey(playerID), "ammo"); err != nil {
			return err
		}
	} else if err := m.writeSlot(ctx, playerID, "ammo", ammo); err != nil {
		return err
	}
	return m.markDirty(ctx, playerID)
}
