// Package store is the Durable Store (spec.md §4.2): the relational tables
// underlying players, skills, inventory, equipment, and ground items.
// Grounded in udisondev-la2go's go.mod, which pairs jackc/pgx/v5 with
// pressly/goose/v3 for an MMORPG server's own player/world tables — the
// closest pack match for "a relational store with migrations" once
// PocketBase's collection-record model is set aside (see DESIGN.md).
//
// Callers are the gamestate managers (cache-miss hydration), the batch sync
// coordinator, and the command dispatcher, which reads player rows directly
// here at login and to resolve a direct-message chat recipient. Other
// command handling reads through the cache managers.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool with the queries the managers and the
// batch sync coordinator need.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a pool against dsn.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Pool exposes the underlying pool for the migration runner.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// PlayerRow is a durable player identity/position/HP record.
type PlayerRow struct {
	ID          int64
	Username    string
	MapID       string
	X, Y        int
	Facing      string
	CurrentHP   int
	MaxHP       int
	IsBanned    bool
	BannedUntil *time.Time
}

// CreatePlayer inserts a brand-new player row (player creation, spec.md §4.2).
func (s *Store) CreatePlayer(ctx context.Context, username string, maxHP int) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO players (username, current_hp, max_hp) VALUES ($1, $2, $2) RETURNING id`,
		username, maxHP,
	).Scan(&id)
	return id, err
}

// GetPlayerByUsername hydrates a player row by username, used on login.
func (s *Store) GetPlayerByUsername(ctx context.Context, username string) (PlayerRow, error) {
	var p PlayerRow
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, map_id, x, y, facing, current_hp, max_hp, is_banned, banned_until
		 FROM players WHERE username = $1`,
		username,
	).Scan(&p.ID, &p.Username, &p.MapID, &p.X, &p.Y, &p.Facing, &p.CurrentHP, &p.MaxHP, &p.IsBanned, &p.BannedUntil)
	return p, err
}

// GetPlayerByID hydrates a player row by id, used for cache-miss rehydration.
func (s *Store) GetPlayerByID(ctx context.Context, id int64) (PlayerRow, error) {
	var p PlayerRow
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, map_id, x, y, facing, current_hp, max_hp, is_banned, banned_until
		 FROM players WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Username, &p.MapID, &p.X, &p.Y, &p.Facing, &p.CurrentHP, &p.MaxHP, &p.IsBanned, &p.BannedUntil)
	return p, err
}

// UpsertPlayerRow writes a player's position, facing, and HP snapshot in one
// statement — they share the players row, so the batch sync coordinator
// flushes them together under the positions dirty category.
func (s *Store) UpsertPlayerRow(ctx context.Context, playerID int64, mapID string, x, y int, facing string, currentHP, maxHP int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE players SET map_id = $2, x = $3, y = $4, facing = $5, current_hp = $6, max_hp = $7 WHERE id = $1`,
		playerID, mapID, x, y, facing, currentHP, maxHP,
	)
	return err
}

// SkillRow is one durable (player, skill) record.
type SkillRow struct {
	SkillName string
	Level     int
	XP        int64
}

// GetSkills hydrates every skill a player has on record.
func (s *Store) GetSkills(ctx context.Context, playerID int64) ([]SkillRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sk.name, ps.current_level, ps.experience
		 FROM player_skills ps JOIN skills sk ON sk.id = ps.skill_id
		 WHERE ps.player_id = $1`,
		playerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SkillRow
	for rows.Next() {
		var r SkillRow
		if err := rows.Scan(&r.SkillName, &r.Level, &r.XP); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertSkill writes one (player, skill) snapshot, the batch sync
// coordinator's write path for dirty.skills.
func (s *Store) UpsertSkill(ctx context.Context, playerID int64, skillName string, level int, xp int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO player_skills (player_id, skill_id, current_level, experience)
		SELECT $1, id, $3, $4 FROM skills WHERE name = $2
		ON CONFLICT (player_id, skill_id) DO UPDATE SET current_level = $3, experience = $4
	`, playerID, skillName, level, xp)
	return err
}

// InventorySlotRow is one durable inventory slot.
type InventorySlotRow struct {
	Slot               int
	ItemName           string
	Quantity           int
	CurrentDurability  *int
}

// GetInventory hydrates every occupied inventory slot for a player.
func (s *Store) GetInventory(ctx context.Context, playerID int64) ([]InventorySlotRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT pi.slot, it.name, pi.quantity, pi.current_durability
		 FROM player_inventory pi JOIN items it ON it.id = pi.item_id
		 WHERE pi.player_id = $1`,
		playerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InventorySlotRow
	for rows.Next() {
		var r InventorySlotRow
		if err := rows.Scan(&r.Slot, &r.ItemName, &r.Quantity, &r.CurrentDurability); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertInventorySlot writes one durable inventory slot by item name.
func (s *Store) UpsertInventorySlot(ctx context.Context, playerID int64, slot int, itemName string, quantity int, durability *int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO player_inventory (player_id, slot, item_id, quantity, current_durability)
		SELECT $1, $2, id, $4, $5 FROM items WHERE name = $3
		ON CONFLICT (player_id, slot) DO UPDATE SET item_id = EXCLUDED.item_id,
			quantity = EXCLUDED.quantity, current_durability = EXCLUDED.current_durability
	`, playerID, slot, itemName, quantity, durability)
	return err
}

// DeleteInventorySlot removes a durable inventory slot.
func (s *Store) DeleteInventorySlot(ctx context.Context, playerID int64, slot int) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM player_inventory WHERE player_id = $1 AND slot = $2`, playerID, slot)
	return err
}

// ReplaceInventory clears and rewrites a player's entire durable inventory in
// one statement pair, used by the batch sync coordinator so a dirty
// inventory flush is a single consistent snapshot write.
func (s *Store) ReplaceInventory(ctx context.Context, playerID int64, slots []InventorySlotRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM player_inventory WHERE player_id = $1`, playerID); err != nil {
		return err
	}
	for _, slot := range slots {
		if _, err := tx.Exec(ctx, `
			INSERT INTO player_inventory (player_id, slot, item_id, quantity, current_durability)
			SELECT $1, $2, id, $4, $5 FROM items WHERE name = $3
		`, playerID, slot.Slot, slot.ItemName, slot.Quantity, slot.CurrentDurability); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// EquipmentSlotRow is one durable equipment slot.
type EquipmentSlotRow struct {
	EquipmentSlot     string
	ItemName          string
	Quantity          int
	CurrentDurability *int
}

// GetEquipment hydrates a player's durable equipment.
func (s *Store) GetEquipment(ctx context.Context, playerID int64) ([]EquipmentSlotRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT pe.equipment_slot, it.name, pe.quantity, pe.current_durability
		 FROM player_equipment pe JOIN items it ON it.id = pe.item_id
		 WHERE pe.player_id = $1`,
		playerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquipmentSlotRow
	for rows.Next() {
		var r EquipmentSlotRow
		if err := rows.Scan(&r.EquipmentSlot, &r.ItemName, &r.Quantity, &r.CurrentDurability); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceEquipment clears and rewrites a player's durable equipment.
func (s *Store) ReplaceEquipment(ctx context.Context, playerID int64, slots []EquipmentSlotRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM player_equipment WHERE player_id = $1`, playerID); err != nil {
		return err
	}
	for _, slot := range slots {
		if _, err := tx.Exec(ctx, `
			INSERT INTO player_equipment (player_id, equipment_slot, item_id, quantity, current_durability)
			SELECT $1, $2, id, $4, $5 FROM items WHERE name = $3
		`, playerID, slot.EquipmentSlot, slot.ItemName, slot.Quantity, slot.CurrentDurability); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// GroundItemRow is one durable ground item.
type GroundItemRow struct {
	ID                string
	ItemName          string
	MapID             string
	X, Y              int
	Quantity          int
	CurrentDurability *int
	DroppedBy         *int64
	DroppedAt         time.Time
	PublicAt          time.Time
	DespawnAt         time.Time
}

// UpsertGroundItem writes one durable ground item row.
func (s *Store) UpsertGroundItem(ctx context.Context, g GroundItemRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ground_items (id, item_id, map_id, x, y, quantity, current_durability, dropped_by, dropped_at, public_at, despawn_at)
		SELECT $1, id, $3, $4, $5, $6, $7, $8, $9, $10, $11 FROM items WHERE name = $2
		ON CONFLICT (id) DO UPDATE SET quantity = EXCLUDED.quantity, current_durability = EXCLUDED.current_durability
	`, g.ID, g.ItemName, g.MapID, g.X, g.Y, g.Quantity, g.CurrentDurability, g.DroppedBy, g.DroppedAt, g.PublicAt, g.DespawnAt)
	return err
}

// DeleteGroundItem removes a durable ground item (picked up or despawned).
func (s *Store) DeleteGroundItem(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM ground_items WHERE id = $1`, id)
	return err
}

// ListGroundItems loads every ground item still on record, used to
// rehydrate the cache on startup.
func (s *Store) ListGroundItems(ctx context.Context) ([]GroundItemRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT gi.id, it.name, gi.map_id, gi.x, gi.y, gi.quantity, gi.current_durability,
		       gi.dropped_by, gi.dropped_at, gi.public_at, gi.despawn_at
		FROM ground_items gi JOIN items it ON it.id = gi.item_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroundItemRow
	for rows.Next() {
		var g GroundItemRow
		if err := rows.Scan(&g.ID, &g.ItemName, &g.MapID, &g.X, &g.Y, &g.Quantity, &g.CurrentDurability,
			&g.DroppedBy, &g.DroppedAt, &g.PublicAt, &g.DespawnAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ItemDefRow mirrors the items table columns the refdata seeder writes.
type ItemDefRow struct {
	Name                                                                        string
	DisplayName, Description, Category, Rarity                                 string
	EquipmentSlot                                                               *string
	MaxStackSize                                                                int
	IsTwoHanded, IsIndestructible, IsTradeable                                  bool
	MaxDurability                                                               *int
	RequiredSkill                                                              *string
	RequiredLevel                                                               int
	AmmoType                                                                   *string
	Value, AttackRange                                                         int
	AttackBonus, StrengthBonus, RangedAttackBonus, RangedStrengthBonus         int
	MagicAttackBonus, MagicDamageBonus, PhysicalDefenceBonus, MagicDefenceBonus int
	HealthBonus, SpeedBonus, MiningBonus, WoodcuttingBonus, FishingBonus       int
}

// SeedItems idempotently upserts the reference-data item catalog into the
// durable items table, mirroring original_source's alembic migration that
// "syncs all item definitions from ItemType enum to items table" — here done
// at startup from the YAML fixtures instead of a one-time migration, so
// adding an item to refdata is enough to make it usable in inventories.
func (s *Store) SeedItems(ctx context.Context, defs []ItemDefRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, d := range defs {
		_, err := tx.Exec(ctx, `
			INSERT INTO items (
				name, display_name, description, category, rarity, equipment_slot,
				max_stack_size, is_two_handed, max_durability, is_indestructible, is_tradeable,
				required_skill, required_level, ammo_type, value, attack_range,
				attack_bonus, strength_bonus, ranged_attack_bonus, ranged_strength_bonus,
				magic_attack_bonus, magic_damage_bonus, physical_defence_bonus, magic_defence_bonus,
				health_bonus, speed_bonus, mining_bonus, woodcutting_bonus, fishing_bonus
			) VALUES (
				$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29
			)
			ON CONFLICT (name) DO UPDATE SET
				display_name = EXCLUDED.display_name, description = EXCLUDED.description,
				category = EXCLUDED.category, rarity = EXCLUDED.rarity, equipment_slot = EXCLUDED.equipment_slot,
				max_stack_size = EXCLUDED.max_stack_size, is_two_handed = EXCLUDED.is_two_handed,
				max_durability = EXCLUDED.max_durability, is_indestructible = EXCLUDED.is_indestructible,
				is_tradeable = EXCLUDED.is_tradeable, required_skill = EXCLUDED.required_skill,
				required_level = EXCLUDED.required_level, ammo_type = EXCLUDED.ammo_type, value = EXCLUDED.value,
				attack_range = EXCLUDED.attack_range,
				attack_bonus = EXCLUDED.attack_bonus, strength_bonus = EXCLUDED.strength_bonus,
				ranged_attack_bonus = EXCLUDED.ranged_attack_bonus, ranged_strength_bonus = EXCLUDED.ranged_strength_bonus,
				magic_attack_bonus = EXCLUDED.magic_attack_bonus, magic_damage_bonus = EXCLUDED.magic_damage_bonus,
				physical_defence_bonus = EXCLUDED.physical_defence_bonus, magic_defence_bonus = EXCLUDED.magic_defence_bonus,
				health_bonus = EXCLUDED.health_bonus, speed_bonus = EXCLUDED.speed_bonus,
				mining_bonus = EXCLUDED.mining_bonus, woodcutting_bonus = EXCLUDED.woodcutting_bonus,
				fishing_bonus = EXCLUDED.fishing_bonus
		`,
			d.Name, d.DisplayName, d.Description, d.Category, d.Rarity, d.EquipmentSlot,
			d.MaxStackSize, d.IsTwoHanded, d.MaxDurability, d.IsIndestructible, d.IsTradeable,
			d.RequiredSkill, d.RequiredLevel, d.AmmoType, d.Value, d.AttackRange,
			d.AttackBonus, d.StrengthBonus, d.RangedAttackBonus, d.RangedStrengthBonus,
			d.MagicAttackBonus, d.MagicDamageBonus, d.PhysicalDefenceBonus, d.MagicDefenceBonus,
			d.HealthBonus, d.SpeedBonus, d.MiningBonus, d.WoodcuttingBonus, d.FishingBonus,
		)
		if err != nil {
			return fmt.Errorf("seed item %q: %w", d.Name, err)
		}
	}
	return tx.Commit(ctx)
}
