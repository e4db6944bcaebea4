// Package gamestate is the Per-entity Manager layer (spec.md §4.3, C4): a
// thin façade over internal/cache with a fixed key prefix per entity class,
// enforcing the read-through/write-back/dirty-marking contract the batch
// sync coordinator depends on. Grounded in ezynda3-shell-shock-showdown's
// game.Manager (mutex-guarded map-backed state plus a jetstream.KeyValue
// read-through/write-back pair), generalized from one flat KV store into
// the six narrower managers spec.md §4.3 names.
package gamestate

import "strconv"

// Dirty-set categories, spec.md §3.
const (
	CategoryPositions   = "positions"
	CategoryInventories = "inventories"
	CategoryEquipment   = "equipment"
	CategorySkills      = "skills"
)

const (
	keyOnlineByID   = "online:by_id"
	keyOnlineByName = "online:by_name"

	keyDirtyPositions   = "dirty:positions"
	keyDirtyInventories = "dirty:inventories"
	keyDirtyEquipment   = "dirty:equipment"
	keyDirtySkills      = "dirty:skills"

	keyGroundAll   = "ground:all"
	keyRespawnZSet = "respawn:queue"
)

func posKey(playerID int64) string    { return "pos:" + strconv.FormatInt(playerID, 10) }
func hpKey(playerID int64) string     { return "hp:" + strconv.FormatInt(playerID, 10) }
func combatKey(playerID int64) string { return "combat:" + strconv.FormatInt(playerID, 10) }
func invKey(playerID int64) string    { return "inv:" + strconv.FormatInt(playerID, 10) }
func equipKey(playerID int64) string  { return "equip:" + strconv.FormatInt(playerID, 10) }
func skillsKey(playerID int64) string { return "skills:" + strconv.FormatInt(playerID, 10) }

func groundKey(groundID string) string       { return "ground:" + groundID }
func groundByMapKey(mapID string) string     { return "ground:by_map:" + mapID }
func entityKey(instanceID string) string     { return "entity:" + instanceID }
func entityByMapKey(mapID string) string     { return "entity:by_map:" + mapID }

func dirtyKey(category string) string {
	switch category {
	case CategoryPositions:
		return keyDirtyPositions
	case CategoryInventories:
		return keyDirtyInventories
	case CategoryEquipment:
		return keyDirtyEquipment
	case CategorySkills:
		return keyDirtySkills
	}
	return "dirty:" + category
}

// DirtyCategories lists every dirty-set category the batch sync coordinator
// drains each cycle, in the order spec.md §4.4 lists them.
func DirtyCategories() []string {
	return []string{CategoryPositions, CategoryInventories, CategoryEquipment, CategorySkills}
}

// DirtyKey exposes dirtyKey to other gamestate-adjacent packages (batchsync).
func DirtyKey(category string) string { return dirtyKey(category) }
