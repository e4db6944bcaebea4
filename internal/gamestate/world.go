package gamestate

import (
	"time"

	"github.com/vdmkenny/rpg-engine-sub003/internal/cache"
	"github.com/vdmkenny/rpg-engine-sub003/internal/clock"
	"github.com/vdmkenny/rpg-engine-sub003/internal/refdata"
	"github.com/vdmkenny/rpg-engine-sub003/internal/store"
)

// World is the single struct holding every manager, constructed once at
// startup and injected into handlers. Spec.md §9 calls for exactly this in
// place of global-mutable singletons.
type World struct {
	Players    *PlayerStateManager
	Inventory  *InventoryManager
	Equipment  *EquipmentManager
	Skills     *SkillsManager
	Ground     *GroundItemManager
	Entities   *EntityManager
	Catalog    *refdata.Catalog
}

// NewWorld wires every manager against a shared cache, store, catalog, and
// clock.
func NewWorld(c cache.Cache, st *store.Store, catalog *refdata.Catalog, clk clock.Clock, groundPrivacy, groundDespawn time.Duration) *World {
	players := NewPlayerStateManager(c, st, clk)
	inv := NewInventoryManager(c, st, catalog)
	equip := NewEquipmentManager(c, st, catalog, inv)
	skills := NewSkillsManager(c, st, catalog)
	ground := NewGroundItemManager(c, st, clk, groundPrivacy, groundDespawn, inv)
	entities := NewEntityManager(c, clk)

	return &World{
		Players:   players,
		Inventory: inv,
		Equipment: equip,
		Skills:    skills,
		Ground:    ground,
		Entities:  entities,
		Catalog:   catalog,
	}
}
