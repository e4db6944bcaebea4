// Package batchsync is the Batch Sync Coordinator (spec.md §4.4, C5):
// drains the dirty sets on a timer and on shutdown, flushing the hot cache
// back to the durable store. Grounded in ezynda3-shell-shock-showdown's
// runStateCleanup/saveState loop in game/manager.go — a periodic ticker that
// snapshots live state and persists it — generalized from "one flat KV
// blob" to the per-category snapshot-drain algorithm spec.md §4.4 spells
// out, and from "best-effort" to "re-mark dirty on failure" so a transient
// write error never loses a mutation.
package batchsync

import (
	"context"
	"fmt"

	charmlog "github.com/charmbracelet/log"

	"github.com/vdmkenny/rpg-engine-sub003/internal/cache"
	"github.com/vdmkenny/rpg-engine-sub003/internal/gamestate"
	"github.com/vdmkenny/rpg-engine-sub003/internal/store"
)

// Coordinator owns the one-way reference from the sync loop to the managers
// it drains, per spec.md §9's guidance on breaking the manager/coordinator
// cycle.
type Coordinator struct {
	c      cache.Cache
	store  *store.Store
	world  *gamestate.World
	logger *charmlog.Logger
}

// New constructs a batch sync coordinator.
func New(c cache.Cache, st *store.Store, world *gamestate.World, logger *charmlog.Logger) *Coordinator {
	return &Coordinator{c: c, store: st, world: world, logger: logger}
}

// Result summarizes one sync cycle for logging/testing.
type Result struct {
	Flushed map[string]int
	Failed  map[string]int
}

// SyncAll drains every dirty category once, per spec.md §4.4's algorithm:
// snapshot-drain, write-merge, re-add on failure. Each player's flush within
// a category is its own store write; there is no single commit per category.
func (co *Coordinator) SyncAll(ctx context.Context) (Result, error) {
	res := Result{Flushed: map[string]int{}, Failed: map[string]int{}}

	for _, category := range gamestate.DirtyCategories() {
		ids, err := co.c.SMembers(ctx, gamestate.DirtyKey(category))
		if err != nil {
			return res, fmt.Errorf("drain dirty.%s: %w", category, err)
		}
		for _, id := range ids {
			if err := co.c.SRem(ctx, gamestate.DirtyKey(category), id); err != nil {
				return res, fmt.Errorf("pop dirty.%s/%s: %w", category, id, err)
			}
		}

		for _, idStr := range ids {
			var playerID int64
			if _, err := fmt.Sscan(idStr, &playerID); err != nil {
				continue
			}
			if err := co.flushOne(ctx, category, playerID); err != nil {
				co.logger.Warn("batch sync flush failed, re-marking dirty", "category", category, "player_id", playerID, "err", err)
				if rerr := co.c.SAdd(ctx, gamestate.DirtyKey(category), idStr); rerr != nil {
					return res, fmt.Errorf("re-mark dirty.%s/%s: %w", category, idStr, rerr)
				}
				res.Failed[category]++
				continue
			}
			res.Flushed[category]++
		}
	}

	if err := co.drainGroundItems(ctx); err != nil {
		return res, fmt.Errorf("drain ground items: %w", err)
	}

	return res, nil
}

func (co *Coordinator) flushOne(ctx context.Context, category string, playerID int64) error {
	switch category {
	case gamestate.CategoryPositions:
		pos, err := co.world.Players.GetPosition(ctx, playerID)
		if err != nil {
			return err
		}
		hp, err := co.world.Players.GetHP(ctx, playerID)
		if err != nil {
			return err
		}
		return co.store.UpsertPlayerRow(ctx, playerID, pos.MapID, pos.X, pos.Y, pos.Facing, hp.Current, hp.Max)

	case gamestate.CategoryInventories:
		inv, err := co.world.Inventory.GetInventory(ctx, playerID)
		if err != nil {
			return err
		}
		rows := make([]store.InventorySlotRow, 0, len(inv))
		for slot, s := range inv {
			rows = append(rows, store.InventorySlotRow{Slot: slot, ItemName: s.ItemName, Quantity: s.Quantity, CurrentDurability: s.Durability})
		}
		return co.store.ReplaceInventory(ctx, playerID, rows)

	case gamestate.CategoryEquipment:
		eq, err := co.world.Equipment.GetEquipment(ctx, playerID)
		if err != nil {
			return err
		}
		rows := make([]store.EquipmentSlotRow, 0, len(eq))
		for slot, e := range eq {
			rows = append(rows, store.EquipmentSlotRow{EquipmentSlot: slot, ItemName: e.ItemName, Quantity: e.Quantity, CurrentDurability: e.Durability})
		}
		return co.store.ReplaceEquipment(ctx, playerID, rows)

	case gamestate.CategorySkills:
		skills, err := co.world.Skills.GetSkills(ctx, playerID)
		if err != nil {
			return err
		}
		for name, s := range skills {
			if err := co.store.UpsertSkill(ctx, playerID, name, s.Level, s.XP); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown dirty category %q", category)
}

func (co *Coordinator) drainGroundItems(ctx context.Context) error {
	upsertIDs, deleteIDs, err := co.world.Ground.DrainBuffer(ctx)
	if err != nil {
		return err
	}
	for _, id := range upsertIDs {
		g, ok, err := co.world.Ground.Get(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		row := store.GroundItemRow{
			ID: g.ID, ItemName: g.ItemName, MapID: g.MapID, X: g.X, Y: g.Y,
			Quantity: g.Quantity, CurrentDurability: g.Durability, DroppedBy: g.DroppedBy,
			DroppedAt: g.DroppedAt, PublicAt: g.PublicAt, DespawnAt: g.DespawnAt,
		}
		if err := co.store.UpsertGroundItem(ctx, row); err != nil {
			return err
		}
	}
	for _, id := range deleteIDs {
		if err := co.store.DeleteGroundItem(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// ShutdownDrain flushes every category for every online player regardless
// of dirty state, then returns. Spec.md §4.4: the shutdown path ignores the
// dirty sets entirely and syncs everyone.
func (co *Coordinator) ShutdownDrain(ctx context.Context, onlinePlayerIDs []int64) error {
	for _, playerID := range onlinePlayerIDs {
		for _, category := range gamestate.DirtyCategories() {
			if err := co.flushOne(ctx, category, playerID); err != nil {
				return fmt.Errorf("shutdown drain player %d category %s: %w", playerID, category, err)
			}
		}
	}
	return co.drainGroundItems(ctx)
}
