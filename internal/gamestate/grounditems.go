package gamestate

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vdmkenny/rpg-engine-sub003/internal/cache"
	"github.com/vdmkenny/rpg-engine-sub003/internal/clock"
	"github.com/vdmkenny/rpg-engine-sub003/internal/store"
)

const (
	keyGroundBufferUpsert = "groundbuffer:upsert"
	keyGroundBufferDelete = "groundbuffer:delete"
)

// ErrGroundItemPrivate is returned from PickUp before public_at if the
// caller isn't the item's dropper.
var ErrGroundItemPrivate = errors.New("not_found")

// GroundItem is one item lying on a map tile, spec.md §3.
type GroundItem struct {
	ID                string    `json:"id"`
	ItemName          string    `json:"item_name"`
	MapID             string    `json:"map_id"`
	X                 int       `json:"x"`
	Y                 int       `json:"y"`
	Quantity          int       `json:"quantity"`
	Durability        *int      `json:"durability,omitempty"`
	DroppedBy         *int64    `json:"dropped_by,omitempty"`
	DroppedAt         time.Time `json:"dropped_at"`
	PublicAt          time.Time `json:"public_at"`
	DespawnAt         time.Time `json:"despawn_at"`
}

// GroundItemManager is the façade over C1 for ground items, spec.md §4.3.
type GroundItemManager struct {
	c             cache.Cache
	store         *store.Store
	clk           clock.Clock
	privacyWindow time.Duration
	despawnAfter  time.Duration
	inv           *InventoryManager
}

// NewGroundItemManager constructs a ground item manager.
func NewGroundItemManager(c cache.Cache, st *store.Store, clk clock.Clock, privacyWindow, despawnAfter time.Duration, inv *InventoryManager) *GroundItemManager {
	return &GroundItemManager{c: c, store: st, clk: clk, privacyWindow: privacyWindow, despawnAfter: despawnAfter, inv: inv}
}

// Create drops a new ground item, setting public_at/despawn_at from the
// manager's configured windows (spec.md §4.3).
func (m *GroundItemManager) Create(ctx context.Context, mapID string, x, y int, itemName string, qty int, durability *int, droppedBy *int64) (GroundItem, error) {
	now := m.clk.Now()
	g := GroundItem{
		ID:         uuid.NewString(),
		ItemName:   itemName,
		MapID:      mapID,
		X:          x,
		Y:          y,
		Quantity:   qty,
		Durability: durability,
		DroppedBy:  droppedBy,
		DroppedAt:  now,
		PublicAt:   now.Add(m.privacyWindow),
		DespawnAt:  now.Add(m.despawnAfter),
	}
	if err := m.write(ctx, g); err != nil {
		return GroundItem{}, err
	}
	if err := m.c.SAdd(ctx, keyGroundAll, g.ID); err != nil {
		return GroundItem{}, err
	}
	if err := m.c.SAdd(ctx, groundByMapKey(mapID), g.ID); err != nil {
		return GroundItem{}, err
	}
	if err := m.c.SAdd(ctx, keyGroundBufferUpsert, g.ID); err != nil {
		return GroundItem{}, err
	}
	return g, nil
}

func (m *GroundItemManager) write(ctx context.Context, g GroundItem) error {
	b, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return m.c.HSet(ctx, groundKey(g.ID), stateField, string(b))
}

// Get reads one ground item by id.
func (m *GroundItemManager) Get(ctx context.Context, id string) (GroundItem, bool, error) {
	raw, ok, err := m.c.HGet(ctx, groundKey(id), stateField)
	if err != nil || !ok {
		return GroundItem{}, false, err
	}
	var g GroundItem
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return GroundItem{}, false, err
	}
	return g, true, nil
}

// ListByMap returns every ground item currently on a map.
func (m *GroundItemManager) ListByMap(ctx context.Context, mapID string) ([]GroundItem, error) {
	ids, err := m.c.SMembers(ctx, groundByMapKey(mapID))
	if err != nil {
		return nil, err
	}
	out := make([]GroundItem, 0, len(ids))
	for _, id := range ids {
		g, ok, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, g)
		}
	}
	return out, nil
}

// PickUp removes a ground item and adds it to the player's inventory,
// enforcing the privacy window and inventory room (spec.md §4.3).
func (m *GroundItemManager) PickUp(ctx context.Context, playerID int64, groundID string) (GroundItem, error) {
	g, ok, err := m.Get(ctx, groundID)
	if err != nil {
		return GroundItem{}, err
	}
	if !ok {
		return GroundItem{}, ErrGroundItemPrivate
	}
	now := m.clk.Now()
	if now.Before(g.PublicAt) && (g.DroppedBy == nil || *g.DroppedBy != playerID) {
		return GroundItem{}, ErrGroundItemPrivate
	}
	if err := m.inv.AddItem(ctx, playerID, g.ItemName, g.Quantity); err != nil {
		return GroundItem{}, err
	}
	if err := m.remove(ctx, g); err != nil {
		return GroundItem{}, err
	}
	return g, nil
}

func (m *GroundItemManager) remove(ctx context.Context, g GroundItem) error {
	if err := m.c.Del(ctx, groundKey(g.ID)); err != nil {
		return err
	}
	if err := m.c.SRem(ctx, keyGroundAll, g.ID); err != nil {
		return err
	}
	if err := m.c.SRem(ctx, groundByMapKey(g.MapID), g.ID); err != nil {
		return err
	}
	if err := m.c.SRem(ctx, keyGroundBufferUpsert, g.ID); err != nil {
		return err
	}
	return m.c.SAdd(ctx, keyGroundBufferDelete, g.ID)
}

// SweepExpired removes every ground item whose despawn_at has passed,
// returning the removed items so the caller can broadcast despawn events.
func (m *GroundItemManager) SweepExpired(ctx context.Context) ([]GroundItem, error) {
	ids, err := m.c.SMembers(ctx, keyGroundAll)
	if err != nil {
		return nil, err
	}
	now := m.clk.Now()
	var expired []GroundItem
	for _, id := range ids {
		g, ok, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if now.After(g.DespawnAt) {
			if err := m.remove(ctx, g); err != nil {
				return nil, err
			}
			expired = append(expired, g)
		}
	}
	return expired, nil
}

// LoadFromStore hydrates the cache's ground item set from the durable store,
// run once at startup so items dropped before a restart are still on the
// ground.
func (m *GroundItemManager) LoadFromStore(ctx context.Context) error {
	rows, err := m.store.ListGroundItems(ctx)
	if err != nil {
		return err
	}
	for _, r := range rows {
		g := GroundItem{
			ID: r.ID, ItemName: r.ItemName, MapID: r.MapID, X: r.X, Y: r.Y,
			Quantity: r.Quantity, Durability: r.CurrentDurability, DroppedBy: r.DroppedBy,
			DroppedAt: r.DroppedAt, PublicAt: r.PublicAt, DespawnAt: r.DespawnAt,
		}
		if err := m.write(ctx, g); err != nil {
			return err
		}
		if err := m.c.SAdd(ctx, keyGroundAll, g.ID); err != nil {
			return err
		}
		if err := m.c.SAdd(ctx, groundByMapKey(g.MapID), g.ID); err != nil {
			return err
		}
	}
	return nil
}

// DrainBuffer returns and clears the pending ground-item upsert/delete ids,
// the write-through buffer the batch sync coordinator drains each cycle
// (spec.md §4.4).
func (m *GroundItemManager) DrainBuffer(ctx context.Context) (upsertIDs, deleteIDs []string, err error) {
	upsertIDs, err = m.c.SMembers(ctx, keyGroundBufferUpsert)
	if err != nil {
		return nil, nil, err
	}
	deleteIDs, err = m.c.SMembers(ctx, keyGroundBufferDelete)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range upsertIDs {
		if err := m.c.SRem(ctx, keyGroundBufferUpsert, id); err != nil {
			return nil, nil, err
		}
	}
	for _, id := range deleteIDs {
		if err := m.c.SRem(ctx, keyGroundBufferDelete, id); err != nil {
			return nil, nil, err
		}
	}
	return upsertIDs, deleteIDs, nil
}
