package gamestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/vdmkenny/rpg-engine-sub003/internal/cache"
	"github.com/vdmkenny/rpg-engine-sub003/internal/refdata"
	"github.com/vdmkenny/rpg-engine-sub003/internal/store"
)

// MaxInventorySlots is the per-player slot count, spec.md §3.
const MaxInventorySlots = 28

// ErrInventoryFull is returned when add_item finds no room.
var ErrInventoryFull = errors.New("inventory_full")

// InventorySlot is one occupied inventory slot.
type InventorySlot struct {
	ItemName   string `json:"item_name"`
	Quantity   int    `json:"quantity"`
	Durability *int   `json:"durability,omitempty"`
}

// InventoryManager is the façade over C1 for per-player inventories, spec.md
// §4.3.
type InventoryManager struct {
	c       cache.Cache
	store   *store.Store
	catalog *refdata.Catalog
}

// NewInventoryManager constructs an inventory manager.
func NewInventoryManager(c cache.Cache, st *store.Store, catalog *refdata.Catalog) *InventoryManager {
	return &InventoryManager{c: c, store: st, catalog: catalog}
}

// GetInventory reads every occupied slot, hydrating from the durable store
// on cache miss (an empty hash and a genuine miss look the same to HGetAll,
// so hydration is attempted whenever the cache returns nothing at all).
func (m *InventoryManager) GetInventory(ctx context.Context, playerID int64) (map[int]InventorySlot, error) {
	raw, err := m.c.HGetAll(ctx, invKey(playerID))
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		return decodeInventory(raw)
	}

	rows, err := m.store.GetInventory(ctx, playerID)
	if err != nil {
		return nil, err
	}
	out := make(map[int]InventorySlot, len(rows))
	for _, r := range rows {
		slot := InventorySlot{ItemName: r.ItemName, Quantity: r.Quantity, Durability: r.CurrentDurability}
		out[r.Slot] = slot
		if err := m.writeSlot(ctx, playerID, r.Slot, slot); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeInventory(raw map[string]string) (map[int]InventorySlot, error) {
	out := make(map[int]InventorySlot, len(raw))
	for field, v := range raw {
		slot, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		var s InventorySlot
		if err := json.Unmarshal([]byte(v), &s); err != nil {
			return nil, err
		}
		out[slot] = s
	}
	return out, nil
}

func (m *InventoryManager) writeSlot(ctx context.Context, playerID int64, slot int, s InventorySlot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.c.HSet(ctx, invKey(playerID), strconv.Itoa(slot), string(b))
}

// SetSlot overwrites one inventory slot and marks the player dirty.
func (m *InventoryManager) SetSlot(ctx context.Context, playerID int64, slot int, s InventorySlot) error {
	if err := m.writeSlot(ctx, playerID, slot, s); err != nil {
		return err
	}
	return m.c.SAdd(ctx, dirtyKey(CategoryInventories), fmt.Sprint(playerID))
}

// DeleteSlot clears one inventory slot and marks the player dirty.
func (m *InventoryManager) DeleteSlot(ctx context.Context, playerID int64, slot int) error {
	if err := m.c.HDel(ctx, invKey(playerID), strconv.Itoa(slot)); err != nil {
		return err
	}
	return m.c.SAdd(ctx, dirtyKey(CategoryInventories), fmt.Sprint(playerID))
}

// AddItem applies the stacking rule from spec.md §4.3: fill existing stacks
// of the same item in ascending slot order until saturated, then allocate
// the lowest free slot. Returns ErrInventoryFull if no room remains.
func (m *InventoryManager) AddItem(ctx context.Context, playerID int64, itemName string, qty int) error {
	def, ok := m.catalog.Item(itemName)
	if !ok {
		return fmt.Errorf("unknown item %q", itemName)
	}

	inv, err := m.GetInventory(ctx, playerID)
	if err != nil {
		return err
	}

	slots := make([]int, 0, len(inv))
	for slot := range inv {
		slots = append(slots, slot)
	}
	sort.Ints(slots)

	remaining := qty
	for _, slot := range slots {
		if remaining == 0 {
			break
		}
		s := inv[slot]
		if s.ItemName != itemName {
			continue
		}
		room := def.MaxStackSize - s.Quantity
		if room <= 0 {
			continue
		}
		take := room
		if take > remaining {
			take = remaining
		}
		s.Quantity += take
		remaining -= take
		if err := m.SetSlot(ctx, playerID, slot, s); err != nil {
			return err
		}
	}

	for remaining > 0 {
		freeSlot := -1
		for slot := 0; slot < MaxInventorySlots; slot++ {
			if _, occupied := inv[slot]; !occupied {
				freeSlot = slot
				break
			}
		}
		if freeSlot == -1 {
			return ErrInventoryFull
		}
		take := remaining
		if take > def.MaxStackSize {
			take = def.MaxStackSize
		}
		newSlot := InventorySlot{ItemName: itemName, Quantity: take}
		if err := m.SetSlot(ctx, playerID, freeSlot, newSlot); err != nil {
			return err
		}
		inv[freeSlot] = newSlot
		remaining -= take
	}
	return nil
}

// ReplaceAll rewrites every slot, used after inventory moves/sorts/drops
// that touch several slots in one logical operation.
func (m *InventoryManager) ReplaceAll(ctx context.Context, playerID int64, inv map[int]InventorySlot) error {
	if err := m.c.Del(ctx, invKey(playerID)); err != nil {
		return err
	}
	for slot, s := range inv {
		if err := m.writeSlot(ctx, playerID, slot, s); err != nil {
			return err
		}
	}
	return m.c.SAdd(ctx, dirtyKey(CategoryInventories), fmt.Sprint(playerID))
}
