package gamestate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vdmkenny/rpg-engine-sub003/internal/cache"
	"github.com/vdmkenny/rpg-engine-sub003/internal/clock"
	"github.com/vdmkenny/rpg-engine-sub003/internal/store"
)

// FullState bundles the fields set_full_state can overwrite in one cache
// write, spec.md §4.3. A nil Position/HP leaves that field untouched;
// ClearCombat and CombatState are mutually exclusive ways to touch combat
// state (clear it, or set it to something new) and both being unset leaves
// it untouched too.
type FullState struct {
	Position    *Position
	HP          *HP
	CombatState *CombatState
	ClearCombat bool
}

const stateField = "state"

// Position is the authoritative cache copy of a player's location, spec.md §3.
type Position struct {
	MapID        string  `json:"map_id"`
	X            int     `json:"x"`
	Y            int     `json:"y"`
	Facing       string  `json:"facing"`
	LastMoveUnix float64 `json:"last_move_unix"`
}

// HP is the authoritative cache copy of a player's health.
type HP struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// CombatState is the player's optional in-progress combat target.
type CombatState struct {
	TargetType     string  `json:"target_type"` // "entity" | "player"
	TargetID       string  `json:"target_id"`
	LastAttackUnix float64 `json:"last_attack_unix"`
	AttackSpeed    float64 `json:"attack_speed"`
}

// PlayerStateManager is the façade over C1 for online registry, position,
// HP, and combat state, per spec.md §4.3.
type PlayerStateManager struct {
	c     cache.Cache
	store *store.Store
	clk   clock.Clock

	mu      sync.RWMutex
	onlineN map[int64]struct{} // fast local membership check, source of truth is the cache set
}

// NewPlayerStateManager constructs a manager over the given cache and store.
func NewPlayerStateManager(c cache.Cache, st *store.Store, clk clock.Clock) *PlayerStateManager {
	return &PlayerStateManager{c: c, store: st, clk: clk, onlineN: make(map[int64]struct{})}
}

// RegisterOnline adds a player to the online registry. Spec.md §4.3.
func (m *PlayerStateManager) RegisterOnline(ctx context.Context, playerID int64, username string) error {
	if err := m.c.HSet(ctx, keyOnlineByID, fmt.Sprint(playerID), username); err != nil {
		return err
	}
	if err := m.c.HSet(ctx, keyOnlineByName, username, fmt.Sprint(playerID)); err != nil {
		return err
	}
	m.mu.Lock()
	m.onlineN[playerID] = struct{}{}
	m.mu.Unlock()
	return nil
}

// UnregisterOnline removes a player from the online registry.
func (m *PlayerStateManager) UnregisterOnline(ctx context.Context, playerID int64, username string) error {
	if err := m.c.HDel(ctx, keyOnlineByID, fmt.Sprint(playerID)); err != nil {
		return err
	}
	if err := m.c.HDel(ctx, keyOnlineByName, username); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.onlineN, playerID)
	m.mu.Unlock()
	return nil
}

// IsOnline reports whether a player is currently registered.
func (m *PlayerStateManager) IsOnline(ctx context.Context, playerID int64) (bool, error) {
	_, ok, err := m.c.HGet(ctx, keyOnlineByID, fmt.Sprint(playerID))
	return ok, err
}

// GetPosition reads a player's position, hydrating from the durable store
// on cache miss.
func (m *PlayerStateManager) GetPosition(ctx context.Context, playerID int64) (Position, error) {
	raw, ok, err := m.c.HGet(ctx, posKey(playerID), stateField)
	if err != nil {
		return Position{}, err
	}
	if ok {
		var p Position
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return Position{}, err
		}
		return p, nil
	}
	row, err := m.store.GetPlayerByID(ctx, playerID)
	if err != nil {
		return Position{}, err
	}
	p := Position{MapID: row.MapID, X: row.X, Y: row.Y, Facing: row.Facing}
	if err := m.writePosition(ctx, playerID, p); err != nil {
		return Position{}, err
	}
	return p, nil
}

func (m *PlayerStateManager) writePosition(ctx context.Context, playerID int64, p Position) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return m.c.HSet(ctx, posKey(playerID), stateField, string(b))
}

// SetPosition overwrites a player's position and marks it dirty. Used by the
// movement service and by respawn/teleport.
func (m *PlayerStateManager) SetPosition(ctx context.Context, playerID int64, p Position) error {
	if err := m.writePosition(ctx, playerID, p); err != nil {
		return err
	}
	return m.c.SAdd(ctx, dirtyKey(CategoryPositions), fmt.Sprint(playerID))
}

// GetHP reads a player's HP, hydrating from the durable store on cache miss.
func (m *PlayerStateManager) GetHP(ctx context.Context, playerID int64) (HP, error) {
	raw, ok, err := m.c.HGet(ctx, hpKey(playerID), stateField)
	if err != nil {
		return HP{}, err
	}
	if ok {
		var hp HP
		if err := json.Unmarshal([]byte(raw), &hp); err != nil {
			return HP{}, err
		}
		return hp, nil
	}
	row, err := m.store.GetPlayerByID(ctx, playerID)
	if err != nil {
		return HP{}, err
	}
	hp := HP{Current: row.CurrentHP, Max: row.MaxHP}
	if err := m.writeHP(ctx, playerID, hp); err != nil {
		return HP{}, err
	}
	return hp, nil
}

func (m *PlayerStateManager) writeHP(ctx context.Context, playerID int64, hp HP) error {
	b, err := json.Marshal(hp)
	if err != nil {
		return err
	}
	return m.c.HSet(ctx, hpKey(playerID), stateField, string(b))
}

// SetHP overwrites a player's HP and marks it dirty. Invariant: 0 <= current
// <= max (spec.md §3); callers (the combat/HP service) are responsible for
// clamping before calling this. HP lives in the same players row as
// position, so it rides the positions dirty category (spec.md §3 names no
// separate dirty.hp set).
func (m *PlayerStateManager) SetHP(ctx context.Context, playerID int64, hp HP) error {
	if err := m.writeHP(ctx, playerID, hp); err != nil {
		return err
	}
	return m.c.SAdd(ctx, dirtyKey(CategoryPositions), fmt.Sprint(playerID))
}

// SetFullState overwrites any combination of position, HP, and combat state
// in one indivisible cache write, per spec.md §4.3's set_full_state
// contract. This is what the respawn and death sequences use instead of
// sequential SetHP/SetPosition/ClearCombatState calls: spec.md's invariant
// that HP==0 is never observable with a non-null combat state still in
// place requires those writes to land together, the same way equipment.go's
// Equip moves an item between inventory and equipment atomically.
func (m *PlayerStateManager) SetFullState(ctx context.Context, playerID int64, fs FullState) error {
	var sets []cache.HSetOp
	var dels []cache.HDelOp
	dirtyPositions := false

	if fs.Position != nil {
		b, err := json.Marshal(*fs.Position)
		if err != nil {
			return err
		}
		sets = append(sets, cache.HSetOp{Key: posKey(playerID), Field: stateField, Value: string(b)})
		dirtyPositions = true
	}
	if fs.HP != nil {
		b, err := json.Marshal(*fs.HP)
		if err != nil {
			return err
		}
		sets = append(sets, cache.HSetOp{Key: hpKey(playerID), Field: stateField, Value: string(b)})
		dirtyPositions = true
	}
	if fs.CombatState != nil {
		b, err := json.Marshal(*fs.CombatState)
		if err != nil {
			return err
		}
		sets = append(sets, cache.HSetOp{Key: combatKey(playerID), Field: stateField, Value: string(b)})
	} else if fs.ClearCombat {
		dels = append(dels, cache.HDelOp{Key: combatKey(playerID), Field: stateField})
	}

	if _, err := m.c.CompareAndSwap(ctx, nil, sets, dels); err != nil {
		return err
	}
	if !dirtyPositions {
		return nil
	}
	return m.c.SAdd(ctx, dirtyKey(CategoryPositions), fmt.Sprint(playerID))
}

// GetCombatState reads a player's combat state; ok is false if no combat is
// in progress.
func (m *PlayerStateManager) GetCombatState(ctx context.Context, playerID int64) (CombatState, bool, error) {
	raw, ok, err := m.c.HGet(ctx, combatKey(playerID), stateField)
	if err != nil || !ok {
		return CombatState{}, false, err
	}
	var cs CombatState
	if err := json.Unmarshal([]byte(raw), &cs); err != nil {
		return CombatState{}, false, err
	}
	return cs, true, nil
}

// SetCombatState writes a player's combat state.
func (m *PlayerStateManager) SetCombatState(ctx context.Context, playerID int64, cs CombatState) error {
	b, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	return m.c.HSet(ctx, combatKey(playerID), stateField, string(b))
}

// ClearCombatState removes a player's combat state. Spec.md §3: cleared on
// death, respawn, disconnect, or any successful movement.
func (m *PlayerStateManager) ClearCombatState(ctx context.Context, playerID int64) error {
	return m.c.HDel(ctx, combatKey(playerID), stateField)
}

// GetNearbyPlayerIDs returns online players on the same map within Chebyshev
// distance radius of center, per spec.md §4.3.
func (m *PlayerStateManager) GetNearbyPlayerIDs(ctx context.Context, center Position, mapID string, radius int, exclude int64) ([]int64, error) {
	ids, err := m.c.HKeys(ctx, keyOnlineByID)
	if err != nil {
		return nil, err
	}
	var out []int64
	for _, idStr := range ids {
		var id int64
		if _, err := fmt.Sscan(idStr, &id); err != nil || id == exclude {
			continue
		}
		p, err := m.GetPosition(ctx, id)
		if err != nil {
			continue
		}
		if p.MapID != mapID {
			continue
		}
		if chebyshev(center.X, center.Y, p.X, p.Y) <= radius {
			out = append(out, id)
		}
	}
	return out, nil
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

// nowUnix is a helper so the manager's clock injection reaches callers that need
// a float unix timestamp for Position/CombatState fields.
func (m *PlayerStateManager) nowUnix() float64 {
	return float64(m.clk.Now().UnixNano()) / float64(time.Second)
}

// NowUnix exposes the manager's clock for services that build Position and
// CombatState values (movement, combat).
func (m *PlayerStateManager) NowUnix() float64 { return m.nowUnix() }

// Now exposes the manager's injected clock directly, for callers (the
// dispatcher's ban/timeout check) that need a time.Time rather than a unix
// float.
func (m *PlayerStateManager) Now() time.Time { return m.clk.Now() }
