package gamestate

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/vdmkenny/rpg-engine-sub003/internal/cache"
	"github.com/vdmkenny/rpg-engine-sub003/internal/clock"
)

// EntityState is the lifecycle state of a live entity instance, spec.md §3.
type EntityState string

const (
	EntityIdle   EntityState = "idle"
	EntityWalk   EntityState = "walk"
	EntityAttack EntityState = "attack"
	EntityDying  EntityState = "dying"
	EntityDead   EntityState = "dead"
)

// EntityInstance is one live monster/NPC, spec.md §3.
type EntityInstance struct {
	InstanceID          string      `json:"instance_id"`
	DisplayName          string      `json:"display_name,omitempty"`
	EntityDefName        string      `json:"entity_def_name"`
	MapID                string      `json:"map_id"`
	X                    int         `json:"x"`
	Y                    int         `json:"y"`
	CurrentHP             int         `json:"current_hp"`
	MaxHP                 int         `json:"max_hp"`
	State                EntityState `json:"state"`
	SpawnX                int         `json:"spawn_x"`
	SpawnY                int         `json:"spawn_y"`
	WanderRadius          int         `json:"wander_radius"`
	SpawnPointID          string      `json:"spawn_point_id"`
	TargetPlayerID        *int64      `json:"target_player_id,omitempty"`
	SpawnedAtUnix         float64     `json:"spawned_at_unix"`
	DyingAtUnix           float64     `json:"dying_at_unix,omitempty"`
	RespawnDelaySeconds    int         `json:"respawn_delay_seconds"`
	LastAttackTickUnix    float64     `json:"last_attack_tick_unix"`
}

// EntityManager is the façade over C1 for live entity instances and the
// respawn schedule, spec.md §4.3.
type EntityManager struct {
	c   cache.Cache
	clk clock.Clock
}

// NewEntityManager constructs an entity manager.
func NewEntityManager(c cache.Cache, clk clock.Clock) *EntityManager {
	return &EntityManager{c: c, clk: clk}
}

// Spawn creates a new live instance of an entity definition at (x, y) on
// map, recording (x, y) as its spawn point.
func (m *EntityManager) Spawn(ctx context.Context, defName, mapID string, x, y, hp int, wanderRadius int, spawnPointID string, respawnDelaySeconds int) (EntityInstance, error) {
	inst := EntityInstance{
		InstanceID:          uuid.NewString(),
		EntityDefName:       defName,
		MapID:               mapID,
		X:                   x,
		Y:                   y,
		CurrentHP:           hp,
		MaxHP:               hp,
		State:               EntityIdle,
		SpawnX:              x,
		SpawnY:              y,
		WanderRadius:        wanderRadius,
		SpawnPointID:        spawnPointID,
		SpawnedAtUnix:       unixFloat(m.clk),
		RespawnDelaySeconds: respawnDelaySeconds,
	}
	if err := m.write(ctx, inst); err != nil {
		return EntityInstance{}, err
	}
	if err := m.c.SAdd(ctx, entityByMapKey(mapID), inst.InstanceID); err != nil {
		return EntityInstance{}, err
	}
	return inst, nil
}

func (m *EntityManager) write(ctx context.Context, inst EntityInstance) error {
	b, err := json.Marshal(inst)
	if err != nil {
		return err
	}
	return m.c.HSet(ctx, entityKey(inst.InstanceID), stateField, string(b))
}

// Get reads one entity instance by id.
func (m *EntityManager) Get(ctx context.Context, instanceID string) (EntityInstance, bool, error) {
	raw, ok, err := m.c.HGet(ctx, entityKey(instanceID), stateField)
	if err != nil || !ok {
		return EntityInstance{}, false, err
	}
	var inst EntityInstance
	if err := json.Unmarshal([]byte(raw), &inst); err != nil {
		return EntityInstance{}, false, err
	}
	return inst, true, nil
}

// Update overwrites an entity instance in place.
func (m *EntityManager) Update(ctx context.Context, inst EntityInstance) error {
	return m.write(ctx, inst)
}

// ListByMap returns every live entity instance on a map.
func (m *EntityManager) ListByMap(ctx context.Context, mapID string) ([]EntityInstance, error) {
	ids, err := m.c.SMembers(ctx, entityByMapKey(mapID))
	if err != nil {
		return nil, err
	}
	out := make([]EntityInstance, 0, len(ids))
	for _, id := range ids {
		inst, ok, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, inst)
		}
	}
	return out, nil
}

// Remove removes a dead entity instance from the world.
func (m *EntityManager) Remove(ctx context.Context, inst EntityInstance) error {
	if err := m.c.Del(ctx, entityKey(inst.InstanceID)); err != nil {
		return err
	}
	return m.c.SRem(ctx, entityByMapKey(inst.MapID), inst.InstanceID)
}

// ScheduleRespawn enqueues a spawn point for re-spawning at "when" (unix
// seconds), spec.md §4.3. Stored as a sorted set keyed by due time so the
// respawn sweeper can zrangebyscore(0, now).
func (m *EntityManager) ScheduleRespawn(ctx context.Context, spawnPointID string, whenUnix float64) error {
	return m.c.ZAdd(ctx, keyRespawnZSet, spawnPointID, whenUnix)
}

// DueRespawns returns spawn point ids whose due time has passed, removing
// them from the schedule.
func (m *EntityManager) DueRespawns(ctx context.Context, nowUnix float64) ([]string, error) {
	ids, err := m.c.ZRangeByScore(ctx, keyRespawnZSet, 0, nowUnix)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := m.c.ZRem(ctx, keyRespawnZSet, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func unixFloat(clk clock.Clock) float64 {
	return float64(clk.Now().UnixNano()) / 1e9
}
