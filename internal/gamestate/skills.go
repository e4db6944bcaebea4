package gamestate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vdmkenny/rpg-engine-sub003/internal/cache"
	"github.com/vdmkenny/rpg-engine-sub003/internal/refdata"
	"github.com/vdmkenny/rpg-engine-sub003/internal/store"
)

// SkillState is one per-player skill record.
type SkillState struct {
	Level int   `json:"level"`
	XP    int64 `json:"xp"`
}

// LevelUpResult reports the outcome of granting experience, spec.md §4.3.
type LevelUpResult struct {
	PreviousLevel int
	CurrentLevel  int
	XPGained      int64
	LeveledUp     bool
}

// SkillsManager is the façade over C1 for per-player skills, spec.md §4.3.
type SkillsManager struct {
	c       cache.Cache
	store   *store.Store
	catalog *refdata.Catalog
}

// NewSkillsManager constructs a skills manager.
func NewSkillsManager(c cache.Cache, st *store.Store, catalog *refdata.Catalog) *SkillsManager {
	return &SkillsManager{c: c, store: st, catalog: catalog}
}

// GrantAll ensures every skill in reference data has a record for the
// player, seeding hitpoints at level 10 and everything else at 1, per
// spec.md §3. Idempotent: existing records are left untouched.
func (m *SkillsManager) GrantAll(ctx context.Context, playerID int64) error {
	existing, err := m.c.HGetAll(ctx, skillsKey(playerID))
	if err != nil {
		return err
	}
	for _, def := range m.catalog.Skills() {
		if _, ok := existing[def.Name]; ok {
			continue
		}
		startLevel := def.StartLevel
		if startLevel == 0 {
			startLevel = 1
		}
		xp := xpForLevel(startLevel, def.Multiplier)
		if err := m.writeSkill(ctx, playerID, def.Name, SkillState{Level: startLevel, XP: xp}); err != nil {
			return err
		}
	}
	return m.c.SAdd(ctx, dirtyKey(CategorySkills), fmt.Sprint(playerID))
}

// GetSkills reads every skill record, hydrating from the durable store on
// cache miss.
func (m *SkillsManager) GetSkills(ctx context.Context, playerID int64) (map[string]SkillState, error) {
	raw, err := m.c.HGetAll(ctx, skillsKey(playerID))
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		return decodeSkills(raw)
	}

	rows, err := m.store.GetSkills(ctx, playerID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]SkillState, len(rows))
	for _, r := range rows {
		s := SkillState{Level: r.Level, XP: r.XP}
		out[r.SkillName] = s
		if err := m.writeSkill(ctx, playerID, r.SkillName, s); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeSkills(raw map[string]string) (map[string]SkillState, error) {
	out := make(map[string]SkillState, len(raw))
	for name, v := range raw {
		var s SkillState
		if err := json.Unmarshal([]byte(v), &s); err != nil {
			return nil, err
		}
		out[name] = s
	}
	return out, nil
}

func (m *SkillsManager) writeSkill(ctx context.Context, playerID int64, name string, s SkillState) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.c.HSet(ctx, skillsKey(playerID), name, string(b))
}

// AddExperience grants XP to one skill and recomputes its level from total
// XP via the reference-data-driven table, per spec.md §4.3.
func (m *SkillsManager) AddExperience(ctx context.Context, playerID int64, skillName string, amount int64) (LevelUpResult, error) {
	def, ok := m.catalog.Skill(skillName)
	if !ok {
		return LevelUpResult{}, fmt.Errorf("unknown skill %q", skillName)
	}

	skills, err := m.GetSkills(ctx, playerID)
	if err != nil {
		return LevelUpResult{}, err
	}
	current, ok := skills[skillName]
	if !ok {
		startLevel := def.StartLevel
		if startLevel == 0 {
			startLevel = 1
		}
		current = SkillState{Level: startLevel, XP: xpForLevel(startLevel, def.Multiplier)}
	}

	previousLevel := current.Level
	current.XP += amount
	current.Level = levelForXP(current.XP, def.Multiplier)

	if err := m.writeSkill(ctx, playerID, skillName, current); err != nil {
		return LevelUpResult{}, err
	}
	if err := m.c.SAdd(ctx, dirtyKey(CategorySkills), fmt.Sprint(playerID)); err != nil {
		return LevelUpResult{}, err
	}

	return LevelUpResult{
		PreviousLevel: previousLevel,
		CurrentLevel:  current.Level,
		XPGained:      amount,
		LeveledUp:     current.Level > previousLevel,
	}, nil
}
