// Package refdata is the Reference Data Manager (spec.md §4.3, C3): a
// process-wide immutable catalog of item, skill, and entity definitions.
// Grounded in the teacher's config-at-startup style (ezynda3's main.go loads
// its NATS/Postgres config once, up front, into long-lived structs) but the
// catalog content itself comes from YAML fixtures rather than Go literals,
// following gopkg.in/yaml.v3 already in the teacher's indirect dependency
// set. Once loaded, nothing mutates a definition again.
package refdata

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var fixturesFS embed.FS

// ItemDef is an immutable item definition: combat bonuses, stacking and
// equip-slot rules, drawn from original_source's item-system migration.
type ItemDef struct {
	Name              string  `yaml:"name"`
	DisplayName       string  `yaml:"display_name"`
	Description       string  `yaml:"description"`
	Category          string  `yaml:"category"`
	Rarity            string  `yaml:"rarity"`
	EquipmentSlot     *string `yaml:"equipment_slot"`
	MaxStackSize      int     `yaml:"max_stack_size"`
	IsTwoHanded       bool    `yaml:"is_two_handed"`
	MaxDurability     *int    `yaml:"max_durability"`
	IsIndestructible  bool    `yaml:"is_indestructible"`
	IsTradeable       bool    `yaml:"is_tradeable"`
	RequiredSkill     *string `yaml:"required_skill"`
	RequiredLevel     int     `yaml:"required_level"`
	AmmoType          *string `yaml:"ammo_type"`
	Value             int     `yaml:"value"`
	AttackRange       int     `yaml:"attack_range"`
	AttackSpeedTicks  int     `yaml:"attack_speed_ticks"`
	AttackBonus       int     `yaml:"attack_bonus"`
	StrengthBonus     int     `yaml:"strength_bonus"`
	RangedAttackBonus int     `yaml:"ranged_attack_bonus"`
	RangedStrengthBonus int   `yaml:"ranged_strength_bonus"`
	MagicAttackBonus  int     `yaml:"magic_attack_bonus"`
	MagicDamageBonus  int     `yaml:"magic_damage_bonus"`
	PhysicalDefenceBonus int  `yaml:"physical_defence_bonus"`
	MagicDefenceBonus int     `yaml:"magic_defence_bonus"`
	HealthBonus       int     `yaml:"health_bonus"`
	SpeedBonus        int     `yaml:"speed_bonus"`
	MiningBonus       int     `yaml:"mining_bonus"`
	WoodcuttingBonus  int     `yaml:"woodcutting_bonus"`
	FishingBonus      int     `yaml:"fishing_bonus"`
}

// SkillDef is an immutable skill definition: the base XP multiplier used by
// the monotonic XP table.
type SkillDef struct {
	Name       string  `yaml:"name"`
	Multiplier float64 `yaml:"multiplier"`
	StartLevel int     `yaml:"start_level"`
}

// EntityDef is an immutable monster/NPC template.
type EntityDef struct {
	Name            string `yaml:"name"`
	DisplayName     string `yaml:"display_name"`
	MaxHP           int    `yaml:"max_hp"`
	AttackBonus     int    `yaml:"attack_bonus"`
	StrengthBonus   int    `yaml:"strength_bonus"`
	DefenceBonus    int    `yaml:"defence_bonus"`
	AttackRange     int    `yaml:"attack_range"`
	AttackSpeedTicks int   `yaml:"attack_speed_ticks"`
	Behavior        string `yaml:"behavior"` // aggressive | passive
	WanderRadius    int    `yaml:"wander_radius"`
	AggroRadius     int    `yaml:"aggro_radius"`
	RespawnDelaySeconds int `yaml:"respawn_delay_seconds"`
	LootTable       []LootEntry `yaml:"loot_table"`
}

// LootEntry is one weighted drop on an entity's loot table.
type LootEntry struct {
	ItemName string  `yaml:"item_name"`
	Quantity int     `yaml:"quantity"`
	Chance   float64 `yaml:"chance"`
}

type itemsFile struct {
	Items []ItemDef `yaml:"items"`
}

type skillsFile struct {
	Skills []SkillDef `yaml:"skills"`
}

type entitiesFile struct {
	Entities []EntityDef `yaml:"entities"`
}

// Catalog is the immutable, process-wide reference data set.
type Catalog struct {
	items    map[string]ItemDef
	skills   map[string]SkillDef
	entities map[string]EntityDef
}

// Load parses the embedded YAML fixtures into a Catalog. Call once at
// startup; the returned Catalog is safe for concurrent read-only use.
func Load() (*Catalog, error) {
	var itemsSrc itemsFile
	if b, err := fixturesFS.ReadFile("data/items.yaml"); err != nil {
		return nil, fmt.Errorf("read items.yaml: %w", err)
	} else if err := yaml.Unmarshal(b, &itemsSrc); err != nil {
		return nil, fmt.Errorf("parse items.yaml: %w", err)
	}

	var skillsSrc skillsFile
	if b, err := fixturesFS.ReadFile("data/skills.yaml"); err != nil {
		return nil, fmt.Errorf("read skills.yaml: %w", err)
	} else if err := yaml.Unmarshal(b, &skillsSrc); err != nil {
		return nil, fmt.Errorf("parse skills.yaml: %w", err)
	}

	var entitiesSrc entitiesFile
	if b, err := fixturesFS.ReadFile("data/entities.yaml"); err != nil {
		return nil, fmt.Errorf("read entities.yaml: %w", err)
	} else if err := yaml.Unmarshal(b, &entitiesSrc); err != nil {
		return nil, fmt.Errorf("parse entities.yaml: %w", err)
	}

	c := &Catalog{
		items:    make(map[string]ItemDef, len(itemsSrc.Items)),
		skills:   make(map[string]SkillDef, len(skillsSrc.Skills)),
		entities: make(map[string]EntityDef, len(entitiesSrc.Entities)),
	}
	for _, it := range itemsSrc.Items {
		c.items[it.Name] = it
	}
	for _, sk := range skillsSrc.Skills {
		c.skills[sk.Name] = sk
	}
	for _, en := range entitiesSrc.Entities {
		c.entities[en.Name] = en
	}
	return c, nil
}

// Item returns an item definition by name.
func (c *Catalog) Item(name string) (ItemDef, bool) {
	d, ok := c.items[name]
	return d, ok
}

// Skill returns a skill definition by name.
func (c *Catalog) Skill(name string) (SkillDef, bool) {
	d, ok := c.skills[name]
	return d, ok
}

// Entity returns an entity definition by name.
func (c *Catalog) Entity(name string) (EntityDef, bool) {
	d, ok := c.entities[name]
	return d, ok
}

// Items returns every loaded item definition, for seeding the durable store.
func (c *Catalog) Items() []ItemDef {
	out := make([]ItemDef, 0, len(c.items))
	for _, d := range c.items {
		out = append(out, d)
	}
	return out
}

// Skills returns every loaded skill definition.
func (c *Catalog) Skills() []SkillDef {
	out := make([]SkillDef, 0, len(c.skills))
	for _, d := range c.skills {
		out = append(out, d)
	}
	return out
}
