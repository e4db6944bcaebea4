package config

import (
	"testing"
	"time"
)

func TestLoadDefaultsWithNoEnvironmentSet(t *testing.T) {
	cfg := Load()

	if cfg.BindAddr != ":8800" {
		t.Fatalf("BindAddr = %q, want :8800", cfg.BindAddr)
	}
	if cfg.TickRateHz != 6.0 {
		t.Fatalf("TickRateHz = %v, want 6.0", cfg.TickRateHz)
	}
	if cfg.MoveCooldown != 500*time.Millisecond {
		t.Fatalf("MoveCooldown = %v, want 500ms", cfg.MoveCooldown)
	}
	if cfg.GroundItemPrivacyWindow != 60*time.Second {
		t.Fatalf("GroundItemPrivacyWindow = %v, want 60s", cfg.GroundItemPrivacyWindow)
	}
	if cfg.GroundItemDespawn != 300*time.Second {
		t.Fatalf("GroundItemDespawn = %v, want 300s", cfg.GroundItemDespawn)
	}
	if cfg.BatchSyncInterval != 2*time.Second {
		t.Fatalf("BatchSyncInterval = %v, want 2s", cfg.BatchSyncInterval)
	}
	if cfg.AggroRadius != 5 || cfg.DisengageRadius != 10 {
		t.Fatalf("AggroRadius/DisengageRadius = %d/%d, want 5/10", cfg.AggroRadius, cfg.DisengageRadius)
	}
	if cfg.WanderChance != 0.15 {
		t.Fatalf("WanderChance = %v, want 0.15", cfg.WanderChance)
	}
	if cfg.RNGSeed != 1 {
		t.Fatalf("RNGSeed = %d, want 1", cfg.RNGSeed)
	}
	if cfg.SpawnMapID != "overworld" || cfg.SpawnX != 0 || cfg.SpawnY != 0 {
		t.Fatalf("spawn point = %q/%d/%d, want overworld/0/0", cfg.SpawnMapID, cfg.SpawnX, cfg.SpawnY)
	}
}

func TestLoadHonorsEnvironmentOverrides(t *testing.T) {
	t.Setenv("BIND_ADDR", ":9900")
	t.Setenv("TICK_RATE_HZ", "10.5")
	t.Setenv("MOVE_COOLDOWN_MS", "750")
	t.Setenv("AGGRO_RADIUS", "8")
	t.Setenv("RNG_SEED", "42")
	t.Setenv("SPAWN_MAP_ID", "dungeon")

	cfg := Load()

	if cfg.BindAddr != ":9900" {
		t.Fatalf("BindAddr = %q, want :9900", cfg.BindAddr)
	}
	if cfg.TickRateHz != 10.5 {
		t.Fatalf("TickRateHz = %v, want 10.5", cfg.TickRateHz)
	}
	if cfg.MoveCooldown != 750*time.Millisecond {
		t.Fatalf("MoveCooldown = %v, want 750ms", cfg.MoveCooldown)
	}
	if cfg.AggroRadius != 8 {
		t.Fatalf("AggroRadius = %d, want 8", cfg.AggroRadius)
	}
	if cfg.RNGSeed != 42 {
		t.Fatalf("RNGSeed = %d, want 42", cfg.RNGSeed)
	}
	if cfg.SpawnMapID != "dungeon" {
		t.Fatalf("SpawnMapID = %q, want dungeon", cfg.SpawnMapID)
	}
}

func TestLoadFallsBackOnUnparsableOverrides(t *testing.T) {
	t.Setenv("TICK_RATE_HZ", "not-a-number")
	t.Setenv("AGGRO_RADIUS", "also-not-a-number")

	cfg := Load()

	if cfg.TickRateHz != 6.0 {
		t.Fatalf("TickRateHz = %v, want the 6.0 fallback on a bad value", cfg.TickRateHz)
	}
	if cfg.AggroRadius != 5 {
		t.Fatalf("AggroRadius = %d, want the 5 fallback on a bad value", cfg.AggroRadius)
	}
}
