package gamestate

import "testing"

func TestXPForLevelMonotonic(t *testing.T) {
	prev := int64(-1)
	for level := 1; level <= 50; level++ {
		xp := xpForLevel(level, 1.0)
		if xp < prev {
			t.Fatalf("xpForLevel(%d) = %d, not monotonic (previous %d)", level, xp, prev)
		}
		prev = xp
	}
}

func TestXPForLevelOne(t *testing.T) {
	if xp := xpForLevel(1, 1.0); xp != 0 {
		t.Fatalf("xpForLevel(1) = %d, want 0", xp)
	}
}

func TestLevelForXPInverts(t *testing.T) {
	for level := 1; level <= 30; level++ {
		xp := xpForLevel(level, 1.0)
		if got := levelForXP(xp, 1.0); got != level {
			t.Fatalf("levelForXP(xpForLevel(%d)) = %d, want %d", level, got, level)
		}
	}
}

func TestLevelForXPClampsAtMax(t *testing.T) {
	if got := levelForXP(1<<62, 1.0); got != MaxSkillLevel {
		t.Fatalf("levelForXP(huge) = %d, want %d", got, MaxSkillLevel)
	}
}

func TestLevelForXPStaysAtOneBelowThreshold(t *testing.T) {
	if got := levelForXP(0, 1.0); got != 1 {
		t.Fatalf("levelForXP(0) = %d, want 1", got)
	}
}

func TestMultiplierScalesCurve(t *testing.T) {
	slow := xpForLevel(10, 0.9)
	fast := xpForLevel(10, 1.1)
	if slow >= fast {
		t.Fatalf("lower multiplier (%d) should require less XP than higher (%d)", slow, fast)
	}
}
