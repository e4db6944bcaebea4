package gamestate

import "math"

// MaxSkillLevel bounds the XP table; nothing in the reference data asks for
// a skill higher than this.
const MaxSkillLevel = 99

// xpForLevel mirrors the familiar exponential XP curve (RuneScape-style),
// scaled by the skill's multiplier from reference data. Monotonic in level,
// per spec.md §3's requirement that level be derivable from total XP.
func xpForLevel(level int, multiplier float64) int64 {
	if level <= 1 {
		return 0
	}
	var total float64
	for l := 1; l < level; l++ {
		total += math.Floor(float64(l) + 300*math.Pow(2, float64(l)/7.0))
	}
	return int64(math.Floor(total / 4 * multiplier))
}

// levelForXP inverts xpForLevel: the highest level whose XP requirement is
// at or below the given total, clamped to [1, MaxSkillLevel].
func levelForXP(xp int64, multiplier float64) int {
	level := 1
	for level < MaxSkillLevel && xpForLevel(level+1, multiplier) <= xp {
		level++
	}
	return level
}
