// Package namegen generates display names. It is adapted from the teacher's
// callsign generator (utils.GenerateCallsign), which assigned arcade-style
// handles to newly created tank pilots; here it assigns flavor names to
// entity instances that share a spawn point, so "Goblin" spawns read as
// e.g. "Swift Goblin #4217" instead of all sharing one label.
package namegen

import (
	"fmt"

	"github.com/vdmkenny/rpg-engine-sub003/internal/rng"
)

var adjectives = []string{
	"Swift", "Savage", "Mangy", "Grizzled", "Feral", "Cunning", "Restless",
	"Weathered", "Battle-scarred", "Wiry", "Hulking", "Lurking", "Vicious",
}

// Suffix returns a short disambiguating suffix ("#4217") for an entity
// display name, so two goblins from the same spawn point are distinguishable
// in logs and UI without colliding.
func Suffix(src rng.Source) string {
	return fmt.Sprintf("#%04d", 1000+src.IntN(9000))
}

// Flavor returns a random adjective to prefix an entity's base display name,
// e.g. Flavor(src)+" Goblin".
func Flavor(src rng.Source) string {
	return adjectives[src.IntN(len(adjectives))]
}
