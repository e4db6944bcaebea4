// Package movement is the Movement Service (spec.md §4.5, C6): direction to
// new position, cooldown enforcement, collision, and combat-clear-on-move.
// Grounded in ezynda3-shell-shock-showdown's game.Manager.UpdatePlayer,
// which already debounces writes with a last-update timestamp map; here
// generalized into a directional step with an injectable collision oracle
// instead of free-form coordinates.
package movement

import (
	"context"
	"strings"
	"time"

	"github.com/vdmkenny/rpg-engine-sub003/internal/clock"
	"github.com/vdmkenny/rpg-engine-sub003/internal/gamestate"
	"github.com/vdmkenny/rpg-engine-sub003/internal/protocol"
)

// MapOracle answers whether a tile is walkable. Out of scope per spec.md §1
// (the TMX map parser is an external collaborator); this is the seam a real
// map loader plugs into.
type MapOracle interface {
	Walkable(mapID string, x, y int) bool
}

// AlwaysWalkable is a MapOracle with no collision, useful for tests and for
// maps with no loaded geometry yet.
type AlwaysWalkable struct{}

// Walkable always returns true.
func (AlwaysWalkable) Walkable(string, int, int) bool { return true }

// Service is the Movement Service.
type Service struct {
	world    *gamestate.World
	oracle   MapOracle
	clk      clock.Clock
	cooldown time.Duration
}

// New constructs a movement service.
func New(world *gamestate.World, oracle MapOracle, clk clock.Clock, cooldown time.Duration) *Service {
	return &Service{world: world, oracle: oracle, clk: clk, cooldown: cooldown}
}

// directionOffsets resolves the case-insensitive direction synonyms from
// spec.md §4.5 into unit (dx, dy) steps.
func directionOffsets(direction string) (dx, dy int, ok bool) {
	switch strings.ToLower(direction) {
	case "up", "north":
		return 0, -1, true
	case "down", "south":
		return 0, 1, true
	case "left", "west":
		return -1, 0, true
	case "right", "east":
		return 1, 0, true
	}
	return 0, 0, false
}

// MoveResult mirrors spec.md §4.5's execute_movement contract.
type MoveResult struct {
	Success           bool
	Reason            string
	OldPosition       gamestate.Position
	NewPosition       gamestate.Position
	Collision         bool
	CooldownRemaining time.Duration
}

// Execute performs one directional step for a player.
func (s *Service) Execute(ctx context.Context, playerID int64, direction string) (MoveResult, error) {
	dx, dy, ok := directionOffsets(direction)
	if !ok {
		return MoveResult{Success: false, Reason: protocol.ReasonInvalidDirection}, nil
	}

	online, err := s.world.Players.IsOnline(ctx, playerID)
	if err != nil {
		return MoveResult{}, err
	}
	if !online {
		return MoveResult{Success: false, Reason: protocol.ReasonPlayerNotOnline}, nil
	}

	old, err := s.world.Players.GetPosition(ctx, playerID)
	if err != nil {
		return MoveResult{}, err
	}

	now := s.clk.Now()
	lastMove := unixToTime(old.LastMoveUnix)
	if elapsed := now.Sub(lastMove); elapsed < s.cooldown {
		return MoveResult{
			Success:           false,
			Reason:            protocol.ReasonRateLimited,
			OldPosition:       old,
			CooldownRemaining: s.cooldown - elapsed,
		}, nil
	}

	newX, newY := clamp0(old.X+dx), clamp0(old.Y+dy)
	if !s.oracle.Walkable(old.MapID, newX, newY) {
		return MoveResult{Success: false, Reason: protocol.ReasonBlocked, OldPosition: old, Collision: true}, nil
	}

	newPos := gamestate.Position{
		MapID:        old.MapID,
		X:            newX,
		Y:            newY,
		Facing:       facingFor(dx, dy),
		LastMoveUnix: timeToUnix(now),
	}
	if err := s.world.Players.SetPosition(ctx, playerID, newPos); err != nil {
		return MoveResult{}, err
	}
	if err := s.world.Players.ClearCombatState(ctx, playerID); err != nil {
		return MoveResult{}, err
	}

	return MoveResult{Success: true, OldPosition: old, NewPosition: newPos}, nil
}

// Teleport bypasses the cooldown but still enforces non-negative coordinates
// and, if validate is set, walkability (spec.md §4.5).
func (s *Service) Teleport(ctx context.Context, playerID int64, mapID string, x, y int, validate bool) (MoveResult, error) {
	x, y = clamp0(x), clamp0(y)
	if validate && !s.oracle.Walkable(mapID, x, y) {
		return MoveResult{Success: false, Reason: protocol.ReasonBlocked, Collision: true}, nil
	}

	old, err := s.world.Players.GetPosition(ctx, playerID)
	if err != nil {
		return MoveResult{}, err
	}

	newPos := gamestate.Position{MapID: mapID, X: x, Y: y, Facing: old.Facing, LastMoveUnix: timeToUnix(s.clk.Now())}
	if err := s.world.Players.SetPosition(ctx, playerID, newPos); err != nil {
		return MoveResult{}, err
	}
	if err := s.world.Players.ClearCombatState(ctx, playerID); err != nil {
		return MoveResult{}, err
	}
	return MoveResult{Success: true, OldPosition: old, NewPosition: newPos}, nil
}

func facingFor(dx, dy int) string {
	switch {
	case dy < 0:
		return "up"
	case dy > 0:
		return "down"
	case dx < 0:
		return "left"
	case dx > 0:
		return "right"
	}
	return "down"
}

func clamp0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func unixToTime(u float64) time.Time {
	sec := int64(u)
	nsec := int64((u - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func timeToUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
