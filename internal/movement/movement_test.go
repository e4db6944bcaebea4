package movement

import (
	"context"
	"testing"
	"time"

	"github.com/vdmkenny/rpg-engine-sub003/internal/cache"
	"github.com/vdmkenny/rpg-engine-sub003/internal/clock"
	"github.com/vdmkenny/rpg-engine-sub003/internal/gamestate"
	"github.com/vdmkenny/rpg-engine-sub003/internal/protocol"
)

type blockedOracle struct {
	blockedX, blockedY int
}

func (b blockedOracle) Walkable(_ string, x, y int) bool {
	return !(x == b.blockedX && y == b.blockedY)
}

func newTestWorld() (*gamestate.World, *clock.Fake) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := cache.NewMemory()
	players := gamestate.NewPlayerStateManager(c, nil, clk)
	return &gamestate.World{Players: players}, clk
}

func TestExecuteMovesAndSetsFacing(t *testing.T) {
	ctx := context.Background()
	world, clk := newTestWorld()
	svc := New(world, AlwaysWalkable{}, clk, 500*time.Millisecond)

	const playerID = int64(1)
	if err := world.Players.RegisterOnline(ctx, playerID, "p"); err != nil {
		t.Fatalf("RegisterOnline: %v", err)
	}
	if err := world.Players.SetPosition(ctx, playerID, gamestate.Position{MapID: "overworld", X: 5, Y: 5}); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}

	res, err := svc.Execute(ctx, playerID, "down")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("Execute result = %+v, want success", res)
	}
	if res.NewPosition.X != 5 || res.NewPosition.Y != 6 || res.NewPosition.Facing != "down" {
		t.Fatalf("NewPosition = %+v, want (5,6,down)", res.NewPosition)
	}
}

func TestExecuteRespectsCooldown(t *testing.T) {
	ctx := context.Background()
	world, clk := newTestWorld()
	svc := New(world, AlwaysWalkable{}, clk, 500*time.Millisecond)

	const playerID = int64(1)
	_ = world.Players.RegisterOnline(ctx, playerID, "p")
	_ = world.Players.SetPosition(ctx, playerID, gamestate.Position{MapID: "overworld", X: 0, Y: 0})

	first, err := svc.Execute(ctx, playerID, "right")
	if err != nil || !first.Success {
		t.Fatalf("first Execute = (%+v, %v), want success", first, err)
	}

	clk.Advance(100 * time.Millisecond)
	second, err := svc.Execute(ctx, playerID, "right")
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if second.Success || second.Reason != protocol.ReasonRateLimited {
		t.Fatalf("second Execute = %+v, want rate_limited failure", second)
	}

	clk.Advance(500 * time.Millisecond)
	third, err := svc.Execute(ctx, playerID, "right")
	if err != nil || !third.Success {
		t.Fatalf("third Execute after cooldown = (%+v, %v), want success", third, err)
	}
	if third.NewPosition.X != 2 {
		t.Fatalf("third move X = %d, want 2", third.NewPosition.X)
	}
}

func TestExecuteBlockedByCollision(t *testing.T) {
	ctx := context.Background()
	world, clk := newTestWorld()
	svc := New(world, blockedOracle{blockedX: 1, blockedY: 0}, clk, 500*time.Millisecond)

	const playerID = int64(1)
	_ = world.Players.RegisterOnline(ctx, playerID, "p")
	_ = world.Players.SetPosition(ctx, playerID, gamestate.Position{MapID: "overworld", X: 0, Y: 0})

	res, err := svc.Execute(ctx, playerID, "right")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || !res.Collision || res.Reason != protocol.ReasonBlocked {
		t.Fatalf("Execute into blocked tile = %+v, want blocked failure", res)
	}

	// Position must not have moved.
	pos, err := world.Players.GetPosition(ctx, playerID)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos.X != 0 || pos.Y != 0 {
		t.Fatalf("position after blocked move = (%d,%d), want (0,0)", pos.X, pos.Y)
	}
}

func TestExecuteRejectsUnknownDirection(t *testing.T) {
	ctx := context.Background()
	world, clk := newTestWorld()
	svc := New(world, AlwaysWalkable{}, clk, 500*time.Millisecond)

	const playerID = int64(1)
	_ = world.Players.RegisterOnline(ctx, playerID, "p")
	_ = world.Players.SetPosition(ctx, playerID, gamestate.Position{MapID: "overworld", X: 0, Y: 0})

	res, err := svc.Execute(ctx, playerID, "sideways")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || res.Reason != protocol.ReasonInvalidDirection {
		t.Fatalf("Execute(sideways) = %+v, want invalid_direction failure", res)
	}
}

func TestExecuteClampsAtZero(t *testing.T) {
	ctx := context.Background()
	world, clk := newTestWorld()
	svc := New(world, AlwaysWalkable{}, clk, 500*time.Millisecond)

	const playerID = int64(1)
	_ = world.Players.RegisterOnline(ctx, playerID, "p")
	_ = world.Players.SetPosition(ctx, playerID, gamestate.Position{MapID: "overworld", X: 0, Y: 0})

	res, err := svc.Execute(ctx, playerID, "up")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.NewPosition.Y != 0 {
		t.Fatalf("Execute(up) at origin = %+v, want clamped Y=0", res)
	}
}

func TestExecuteRejectsOfflinePlayer(t *testing.T) {
	ctx := context.Background()
	world, clk := newTestWorld()
	svc := New(world, AlwaysWalkable{}, clk, 500*time.Millisecond)

	res, err := svc.Execute(ctx, 404, "up")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || res.Reason != protocol.ReasonPlayerNotOnline {
		t.Fatalf("Execute for offline player = %+v, want player_not_online failure", res)
	}
}
