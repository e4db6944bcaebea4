// Command server boots the Game State Core: embedded NATS, Redis, Postgres,
// every gameplay service, and the websocket listener that accepts players.
// Grounded in ezynda3-shell-shock-showdown's main.go bootstrap shape (start
// embedded NATS, connect a client, wire a manager, serve), rehomed from
// PocketBase's app.Start() onto a cobra root command per the teacher's own
// use of spf13/cobra for migratecmd's subcommands.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/delaneyj/toolbelt/embeddednats"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vdmkenny/rpg-engine-sub003/internal/ai"
	"github.com/vdmkenny/rpg-engine-sub003/internal/batchsync"
	"github.com/vdmkenny/rpg-engine-sub003/internal/cache"
	"github.com/vdmkenny/rpg-engine-sub003/internal/clock"
	"github.com/vdmkenny/rpg-engine-sub003/internal/combat"
	"github.com/vdmkenny/rpg-engine-sub003/internal/config"
	"github.com/vdmkenny/rpg-engine-sub003/internal/events"
	"github.com/vdmkenny/rpg-engine-sub003/internal/gamestate"
	"github.com/vdmkenny/rpg-engine-sub003/internal/movement"
	"github.com/vdmkenny/rpg-engine-sub003/internal/protocol"
	"github.com/vdmkenny/rpg-engine-sub003/internal/refdata"
	"github.com/vdmkenny/rpg-engine-sub003/internal/rng"
	"github.com/vdmkenny/rpg-engine-sub003/internal/store"
	"github.com/vdmkenny/rpg-engine-sub003/internal/transport"
)

var logger = charmlog.NewWithOptions(os.Stderr, charmlog.Options{ReportTimestamp: true})

func main() {
	root := &cobra.Command{
		Use:   "server",
		Short: "runs the Game State Core",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	root.AddCommand(migrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Fatal("server exited", "err", err)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "applies pending database migrations and exits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			return store.Migrate(cfg.PostgresDSN)
		},
	}
}

func run(ctx context.Context) error {
	cfg := config.Load()

	if err := store.Migrate(cfg.PostgresDSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer st.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	c := cache.NewRedis(redisClient)

	ns, err := embeddednats.New(ctx,
		embeddednats.WithDirectory(os.TempDir()+"/rpg-engine-nats"),
		embeddednats.WithNATSServerOptions(&server.Options{}),
	)
	if err != nil {
		return fmt.Errorf("start embedded nats: %w", err)
	}
	ns.NatsServer.Start()
	ns.WaitForServer()
	logger.Info("embedded nats started", "url", ns.NatsServer.ClientURL())

	nc, err := nats.Connect(ns.NatsServer.ClientURL(),
		nats.Name("rpg-engine-core"),
		nats.InProcessServer(ns.NatsServer),
	)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Drain()
	bus := events.New(nc)

	catalog, err := refdata.Load()
	if err != nil {
		return fmt.Errorf("load reference data: %w", err)
	}
	if err := st.SeedItems(ctx, itemRowsFrom(catalog)); err != nil {
		return fmt.Errorf("seed items: %w", err)
	}

	clk := clock.Real{}
	world := gamestate.NewWorld(c, st, catalog, clk, cfg.GroundItemPrivacyWindow, cfg.GroundItemDespawn)
	if err := world.Ground.LoadFromStore(ctx); err != nil {
		return fmt.Errorf("hydrate ground items: %w", err)
	}

	src := rng.NewSeeded(cfg.RNGSeed)
	moves := movement.New(world, movement.AlwaysWalkable{}, clk, cfg.MoveCooldown)
	fights := combat.New(world, catalog, clk, src, cfg.SpawnMapID, cfg.SpawnX, cfg.SpawnY)

	conns := transport.NewConnectionManager()
	tokens := transport.NewCacheTokenVerifier(c)
	dispatcher := transport.New(world, st, catalog, moves, fights, conns, bus, tokens, logger)

	ticker := ai.New(world, catalog, fights, clk, src, conns, logger,
		cfg.AggroRadius, cfg.DisengageRadius, cfg.WanderChance, defaultSpawnPoints(cfg))
	if err := ticker.SpawnInitial(ctx); err != nil {
		return fmt.Errorf("spawn initial entities: %w", err)
	}

	syncer := batchsync.New(c, st, world, logger)

	httpServer := &http.Server{Addr: cfg.BindAddr, Handler: wsHandler(dispatcher)}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker.Run(gctx, tickInterval(cfg.TickRateHz))
		return nil
	})

	g.Go(func() error {
		runBatchSync(gctx, syncer, cfg.BatchSyncInterval)
		return nil
	})

	g.Go(func() error {
		runGroundSweep(gctx, world, conns, cfg.RespawnSweepRate)
		return nil
	})

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_ = bus.PublishGlobal(shutdownEnvelope())
	_ = httpServer.Shutdown(shutdownCtx)

	if err := syncer.ShutdownDrain(shutdownCtx, conns.OnlinePlayerIDs()); err != nil {
		logger.Error("shutdown drain failed", "err", err)
		_ = g.Wait()
		return err
	}
	logger.Info("shutdown drain complete")

	return g.Wait()
}

func tickInterval(hz float64) time.Duration {
	if hz <= 0 {
		hz = 6.0
	}
	return time.Duration(float64(time.Second) / hz)
}

func runBatchSync(ctx context.Context, syncer *batchsync.Coordinator, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			res, err := syncer.SyncAll(ctx)
			if err != nil {
				logger.Warn("batch sync failed", "err", err)
				continue
			}
			for category, n := range res.Failed {
				if n > 0 {
					logger.Warn("batch sync partial failure", "category", category, "failed", n)
				}
			}
		}
	}
}

func runGroundSweep(ctx context.Context, world *gamestate.World, conns *transport.ConnectionManager, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			expired, err := world.Ground.SweepExpired(ctx)
			if err != nil {
				logger.Warn("ground sweep failed", "err", err)
				continue
			}
			for _, g := range expired {
				env := despawnEnvelope(g.ID)
				conns.Fanout(g.MapID, transport.AllSessions, env)
			}
		}
	}
}

func itemRowsFrom(catalog *refdata.Catalog) []store.ItemDefRow {
	items := catalog.Items()
	rows := make([]store.ItemDefRow, 0, len(items))
	for _, d := range items {
		rows = append(rows, store.ItemDefRow{
			Name: d.Name, DisplayName: d.DisplayName, Description: d.Description,
			Category: d.Category, Rarity: d.Rarity, EquipmentSlot: d.EquipmentSlot,
			MaxStackSize: d.MaxStackSize, IsTwoHanded: d.IsTwoHanded, MaxDurability: d.MaxDurability,
			IsIndestructible: d.IsIndestructible, IsTradeable: d.IsTradeable,
			RequiredSkill: d.RequiredSkill, RequiredLevel: d.RequiredLevel, AmmoType: d.AmmoType,
			Value: d.Value, AttackRange: d.AttackRange,
			AttackBonus: d.AttackBonus, StrengthBonus: d.StrengthBonus,
			RangedAttackBonus: d.RangedAttackBonus, RangedStrengthBonus: d.RangedStrengthBonus,
			MagicAttackBonus: d.MagicAttackBonus, MagicDamageBonus: d.MagicDamageBonus,
			PhysicalDefenceBonus: d.PhysicalDefenceBonus, MagicDefenceBonus: d.MagicDefenceBonus,
			HealthBonus: d.HealthBonus, SpeedBonus: d.SpeedBonus,
			MiningBonus: d.MiningBonus, WoodcuttingBonus: d.WoodcuttingBonus, FishingBonus: d.FishingBonus,
		})
	}
	return rows
}

// defaultSpawnPoints seeds a small starter roster of monsters on the
// configured map. A real deployment would read these from the TMX map data
// (out of scope, spec.md §1); hardcoded here as the seam that data would
// flow through.
func defaultSpawnPoints(cfg config.Config) []ai.SpawnPoint {
	return []ai.SpawnPoint{
		{ID: "goblin-1", EntityDefName: "goblin", MapID: cfg.SpawnMapID, X: cfg.SpawnX + 5, Y: cfg.SpawnY + 5},
		{ID: "goblin-2", EntityDefName: "goblin", MapID: cfg.SpawnMapID, X: cfg.SpawnX + 8, Y: cfg.SpawnY + 3},
		{ID: "rat-1", EntityDefName: "rat", MapID: cfg.SpawnMapID, X: cfg.SpawnX + 2, Y: cfg.SpawnY + 6},
		{ID: "chicken-1", EntityDefName: "chicken", MapID: cfg.SpawnMapID, X: cfg.SpawnX - 3, Y: cfg.SpawnY + 2},
	}
}

func shutdownEnvelope() protocol.Envelope {
	return protocol.Event("", protocol.EventServerShutdown, map[string]any{"message": "server shutting down"})
}

func despawnEnvelope(groundID string) protocol.Envelope {
	return protocol.Event("", protocol.EventGroundItemDespawn, map[string]any{"ground_item_id": groundID})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func wsHandler(dispatcher *transport.Dispatcher) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "err", err)
			return
		}
		s := transport.NewSession(conn)
		go s.WriteLoop()
		go func() {
			s.ReadLoop(dispatcher.Handle)
			dispatcher.Disconnect(s)
		}()
	})
	return mux
}
