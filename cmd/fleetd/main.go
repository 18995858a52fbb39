package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simfleet/server/internal/assets"
	"github.com/simfleet/server/internal/config"
	"github.com/simfleet/server/internal/core/event"
	coresys "github.com/simfleet/server/internal/core/system"
	"github.com/simfleet/server/internal/fleet"
	"github.com/simfleet/server/internal/geom"
	"github.com/simfleet/server/internal/handler"
	gonet "github.com/simfleet/server/internal/net"
	"github.com/simfleet/server/internal/net/packet"
	"github.com/simfleet/server/internal/persist"
	"github.com/simfleet/server/internal/replay"
	"github.com/simfleet/server/internal/scripting"
	"github.com/simfleet/server/internal/system"
	"github.com/simfleet/server/internal/transport/observer"
	"github.com/simfleet/server/internal/vehicle"
	"github.com/simfleet/server/internal/vehicle/kinematic"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m             simfleet  v0.1.0              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m       vehicle fleet simulation server     \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s \033[90m(id: %d)\033[0m\n\n", serverName, serverID)
}

func printSection(title string) {
	lineLen := max(46-len(title)-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := max(42-len(label)-len(numStr), 3)
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("FLEET_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 3. Optional PostgreSQL: lifecycle journal and replay store
	var db *persist.DB
	if cfg.Database.Enabled {
		printSection("database")
		db, err = persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")

		version, err := persist.RunMigrations(ctx, db.Pool, log)
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK(fmt.Sprintf("migrations applied (version %d)", version))
		fmt.Println()
	}

	// 4. Load data
	printSection("data")
	catalog, err := assets.Load(cfg.Assets.Catalog)
	if err != nil {
		return fmt.Errorf("load assets: %w", err)
	}
	printStat("assets", catalog.Count())

	var driver kinematic.Driver
	if cfg.Scripting.Driver {
		luaEngine, err := scripting.NewEngine(cfg.Scripting.Dir, log)
		if err != nil {
			return fmt.Errorf("scripting: %w", err)
		}
		defer luaEngine.Close()
		driver = luaEngine
		printOK("lua drivers loaded")
	}

	regions := fleet.NewBoxRegions()
	for _, r := range cfg.Regions {
		regions.Set(fleet.Region{
			Instance: r.Instance,
			Name:     r.Name,
			Box:      geom.NewAABB(vec(r.Min), vec(r.Max)),
		})
	}
	printStat("regions", len(cfg.Regions))
	fmt.Println()

	// 5. Replay recorder
	var recorder *replay.Recorder
	if cfg.Replay.Enabled {
		sink, err := openReplaySink(ctx, cfg, db, log)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		recorder = replay.NewRecorder(sink, cfg.Replay.Interval, cfg.Replay.FlushEvery, log)
	}

	// 6. Fleet
	bus := event.NewBus()
	sessions := gonet.NewSessionStore()
	broadcaster := handler.NewBroadcaster(sessions, int32(cfg.Server.ID))
	broadcaster.Subscribe(bus)

	poolSize := fleet.PoolSize(cfg.Simulation.DisableThreadPool, cfg.Simulation.NumThreadsInPool, runtime.NumCPU())
	env := &kinematic.Env{
		Pool:   fleet.NewPool(poolSize),
		Out:    broadcaster,
		Driver: driver,
	}
	env.SetGravity(cfg.Simulation.Gravity)

	fdeps := fleet.Deps{
		Log:     log,
		Bus:     bus,
		Assets:  catalog,
		Builder: kinematic.NewBuilder(catalog, env),
		Regions: regions,
	}
	if recorder != nil {
		fdeps.Recorder = recorder
	}
	fl, err := fleet.NewFactory(fleet.Options{
		MaxInstances:   cfg.Simulation.MaxInstances,
		SingleThreaded: !cfg.Simulation.MultiThreading,
		AsyncPhysics:   cfg.Simulation.AsyncPhysics,
		MaxStep:        cfg.Simulation.MaxStep.Seconds(),
		Networking:     cfg.Network.Enabled,
		CellSize:       cfg.Simulation.CellSize,
	}, fdeps)
	if err != nil {
		return fmt.Errorf("fleet: %w", err)
	}
	defer fl.Shutdown()

	printSection("fleet")
	spawned := spawnInstances(fl, cfg.Simulation.Spawn, log)
	printStat("instances", spawned)
	printStat("step pool", poolSize)
	fmt.Println()

	// 7. Systems
	runner := coresys.NewRunner()

	var netServer *gonet.Server
	if cfg.Network.Enabled {
		pktReg := packet.NewRegistry(log)
		deps := &handler.Deps{
			Config:   cfg,
			Log:      log,
			Fleet:    fl,
			Sessions: sessions,
		}
		handler.RegisterAll(pktReg, deps)

		netServer, err = gonet.NewServer(cfg.Network.BindAddress, gonet.Limits{
			InQueue:       cfg.Network.InQueueSize,
			OutQueue:      cfg.Network.OutQueueSize,
			PacketsPerSec: cfg.Network.PacketsPerSecond,
			ReadTimeout:   cfg.Network.ReadTimeout,
			WriteTimeout:  cfg.Network.WriteTimeout,
			MaxPeers:      cfg.Network.MaxPeers,
			MaxPerIP:      cfg.Network.MaxPeersPerIP,
		}, log)
		if err != nil {
			return fmt.Errorf("net server: %w", err)
		}
		go netServer.AcceptLoop()

		// Local streams go out under this server's id from now on.
		fl.LocalUserAttributesChanged(int32(cfg.Server.ID))

		runner.Register(system.NewInputSystem(netServer, pktReg, deps, cfg.Network.MaxPacketsPerTick, log))
	}
	runner.Register(system.NewStreamSystem(fl, log))
	runner.Register(system.NewEventSystem(bus))
	runner.Register(system.NewAISystem(fl))
	runner.Register(system.NewPhysicsSystem(fl))
	runner.Register(system.NewVisualSystem(fl))
	runner.Register(system.NewOutputSystem(sessions))

	var journal *system.JournalSystem
	if db != nil {
		journal = system.NewJournalSystem(persist.NewJournalRepo(db, cfg.Server.Name), fl, 0, log)
		journal.Subscribe(bus)
		runner.Register(journal)
	}
	if recorder != nil {
		runner.Register(system.NewReplaySystem(recorder, log))
	}

	var obs *observer.Server
	if cfg.Observer.Enabled {
		obs = observer.NewServer(instanceLister(fl), observer.Options{
			SendQueue:   cfg.Observer.SendQueue,
			AllowRemote: cfg.Observer.AllowRemote,
		}, log)
		obs.Subscribe(bus)
		runner.Register(system.NewControlSystem(obs, fl, log))
		go func() {
			if err := obs.ListenAndServe(cfg.Observer.BindAddress, cfg.Observer.Path); err != nil {
				log.Error("observer stopped", zap.Error(err))
			}
		}()
	}

	// 8. Start tick loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	tick := cfg.Simulation.TickRate
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	runner.SetBudget(tick, func(st coresys.TickStats) {
		phase, took := st.Slowest()
		log.Warn("tick overran budget",
			zap.Duration("took", st.Total),
			zap.Duration("budget", tick),
			zap.Stringer("slowest", phase),
			zap.Duration("slowest_took", took),
		)
	})

	printSection("ready")
	if netServer != nil {
		printReady(fmt.Sprintf("peers on %s", netServer.Addr().String()))
	}
	if obs != nil {
		printReady(fmt.Sprintf("observer on ws://%s%s", cfg.Observer.BindAddress, cfg.Observer.Path))
	}
	printReady(fmt.Sprintf("tick loop started (tick: %s)", tick))
	fmt.Println()

	last := time.Now()
	for {
		select {
		case now := <-ticker.C:
			runner.Tick(now.Sub(last))
			last = now
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			if netServer != nil {
				netServer.Shutdown()
			}

			sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer scancel()
			if journal != nil {
				journal.Flush()
			}
			if recorder != nil {
				if err := recorder.Close(sctx); err != nil {
					log.Warn("replay close", zap.Error(err))
				}
			}
			if obs != nil {
				if err := obs.Shutdown(sctx); err != nil {
					log.Warn("observer shutdown", zap.Error(err))
				}
			}
			ticks, overrun := runner.Counts()
			log.Info("server stopped",
				zap.Uint64("frames", fl.Frame()),
				zap.Uint64("ticks", ticks),
				zap.Uint64("overrun", overrun),
			)
			return nil
		}
	}
}

func vec(a [3]float64) geom.Vec3 { return geom.Vec3{X: a[0], Y: a[1], Z: a[2]} }

// spawnInstances creates the boot-time instances. Failures are logged and
// skipped; the last instance flagged focus becomes the current one.
func spawnInstances(fl *fleet.Factory, spawns []config.SpawnConfig, log *zap.Logger) int {
	n := 0
	focus := fleet.NoInstance
	for _, s := range spawns {
		bp := vehicle.Blueprint{
			Asset:          s.Asset,
			Position:       vec(s.Pos),
			Heading:        s.Heading,
			FreePosition:   s.FreePosition,
			LockSlideNodes: s.LockSlideNodes,
		}
		if s.BoxMin != nil && s.BoxMax != nil {
			box := geom.NewAABB(vec(*s.BoxMin), vec(*s.BoxMax))
			bp.SpawnBox = &box
		}
		v, err := fl.CreateLocal(bp)
		if err != nil {
			log.Warn("spawn failed", zap.String("asset", s.Asset), zap.Error(err))
			continue
		}
		n++
		if s.Focus {
			focus = v.ID
		}
	}
	if focus != fleet.NoInstance {
		fl.SetCurrent(focus)
	}
	return n
}

func instanceLister(fl *fleet.Factory) observer.Lister {
	return func() []observer.Instance {
		out := make([]observer.Instance, 0, fl.Registry().Len())
		cur := fl.CurrentID()
		fl.Registry().Each(func(v *vehicle.Instance) {
			out = append(out, observer.Instance{
				Slot:      v.ID,
				Asset:     v.Asset,
				State:     v.State.String(),
				Origin:    v.SourceID,
				Stream:    v.StreamID,
				Networked: v.Networked,
				Focus:     v.ID == cur,
			})
		})
		return out
	}
}

func openReplaySink(ctx context.Context, cfg *config.Config, db *persist.DB, log *zap.Logger) (replay.Sink, error) {
	switch cfg.Replay.Sink {
	case "sqlite":
		if err := os.MkdirAll(cfg.Replay.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create replay dir: %w", err)
		}
		return replay.OpenSQLite(filepath.Join(cfg.Replay.Dir, "replay.db"), log)
	case "postgres":
		return persist.BeginReplayRun(ctx, db, cfg.Server.Name)
	default:
		return replay.NewFileSink(cfg.Replay.Dir, cfg.Server.Name), nil
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
