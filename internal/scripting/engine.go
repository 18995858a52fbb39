package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/simfleet/server/internal/vehicle/kinematic"
)

// Engine wraps a single gopher-lua VM running driver scripts.
// Single-goroutine access only (tick loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger

	drive  lua.LValue
	failed int
}

var _ kinematic.Driver = (*Engine)(nil)

// NewEngine creates a Lua engine and loads all scripts from the given directory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	vm.SetGlobal("log_info", vm.NewFunction(e.luaLogInfo))

	// Shared helpers first, then drivers
	for _, sub := range []string{"core", "ai"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}
	e.drive = vm.GetGlobal("drive")
	if e.drive == lua.LNil {
		log.Warn("no lua drive function; AI controls stay idle", zap.String("dir", scriptsDir))
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// DoString runs a chunk in the engine's VM. Used for console commands and
// tests; a redefined drive function takes effect immediately.
func (e *Engine) DoString(src string) error {
	if err := e.vm.DoString(src); err != nil {
		return err
	}
	e.drive = e.vm.GetGlobal("drive")
	return nil
}

// Drive calls the Lua drive(ctx, dt) function. A nil return keeps the
// current controls.
func (e *Engine) Drive(in kinematic.DriverInput, dt float64) (kinematic.Controls, bool) {
	if e.drive == lua.LNil {
		return kinematic.Controls{}, false
	}

	t := e.vm.NewTable()
	t.RawSetString("id", lua.LNumber(in.ID))
	t.RawSetString("asset", lua.LString(in.Asset))
	t.RawSetString("x", lua.LNumber(in.Position.X))
	t.RawSetString("y", lua.LNumber(in.Position.Y))
	t.RawSetString("z", lua.LNumber(in.Position.Z))
	t.RawSetString("vx", lua.LNumber(in.Velocity.X))
	t.RawSetString("vz", lua.LNumber(in.Velocity.Z))
	t.RawSetString("heading", lua.LNumber(in.Heading))
	t.RawSetString("speed", lua.LNumber(in.Speed))

	if err := e.vm.CallByParam(lua.P{
		Fn:      e.drive,
		NRet:    1,
		Protect: true,
	}, t, lua.LNumber(dt)); err != nil {
		e.failed++
		if e.failed == 1 || e.failed%1000 == 0 {
			e.log.Error("lua drive error", zap.Error(err), zap.Int("slot", in.ID), zap.Int("failures", e.failed))
		}
		return kinematic.Controls{}, false
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		return kinematic.Controls{}, false
	}
	return kinematic.Controls{
		Throttle: lNum(rt, "throttle"),
		Brake:    lNum(rt, "brake"),
		Steer:    lNum(rt, "steer"),
	}, true
}

// Failures returns the number of drive calls that raised a Lua error.
func (e *Engine) Failures() int { return e.failed }

func (e *Engine) luaLogInfo(L *lua.LState) int {
	e.log.Info("lua", zap.String("msg", L.CheckString(1)))
	return 0
}

// --- Lua helpers ---

// lNum reads a number field from a Lua table.
func lNum(t *lua.LTable, key string) float64 {
	return float64(lua.LVAsNumber(t.RawGetString(key)))
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
