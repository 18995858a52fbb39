package scripting

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/simfleet/server/internal/geom"
	"github.com/simfleet/server/internal/vehicle/kinematic"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDriveFromScriptDir(t *testing.T) {
	root := t.TempDir()
	writeScript(t, filepath.Join(root, "core"), "util.lua", `
function clamp(x, lo, hi)
  if x < lo then return lo end
  if x > hi then return hi end
  return x
end
`)
	writeScript(t, filepath.Join(root, "ai"), "cruise.lua", `
function drive(ctx, dt)
  if ctx.asset == "parked" then return nil end
  return { throttle = clamp((20 - ctx.speed) / 10, -1, 1), steer = -ctx.x / 100 }
end
`)
	e, err := NewEngine(root, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Close()

	c, ok := e.Drive(kinematic.DriverInput{Asset: "car", Speed: 15, Position: geom.Vec3{X: 10}}, 0.02)
	if !ok {
		t.Fatalf("drive returned no controls")
	}
	if c.Throttle != 0.5 || c.Steer != -0.1 || c.Brake != 0 {
		t.Fatalf("controls=%+v", c)
	}
	if _, ok := e.Drive(kinematic.DriverInput{Asset: "parked"}, 0.02); ok {
		t.Fatalf("nil result should keep controls")
	}
}

func TestMissingDirsAndDriveFunction(t *testing.T) {
	e, err := NewEngine(filepath.Join(t.TempDir(), "none"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Close()
	if _, ok := e.Drive(kinematic.DriverInput{}, 0.02); ok {
		t.Fatalf("drive without script should report no controls")
	}
}

func TestDriveErrorIsContained(t *testing.T) {
	e, err := NewEngine(t.TempDir(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Close()
	if err := e.DoString(`function drive(ctx, dt) error("stalled") end`); err != nil {
		t.Fatalf("do string: %v", err)
	}
	for range 3 {
		if _, ok := e.Drive(kinematic.DriverInput{}, 0.02); ok {
			t.Fatalf("erroring script produced controls")
		}
	}
	if e.Failures() != 3 {
		t.Fatalf("failures=%d want=3", e.Failures())
	}
	if err := e.DoString(`function drive(ctx, dt) return { brake = 1 } end`); err != nil {
		t.Fatalf("do string: %v", err)
	}
	if c, ok := e.Drive(kinematic.DriverInput{}, 0.02); !ok || c.Brake != 1 {
		t.Fatalf("controls=%+v ok=%v", c, ok)
	}
}

func TestBadScriptFailsLoad(t *testing.T) {
	root := t.TempDir()
	writeScript(t, filepath.Join(root, "ai"), "bad.lua", "function drive(")
	if _, err := NewEngine(root, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected load error")
	}
}
