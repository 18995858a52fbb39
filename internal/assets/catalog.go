package assets

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/simfleet/server/internal/geom"
)

//go:embed asset.schema.json
var schemaJSON []byte

const schemaURL = "asset.schema.json"

// Part is a collision sub-box relative to the vehicle's reference point.
type Part struct {
	Offset      [3]float64 `yaml:"offset"`
	HalfExtents [3]float64 `yaml:"half_extents"`
}

// Definition describes one spawnable vehicle asset.
type Definition struct {
	Name          string     `yaml:"name"`
	Driveable     string     `yaml:"driveable"`
	HalfExtents   [3]float64 `yaml:"half_extents"`
	Mass          float64    `yaml:"mass"`
	Engine        bool       `yaml:"engine"`
	Rescuer       bool       `yaml:"rescuer"`
	SlideNodeLock bool       `yaml:"slide_node_lock"`
	Wheels        int        `yaml:"wheels"`
	MaxSpeed      float64    `yaml:"max_speed"`
	Parts         []Part     `yaml:"parts"`
}

func (d *Definition) Half() geom.Vec3 {
	return geom.Vec3{X: d.HalfExtents[0], Y: d.HalfExtents[1], Z: d.HalfExtents[2]}
}

// Catalog is the set of locally available assets. Lookups are safe from any
// goroutine; Add is used by tests and hot installs.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewCatalog(defs ...Definition) *Catalog {
	c := &Catalog{defs: make(map[string]*Definition, len(defs))}
	for i := range defs {
		c.Add(defs[i])
	}
	return c
}

// Load reads a YAML asset list and validates it against the catalog schema.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read asset catalog: %w", err)
	}
	return Parse(raw)
}

// Parse validates and decodes a YAML asset list.
func Parse(raw []byte) (*Catalog, error) {
	if err := validate(raw); err != nil {
		return nil, err
	}
	var defs []Definition
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("parse asset catalog: %w", err)
	}
	c := NewCatalog()
	for i := range defs {
		if _, dup := c.defs[defs[i].Name]; dup {
			return nil, fmt.Errorf("asset catalog: duplicate asset %q", defs[i].Name)
		}
		c.Add(defs[i])
	}
	return c, nil
}

func validate(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse asset catalog: %w", err)
	}
	// Round-trip through JSON so the validator sees JSON value types.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("asset catalog to json: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("asset catalog to json: %w", err)
	}
	sch, err := compileSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("asset catalog invalid: %w", err)
	}
	return nil
}

var (
	schemaOnce    sync.Once
	catalogSchema *jsonschema.Schema
	schemaErr     error
)

func compileSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add asset schema: %w", err)
			return
		}
		catalogSchema, schemaErr = c.Compile(schemaURL)
	})
	return catalogSchema, schemaErr
}

func (c *Catalog) Add(d Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d.Mass == 0 {
		d.Mass = 1000
	}
	c.defs[d.Name] = &d
}

// IsResourceLoaded reports whether the named asset can be spawned locally.
func (c *Catalog) IsResourceLoaded(name string) bool {
	_, ok := c.Lookup(name)
	return ok
}

// Lookup returns the named definition, or nil if it is not installed.
func (c *Catalog) Lookup(name string) (*Definition, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[name]
	return d, ok
}

// Names returns the installed asset names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.defs))
	for n := range c.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.defs)
}
