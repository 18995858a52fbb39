package fleet

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/simfleet/server/internal/geom"
	"github.com/simfleet/server/internal/vehicle"
)

var (
	// ErrAmbiguousRegion is returned when more than one instance is inside
	// the queried region.
	ErrAmbiguousRegion = errors.New("more than one instance in region")
	// ErrNoInstanceInRegion is returned when the region is empty.
	ErrNoInstanceInRegion = errors.New("no instance in region")
)

// RegionQuery answers whether a point lies inside a named trigger region of
// a named object instance.
type RegionQuery interface {
	PointInRegion(p geom.Vec3, instance, region string) bool
}

// FindInsideRegion returns the single instance whose reference position lies
// in the region.
func (f *Factory) FindInsideRegion(instance, region string) (int, error) {
	if f.regions == nil {
		return NoInstance, ErrNoInstanceInRegion
	}
	f.sync()
	found := NoInstance
	ambiguous := false
	f.reg.Each(func(v *vehicle.Instance) {
		if ambiguous || !f.regions.PointInRegion(v.Position, instance, region) {
			return
		}
		if found != NoInstance {
			ambiguous = true
			return
		}
		found = v.ID
	})
	switch {
	case ambiguous:
		f.log.Info("region query ambiguous",
			zap.String("instance", instance),
			zap.String("region", region),
		)
		return NoInstance, ErrAmbiguousRegion
	case found == NoInstance:
		return NoInstance, ErrNoInstanceInRegion
	}
	return found, nil
}

// RepairInRegion resets the instance inside the region.
func (f *Factory) RepairInRegion(instance, region string, keepPosition bool) bool {
	id, err := f.FindInsideRegion(instance, region)
	if err != nil {
		return false
	}
	v, _ := f.reg.Get(id)
	v.Body.Reset(v, keepPosition)
	return true
}

// RemoveInRegion releases the instance inside the region.
func (f *Factory) RemoveInRegion(instance, region string) bool {
	id, err := f.FindInsideRegion(instance, region)
	if err != nil {
		return false
	}
	return f.Release(id)
}

// Region is one named trigger box.
type Region struct {
	Instance string
	Name     string
	Box      geom.AABB
}

// BoxRegions is a RegionQuery over a fixed set of boxes.
type BoxRegions struct {
	mu    sync.RWMutex
	boxes map[regionKey]geom.AABB
}

type regionKey struct {
	instance string
	name     string
}

func NewBoxRegions(regions ...Region) *BoxRegions {
	r := &BoxRegions{boxes: make(map[regionKey]geom.AABB, len(regions))}
	for _, reg := range regions {
		r.Set(reg)
	}
	return r
}

func (r *BoxRegions) Set(reg Region) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boxes[regionKey{instance: reg.Instance, name: reg.Name}] = reg.Box
}

func (r *BoxRegions) PointInRegion(p geom.Vec3, instance, region string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.boxes[regionKey{instance: instance, name: region}]
	return ok && b.Contains(p)
}
