package fleet

import (
	"errors"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/simfleet/server/internal/core/event"
	"github.com/simfleet/server/internal/vehicle"
)

// Limits of a registration record's configuration strings.
const (
	MaxConfigStrings = 10
	MaxConfigLen     = 60
)

// Registration asks for a remote stream to be attached to a new networked
// instance.
type Registration struct {
	Origin int32
	Stream int32
	Asset  string
	Config []string
	Flags  uint32
}

// Deletion detaches one stream of an origin, or all of them when Stream is
// AllStreams.
type Deletion struct {
	Origin int32
	Stream int32
}

// config returns the usable configuration strings: at most MaxConfigStrings,
// stopping at the first empty one, each cut to at most MaxConfigLen bytes on
// a rune boundary.
func (r Registration) config() []string {
	var out []string
	for i, c := range r.Config {
		if i == MaxConfigStrings || c == "" {
			break
		}
		if len(c) > MaxConfigLen {
			n := MaxConfigLen
			for n > 0 && !utf8.RuneStart(c[n]) {
				n--
			}
			c = c[:n]
		}
		out = append(out, c)
	}
	return out
}

// LockStreams takes the stream table lock for a batch of Locked calls.
func (f *Factory) LockStreams()   { f.streams.Lock() }
func (f *Factory) UnlockStreams() { f.streams.Unlock() }

// RegisterLocal files a local instance under the local origin.
func (f *Factory) RegisterLocal(id int) bool {
	f.streams.Lock()
	defer f.streams.Unlock()
	return f.RegisterLocalLocked(id)
}

func (f *Factory) RegisterLocalLocked(id int) bool {
	v, ok := f.reg.Get(id)
	if !ok {
		return false
	}
	v.SourceID = vehicle.LocalOrigin
	v.StreamID = vehicle.LocalStreamOffset + int32(id)
	f.registerLocalLocked(v)
	return true
}

func (f *Factory) registerLocalLocked(v *vehicle.Instance) {
	h, ok := f.reg.Handle(v.ID)
	if !ok {
		return
	}
	f.streams.insertLocked(vehicle.LocalOrigin, v.StreamID, streamEntry{handle: h})
}

// RegisterRemote attaches a remote stream. A key is registered once: a
// repeat gets ErrStreamRegistered, or ErrAssetUnavailable when the key was
// marked unusable. A missing asset marks the key unusable.
func (f *Factory) RegisterRemote(r Registration) (*vehicle.Instance, error) {
	f.streams.Lock()
	defer f.streams.Unlock()
	return f.RegisterRemoteLocked(r)
}

func (f *Factory) RegisterRemoteLocked(r Registration) (*vehicle.Instance, error) {
	if e, ok := f.streams.lookupLocked(r.Origin, r.Stream); ok {
		if e.unusable {
			return nil, ErrAssetUnavailable
		}
		return nil, ErrStreamRegistered
	}
	if !f.assets.IsResourceLoaded(r.Asset) {
		f.streams.insertLocked(r.Origin, r.Stream, streamEntry{unusable: true})
		event.Emit(f.bus, event.StreamUnusable{Origin: r.Origin, Stream: r.Stream, Asset: r.Asset})
		f.log.Warn("remote stream unusable: asset not installed",
			zap.Int32("origin", r.Origin),
			zap.Int32("stream", r.Stream),
			zap.String("asset", r.Asset),
		)
		return nil, ErrAssetUnavailable
	}

	f.sync()
	bp := vehicle.Blueprint{
		Asset:      r.Asset,
		Config:     r.config(),
		Networked:  true,
		Networking: f.opts.Networking,
	}
	bp.ApplySpawnFlags(r.Flags)
	v, err := f.spawnLocked(bp, r.Origin, r.Stream)
	if err != nil {
		return nil, err
	}
	h, _ := f.reg.Handle(v.ID)
	f.streams.insertLocked(r.Origin, r.Stream, streamEntry{handle: h})
	v.Body.UpdateNetworkInfo(v)
	f.log.Info("remote instance attached",
		zap.Int("slot", v.ID),
		zap.Int32("origin", r.Origin),
		zap.Int32("stream", r.Stream),
		zap.String("asset", r.Asset),
	)
	return v, nil
}

// Resolve returns the live instance behind a key. Absent, unusable and stale
// keys all report false.
func (f *Factory) Resolve(origin, stream int32) (*vehicle.Instance, bool) {
	f.streams.Lock()
	defer f.streams.Unlock()
	return f.ResolveLocked(origin, stream)
}

func (f *Factory) ResolveLocked(origin, stream int32) (*vehicle.Instance, bool) {
	e, ok := f.streams.lookupLocked(origin, stream)
	if !ok || e.unusable {
		return nil, false
	}
	return f.reg.Resolve(e.handle)
}

// RebindOrigin makes every stream of oldOrigin reachable under newOrigin as
// well. The instances do not move.
func (f *Factory) RebindOrigin(oldOrigin, newOrigin int32) int {
	f.streams.Lock()
	defer f.streams.Unlock()
	return f.RebindOriginLocked(oldOrigin, newOrigin)
}

func (f *Factory) RebindOriginLocked(oldOrigin, newOrigin int32) int {
	return f.streams.aliasLocked(oldOrigin, newOrigin)
}

// Unregister removes one key, or every key of origin for AllStreams, and
// releases the instances behind them. Returns the number of instances
// released.
func (f *Factory) Unregister(origin, stream int32) int {
	f.streams.Lock()
	defer f.streams.Unlock()
	return f.UnregisterLocked(origin, stream)
}

func (f *Factory) UnregisterLocked(origin, stream int32) int {
	streams := []int32{stream}
	if stream == AllStreams {
		streams = f.streams.streamsLocked(origin)
	}
	n := 0
	for _, s := range streams {
		e, ok := f.streams.deleteLocked(origin, s)
		if !ok || e.unusable {
			continue
		}
		v, ok := f.reg.Resolve(e.handle)
		if !ok {
			continue
		}
		if f.releaseLocked(v.ID) {
			n++
		}
	}
	return n
}

// NetUserAttributesChanged refreshes the network info of a remote stream's
// instance.
func (f *Factory) NetUserAttributesChanged(origin, stream int32) bool {
	f.sync()
	v, ok := f.Resolve(origin, stream)
	if !ok {
		return false
	}
	v.Body.UpdateNetworkInfo(v)
	return true
}

// LocalUserAttributesChanged aliases the local streams under the id the
// session was finally given.
func (f *Factory) LocalUserAttributesChanged(newID int32) int {
	return f.RebindOrigin(vehicle.LocalOrigin, newID)
}

type streamOp struct {
	reg *Registration
	del *Deletion
}

// QueueRegister queues a registration for the next SyncRemoteStreams. Safe
// from any goroutine.
func (f *Factory) QueueRegister(r Registration) {
	f.queueMu.Lock()
	f.queue = append(f.queue, streamOp{reg: &r})
	f.queueMu.Unlock()
}

// QueueDelete queues a deletion for the next SyncRemoteStreams. Safe from
// any goroutine.
func (f *Factory) QueueDelete(d Deletion) {
	f.queueMu.Lock()
	f.queue = append(f.queue, streamOp{del: &d})
	f.queueMu.Unlock()
}

// SyncRemoteStreams applies queued registrations and deletions in arrival
// order under a single table lock. Reports whether any instance was created
// or released.
func (f *Factory) SyncRemoteStreams() bool {
	f.queueMu.Lock()
	ops := f.queue
	f.queue = nil
	f.queueMu.Unlock()
	if len(ops) == 0 {
		return false
	}

	f.streams.Lock()
	defer f.streams.Unlock()
	changed := false
	for _, op := range ops {
		if op.del != nil {
			if f.UnregisterLocked(op.del.Origin, op.del.Stream) > 0 {
				changed = true
			}
			continue
		}
		_, err := f.RegisterRemoteLocked(*op.reg)
		switch {
		case err == nil:
			changed = true
		case errors.Is(err, ErrAssetUnavailable), errors.Is(err, ErrStreamRegistered):
		default:
			f.log.Warn("remote stream registration failed",
				zap.Int32("origin", op.reg.Origin),
				zap.Int32("stream", op.reg.Stream),
				zap.Error(err),
			)
		}
	}
	return changed
}
