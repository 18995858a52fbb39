package handler

import (
	"github.com/simfleet/server/internal/core/event"
	"github.com/simfleet/server/internal/net"
	"github.com/simfleet/server/internal/net/packet"
	"github.com/simfleet/server/internal/vehicle"
)

// Broadcaster publishes this server's local streams to every authenticated
// peer. All methods run on the tick goroutine.
type Broadcaster struct {
	sessions *net.SessionStore
	localID  int32
}

var _ vehicle.Broadcaster = (*Broadcaster)(nil)

func NewBroadcaster(sessions *net.SessionStore, localID int32) *Broadcaster {
	return &Broadcaster{sessions: sessions, localID: localID}
}

// Subscribe announces local spawns and removals to peers.
func (b *Broadcaster) Subscribe(bus *event.Bus) {
	event.Subscribe(bus, func(ev event.InstanceSpawned) {
		if ev.Networked || ev.SourceID != vehicle.LocalOrigin {
			return
		}
		b.toPeers(registrationPacket(b.localID, ev.StreamID, ev.Asset, nil, 0))
	})
	event.Subscribe(bus, func(ev event.InstanceRemoved) {
		if ev.SourceID != vehicle.LocalOrigin {
			return
		}
		w := packet.NewWriterWithOpcode(packet.S_OPCODE_STREAM_DELETE)
		w.WriteD(b.localID)
		w.WriteD(ev.StreamID)
		b.toPeers(w.Bytes())
	})
}

// BroadcastStream sends S_STREAM_DATA.
// Format: [D origin][D stream][F time][F x][F y][F z][F vx][F vy][F vz][F heading].
func (b *Broadcaster) BroadcastStream(s vehicle.StreamState) {
	if b.sessions.Len() == 0 {
		return
	}
	origin := s.Origin
	if origin == vehicle.LocalOrigin {
		origin = b.localID
	}
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_STREAM_DATA)
	w.WriteD(origin)
	w.WriteD(s.Stream)
	w.WriteF(s.Time)
	w.WriteVec3(s.Position)
	w.WriteVec3(s.Velocity)
	w.WriteF(s.Heading)
	b.toPeers(w.Bytes())
}

func (b *Broadcaster) toPeers(data []byte) {
	b.sessions.ForEach(func(sess *net.Session) {
		if sess.State() == packet.StateAuthenticated {
			sess.Send(data)
		}
	})
}
